package asset

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileResolver(t *testing.T) {
	dir := t.TempDir()
	img := Solid(8, 4, color.RGBA{R: 10, G: 200, B: 30, A: 255})

	f, err := os.Create(filepath.Join(dir, "bg.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	r := FileResolver{Dir: dir}
	got, err := r.Resolve("bg.png")
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 4), got.Bounds())

	got, err = FileResolver{}.Resolve(filepath.Join(dir, "bg.png"))
	require.NoError(t, err)
	assert.Equal(t, 8, got.Bounds().Dx())
}

func TestFileResolverFailures(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.png"), []byte("not an image"), 0o644))

	tests := []struct {
		name string
		path string
	}{
		{"empty", ""},
		{"missing", "missing.png"},
		{"corrupt", "junk.png"},
	}
	r := FileResolver{Dir: dir}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(tt.path)
			assert.True(t, errors.Is(err, ErrNotAvailable), "got %v", err)
		})
	}
}

func TestFileResolverConfinedToDir(t *testing.T) {
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.png")
	f, err := os.Create(secret)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, Solid(2, 2, color.RGBA{R: 1, A: 255})))
	require.NoError(t, f.Close())

	dir := t.TempDir()
	rel, err := filepath.Rel(dir, secret)
	require.NoError(t, err)

	r := FileResolver{Dir: dir}
	for _, path := range []string{secret, rel, "../secret.png", "sub/../../secret.png"} {
		_, err := r.Resolve(path)
		assert.ErrorIs(t, err, ErrNotAvailable, "path %q", path)
	}

	// Without a directory the path is used as given
	_, err = FileResolver{}.Resolve(secret)
	assert.NoError(t, err)
}

// pngHeader returns a PNG that declares w x h pixels but carries no image data
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	chunk := func(typ string, data []byte) {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(data)))
		buf.Write(n[:])
		buf.WriteString(typ)
		buf.Write(data)
		crc := crc32.NewIEEE()
		crc.Write([]byte(typ))
		crc.Write(data)
		binary.BigEndian.PutUint32(n[:], crc.Sum32())
		buf.Write(n[:])
	}
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], w)
	binary.BigEndian.PutUint32(ihdr[4:8], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // RGBA
	chunk("IHDR", ihdr)
	chunk("IEND", nil)
	return buf.Bytes()
}

func TestDecodeRejectsOversizedHeader(t *testing.T) {
	_, format, err := Decode(bytes.NewReader(pngHeader(60000, 60000)), 0)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Equal(t, "png", format)

	var small bytes.Buffer
	require.NoError(t, png.Encode(&small, Solid(10, 10, color.RGBA{B: 255, A: 255})))
	_, _, err = Decode(bytes.NewReader(small.Bytes()), 99)
	assert.ErrorIs(t, err, ErrTooLarge)

	img, format, err := Decode(bytes.NewReader(small.Bytes()), 100)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, image.Rect(0, 0, 10, 10), img.Bounds())

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "huge.png"), pngHeader(60000, 60000), 0o644))
	_, err = FileResolver{Dir: dir}.Resolve("huge.png")
	assert.ErrorIs(t, err, ErrNotAvailable)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestMemoryResolver(t *testing.T) {
	m := NewMemoryResolver()
	_, err := m.Resolve("bg")
	assert.ErrorIs(t, err, ErrNotAvailable)

	m.Add("bg", Solid(2, 2, color.RGBA{A: 255}))
	img, err := m.Resolve("bg")
	require.NoError(t, err)
	assert.Equal(t, 2, img.Bounds().Dy())
}

func TestPrepareLandscapeCrop(t *testing.T) {
	// left half red, right half blue, twice as wide as the output aspect
	src := image.NewRGBA(image.Rect(0, 0, 40, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 40; x++ {
			c := color.RGBA{R: 255, A: 255}
			if x >= 20 {
				c = color.RGBA{B: 255, A: 255}
			}
			src.SetRGBA(x, y, c)
		}
	}

	out := Prepare(src, 20, 10, Landscape)
	require.NotNil(t, out)
	assert.Equal(t, image.Rect(0, 0, 20, 10), out.Bounds())
	assert.Equal(t, uint8(255), out.RGBAAt(0, 5).R)
	assert.Equal(t, uint8(255), out.RGBAAt(19, 5).B)
}

func TestPrepareScales(t *testing.T) {
	src := Solid(4, 3, color.RGBA{G: 255, A: 255})
	out := Prepare(src, 64, 48, Landscape)
	require.NotNil(t, out)
	assert.Equal(t, 64, out.Rect.Dx())
	assert.Equal(t, 48, out.Rect.Dy())
	assert.Equal(t, color.RGBA{G: 255, A: 255}, out.RGBAAt(32, 24))
}

func TestPreparePortraitRotates(t *testing.T) {
	// top row red, everything else blue
	src := image.NewRGBA(image.Rect(0, 0, 6, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 6; x++ {
			c := color.RGBA{B: 255, A: 255}
			if y == 0 {
				c = color.RGBA{R: 255, A: 255}
			}
			src.SetRGBA(x, y, c)
		}
	}

	out := Prepare(src, 4, 6, Portrait)
	require.NotNil(t, out)
	assert.Equal(t, image.Rect(0, 0, 4, 6), out.Bounds())
	// the top row ends up as the left column after a counter-clockwise turn
	for y := 0; y < 6; y++ {
		assert.Equal(t, uint8(255), out.RGBAAt(0, y).R, "row %d", y)
		assert.Equal(t, uint8(255), out.RGBAAt(3, y).B, "row %d", y)
	}
}

func TestPrepareInvalid(t *testing.T) {
	assert.Nil(t, Prepare(nil, 4, 4, Landscape))
	assert.Nil(t, Prepare(Solid(2, 2, color.RGBA{}), 0, 4, Landscape))
}

func TestSolid(t *testing.T) {
	img := Solid(3, 2, color.RGBA{R: 1, G: 2, B: 3, A: 4})
	for i := 0; i < len(img.Pix); i += 4 {
		assert.Equal(t, []uint8{1, 2, 3, 4}, img.Pix[i:i+4])
	}
}
