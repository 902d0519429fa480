package preview

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func startEncoder(t *testing.T, cfg EncoderConfig) *Encoder {
	t.Helper()
	e := NewEncoder(cfg, zaptest.NewLogger(t))
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop() })
	return e
}

// TestEncoderPublishes tests that offered frames reach subscribers as JPEG
func TestEncoderPublishes(t *testing.T) {
	e := startEncoder(t, EncoderConfig{Quality: 90})

	frames := make(chan Frame, 4)
	unsubscribe := e.Subscribe(func(f Frame) {
		select {
		case frames <- f:
		default:
		}
	})

	// 70x45 is cropped to 64x40 for RTP/JPEG
	e.Offer(solid(70, 45, color.RGBA{B: 255, A: 255}))

	select {
	case f := <-frames:
		if f.Width != 64 || f.Height != 40 || f.Seq != 1 {
			t.Errorf("frame %dx%d seq %d, want 64x40 seq 1", f.Width, f.Height, f.Seq)
		}
		img, err := jpeg.Decode(bytes.NewReader(f.JPEG))
		if err != nil {
			t.Fatalf("published frame is not a JPEG: %v", err)
		}
		r, g, b, _ := img.At(10, 10).RGBA()
		if b>>8 < 200 || r>>8 > 50 || g>>8 > 50 {
			t.Errorf("decoded pixel = %d,%d,%d, want blue", r>>8, g>>8, b>>8)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame published")
	}

	unsubscribe()
	if e.Stats().Consumers != 0 {
		t.Error("consumer not removed")
	}
	before := e.Stats().Offered
	e.Offer(solid(64, 48, color.RGBA{A: 255}))
	if e.Stats().Offered != before {
		t.Error("frames should be ignored without consumers")
	}
}

// TestEncoderThrottles tests the max fps limit
func TestEncoderThrottles(t *testing.T) {
	e := startEncoder(t, EncoderConfig{MaxFPS: 1})
	e.Subscribe(func(Frame) {})

	img := solid(16, 16, color.RGBA{G: 255, A: 255})
	for i := 0; i < 5; i++ {
		e.Offer(img)
	}

	stats := e.Stats()
	if stats.Offered != 5 || stats.Throttled != 4 {
		t.Errorf("offered %d throttled %d, want 5 and 4", stats.Offered, stats.Throttled)
	}
}

// TestEncoderNeverBlocks tests that a stalled consumer only costs drops
func TestEncoderNeverBlocks(t *testing.T) {
	e := startEncoder(t, EncoderConfig{QueueSize: 1})

	release := make(chan struct{})
	e.Subscribe(func(Frame) { <-release })
	defer close(release)

	img := solid(16, 16, color.RGBA{R: 255, A: 255})
	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			e.Offer(img)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Offer blocked on a stalled consumer")
	}
	if e.Stats().Dropped == 0 {
		t.Error("expected dropped frames")
	}
}

// TestEncoderIgnoresTinyFrames tests frames smaller than one JPEG block
func TestEncoderIgnoresTinyFrames(t *testing.T) {
	if cropCopy(solid(7, 100, color.RGBA{})) != nil {
		t.Error("7 pixel wide frame should be skipped")
	}
	sub := solid(32, 32, color.RGBA{R: 9, A: 255}).SubImage(image.Rect(8, 8, 24, 24)).(*image.RGBA)
	cp := cropCopy(sub)
	if cp.Rect != image.Rect(0, 0, 16, 16) || cp.RGBAAt(0, 0).R != 9 {
		t.Errorf("cropCopy of sub-image = %v", cp.Rect)
	}
}
