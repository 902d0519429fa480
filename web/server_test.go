package web

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"greenscreen-camera/asset"
	"greenscreen-camera/config"
	"greenscreen-camera/filter"
	"greenscreen-camera/gpu/soft"
	"greenscreen-camera/pipeline"
	"greenscreen-camera/preview"
	"greenscreen-camera/render"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	green   = color.RGBA{G: 255, A: 255}
	magenta = color.RGBA{R: 255, B: 255, A: 255}
)

func newTestServer(t *testing.T) (*Server, *pipeline.Pipeline) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	cfg := config.Default()
	cfg.Preview.MaxClients = 1

	p := pipeline.New(pipeline.Options{
		Engine: render.Config{
			Backend:       soft.BackendName,
			DisplayWidth:  32,
			DisplayHeight: 24,
			FPS:           120,
		},
		Resolver: asset.NewMemoryResolver(),
	}, logger)
	require.NoError(t, p.Start())
	t.Cleanup(func() { _ = p.Close() })

	return NewServer(cfg, p, logger), p
}

func do(t *testing.T, h http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestFilterEnableDisable(t *testing.T) {
	s, p := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/filter/enable", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/filter/disable", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/filter/enable", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	require.Eventually(t, func() bool {
		s := p.Stats().Engine.Filter
		return s.Enables == 1 && s.Disables == 1
	}, 5*time.Second, time.Millisecond)
}

func TestFilterParameters(t *testing.T) {
	s, p := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/filter/parameters",
		[]byte(`{"color_hex":"#00ff00","sensitivity":0.3,"background":"studio.png"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got filter.Parameters
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, filter.Color{0, 1, 0}, got.Color)
	assert.True(t, got.ColorSet)
	assert.Equal(t, float32(0.3), got.Sensitivity)
	assert.Equal(t, "studio.png", got.Background)
	assert.Equal(t, got, p.Parameters())

	// partial update keeps the other fields
	rec = do(t, h, http.MethodPost, "/api/filter/parameters", []byte(`{"color":[0,0,1]}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float32(0.3), p.Parameters().Sensitivity)
	assert.Equal(t, filter.Color{0, 0, 1}, p.Parameters().Color)

	rec = do(t, h, http.MethodGet, "/api/filter/parameters", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "studio.png")

	tests := []struct {
		name string
		body string
	}{
		{"out of range", `{"color":[2,0,0]}`},
		{"negative sensitivity", `{"sensitivity":-0.5}`},
		{"bad hex", `{"color_hex":"green"}`},
		{"bad json", `{"color":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/filter/parameters", []byte(tt.body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Equal(t, filter.Color{0, 0, 1}, p.Parameters().Color)
}

func TestOutputSize(t *testing.T) {
	s, p := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/output-size", []byte(`{"width":48,"height":16}`))
	require.Equal(t, http.StatusOK, rec.Code)
	w, hgt := p.OutputSize()
	assert.Equal(t, 48, w)
	assert.Equal(t, 16, hgt)

	rec = do(t, h, http.MethodPost, "/api/output-size", []byte(`{"width":0,"height":16}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStillRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/still/last", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/filter/parameters",
		[]byte(`{"color_hex":"#00ff00","background":"missing.png"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/filter/enable", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/still", encodePNG(t, asset.Solid(12, 10, green)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 12, 10), img.Bounds())
	assert.Equal(t, magenta, color.RGBAModel.Convert(img.At(6, 5)))

	rec = do(t, h, http.MethodGet, "/api/still/last", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/still", []byte("not an image"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// hugePNG declares 60000x60000 pixels in its header and nothing else
func hugePNG() []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], 60000)
	binary.BigEndian.PutUint32(ihdr[4:8], 60000)
	ihdr[8], ihdr[9] = 8, 6

	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(ihdr)))
	buf.Write(n[:])
	buf.WriteString("IHDR")
	buf.Write(ihdr)
	binary.BigEndian.PutUint32(n[:], crc32.ChecksumIEEE(append([]byte("IHDR"), ihdr...)))
	buf.Write(n[:])
	return buf.Bytes()
}

func TestStillRejectsOversizedImages(t *testing.T) {
	s, p := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/still", hugePNG())
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	s.config.Limits.MaxPayloadSizeMB = 1
	rec = do(t, h, http.MethodPost, "/api/still", make([]byte, 2<<20))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	assert.Equal(t, uint64(0), p.Stats().Engine.Capture.Submitted)
}

func TestStatsAndHealth(t *testing.T) {
	s, p := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Contains(t, stats, "pipeline")

	rec = do(t, h, http.MethodGet, "/api/config", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"backend":"software"`)

	rec = do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	require.NoError(t, p.Close())
	rec = do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/filter/enable", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s.Handler(), http.MethodOptions, "/api/still", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPreviewWebSocket(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	defer s.Hub().Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/preview"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.Hub().GetClientCount() == 1 }, 5*time.Second, time.Millisecond)

	// the hub is full at one client
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	kind, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.JSONEq(t, `{"type":"pong"}`, string(msg))

	s.Hub().Broadcast(preview.Frame{JPEG: []byte{0xFF, 0xD8, 0xFF, 0xD9}, Width: 8, Height: 8})
	kind, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF, 0xD9}, msg)

	conn.Close()
	require.Eventually(t, func() bool { return s.Hub().GetClientCount() == 0 }, 5*time.Second, time.Millisecond)
}
