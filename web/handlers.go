package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"time"

	"greenscreen-camera/asset"
	"greenscreen-camera/camera"
	"greenscreen-camera/config"
	"greenscreen-camera/filter"
	"greenscreen-camera/pipeline"
	"greenscreen-camera/preview"
	"greenscreen-camera/render"

	"go.uber.org/zap"

	// decoders for uploaded stills
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Handlers manages HTTP request handlers
type Handlers struct {
	config   *config.Config
	logger   *zap.Logger
	pipeline *pipeline.Pipeline

	cameraManager *camera.Manager
	encoder       *preview.Encoder
	streamer      *preview.Streamer
	hub           *PreviewHub

	startTime time.Time
}

// parametersRequest is the body of POST /api/filter/parameters. color_hex
// is accepted as an alternative to the [r,g,b] color array.
type parametersRequest struct {
	filter.Update
	ColorHex *string `json:"color_hex,omitempty"`
}

type outputSizeRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// NewHandlers creates a new handlers instance
func NewHandlers(cfg *config.Config, p *pipeline.Pipeline, logger *zap.Logger) *Handlers {
	return &Handlers{
		config:    cfg,
		logger:    logger,
		pipeline:  p,
		startTime: time.Now(),
	}
}

// SetCameraManager sets the camera manager
func (h *Handlers) SetCameraManager(manager *camera.Manager) {
	h.cameraManager = manager
}

// SetPreview sets the preview components reported by the stats endpoint
func (h *Handlers) SetPreview(encoder *preview.Encoder, streamer *preview.Streamer, hub *PreviewHub) {
	h.encoder = encoder
	h.streamer = streamer
	h.hub = hub
}

// HandleHome lists the API
func (h *Handlers) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	h.writeJSONResponse(w, map[string]interface{}{
		"service": "greenscreen-camera",
		"endpoints": []string{
			"POST /api/filter/enable",
			"POST /api/filter/disable",
			"GET|POST /api/filter/parameters",
			"POST /api/output-size",
			"POST /api/still",
			"GET /api/still/last",
			"GET /api/stats",
			"GET /api/config",
			"GET /health",
			"GET /ws/preview",
		},
	})
}

// HandleFilterEnable selects the chroma-key filter
func (h *Handlers) HandleFilterEnable(w http.ResponseWriter, r *http.Request) {
	if !h.requirePost(w, r) {
		return
	}
	if err := h.pipeline.EnableFilter(); err != nil {
		h.writePipelineError(w, "enable filter", err)
		return
	}
	h.logger.Info("Filter enabled")
	h.writeJSONResponse(w, map[string]interface{}{"action": "enable_filter", "success": true})
}

// HandleFilterDisable selects the passthrough filter
func (h *Handlers) HandleFilterDisable(w http.ResponseWriter, r *http.Request) {
	if !h.requirePost(w, r) {
		return
	}
	if err := h.pipeline.DisableFilter(); err != nil {
		h.writePipelineError(w, "disable filter", err)
		return
	}
	h.logger.Info("Filter disabled")
	h.writeJSONResponse(w, map[string]interface{}{"action": "disable_filter", "success": true})
}

// HandleFilterParameters returns the parameters on GET and merges a
// partial update on POST
func (h *Handlers) HandleFilterParameters(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.writeJSONResponse(w, h.pipeline.Parameters())
		return
	case http.MethodPost:
	default:
		h.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req parametersRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64*1024)).Decode(&req); err != nil {
		h.writeErrorResponse(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.ColorHex != nil {
		c, err := config.ParseHexColor(*req.ColorHex)
		if err != nil {
			h.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		color := filter.ColorFromRGB8(c.R, c.G, c.B)
		req.Color = &color
	}

	if err := h.pipeline.UpdateParameters(req.Update); err != nil {
		h.writePipelineError(w, "update parameters", err)
		return
	}
	h.writeJSONResponse(w, h.pipeline.Parameters())
}

// HandleOutputSize resizes the display target
func (h *Handlers) HandleOutputSize(w http.ResponseWriter, r *http.Request) {
	if !h.requirePost(w, r) {
		return
	}

	var req outputSizeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		h.writeErrorResponse(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.Width <= 0 || req.Height <= 0 {
		h.writeErrorResponse(w, fmt.Sprintf("Invalid output size %dx%d", req.Width, req.Height), http.StatusBadRequest)
		return
	}
	if err := h.pipeline.SetOutputSize(req.Width, req.Height); err != nil {
		h.writePipelineError(w, "set output size", err)
		return
	}
	h.writeJSONResponse(w, req)
}

// HandleStill filters the uploaded image through the off-screen target and
// responds with the result as PNG
func (h *Handlers) HandleStill(w http.ResponseWriter, r *http.Request) {
	if !h.requirePost(w, r) {
		return
	}

	limit := int64(h.config.Limits.MaxPayloadSizeMB) * 1024 * 1024
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeErrorResponse(w, fmt.Sprintf("Image exceeds %d bytes", maxErr.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		h.writeErrorResponse(w, fmt.Sprintf("Failed to read image: %v", err), http.StatusBadRequest)
		return
	}

	// The header is checked before any pixel memory is allocated
	img, format, err := asset.Decode(bytes.NewReader(data), h.config.Limits.MaxImagePixels)
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, asset.ErrTooLarge) {
			code = http.StatusRequestEntityTooLarge
		}
		h.writeErrorResponse(w, fmt.Sprintf("Invalid image: %v", err), code)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(h.config.Timeouts.StillTimeout)*time.Millisecond)
	defer cancel()

	start := time.Now()
	result, err := h.pipeline.FilterStillImageSync(ctx, img)
	if err != nil {
		h.writePipelineError(w, "filter still", err)
		return
	}
	h.logger.Info("Still image filtered",
		zap.String("format", format),
		zap.Int("width", result.Rect.Dx()),
		zap.Int("height", result.Rect.Dy()),
		zap.Duration("duration", time.Since(start)))
	h.writePNG(w, result)
}

// HandleStillLast returns the most recent filtered still
func (h *Handlers) HandleStillLast(w http.ResponseWriter, r *http.Request) {
	img := h.pipeline.GetLastFilteredResult()
	if img == nil {
		h.writeErrorResponse(w, "No still has been filtered yet", http.StatusNotFound)
		return
	}
	h.writePNG(w, img)
}

// HandleAPIConfig returns the current configuration
func (h *Handlers) HandleAPIConfig(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, h.config)
}

// HandleAPIStats returns comprehensive statistics
func (h *Handlers) HandleAPIStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"timestamp": time.Now().Unix(),
		"pipeline":  h.pipeline.Stats(),
	}

	if h.cameraManager != nil {
		stats["camera"] = h.cameraManager.GetStatus()
	}
	if h.encoder != nil {
		stats["preview_encoder"] = h.encoder.Stats()
	}
	if h.streamer != nil {
		stats["rtp"] = h.streamer.GetStats()
	}
	if h.hub != nil {
		stats["websocket"] = h.hub.GetStats()
	}

	h.writeJSONResponse(w, stats)
}

// HandleHealth returns health check information
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	engine := h.pipeline.Engine()
	services := map[string]interface{}{
		"web_server":    "running",
		"render_engine": "stopped",
	}
	status, code := "ok", http.StatusOK
	if engine.Running() {
		services["render_engine"] = "running"
	} else {
		status, code = "degraded", http.StatusServiceUnavailable
		if err := engine.Err(); err != nil {
			services["render_error"] = err.Error()
		}
	}
	if h.cameraManager != nil {
		services["camera"] = "stopped"
		if h.cameraManager.IsRunning() {
			services["camera"] = "running"
		}
	}

	h.writeJSONResponseStatus(w, code, map[string]interface{}{
		"status":         status,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(h.startTime).Seconds(),
		"services":       services,
	})
}

func (h *Handlers) requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		h.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// writePipelineError maps pipeline errors onto status codes
func (h *Handlers) writePipelineError(w http.ResponseWriter, action string, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, filter.ErrInvalidParameters), errors.Is(err, render.ErrEmptyImage):
		code = http.StatusBadRequest
	case errors.Is(err, render.ErrCaptureInProgress):
		code = http.StatusConflict
	case pipeline.IsUnavailable(err):
		code = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}
	if code >= http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("action", action), zap.Error(err))
	}
	h.writeErrorResponse(w, fmt.Sprintf("Failed to %s: %v", action, err), code)
}

func (h *Handlers) writePNG(w http.ResponseWriter, img image.Image) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		h.logger.Error("Failed to encode PNG", zap.Error(err))
		h.writeErrorResponse(w, "Failed to encode image", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, data interface{}) {
	h.writeJSONResponseStatus(w, http.StatusOK, data)
}

func (h *Handlers) writeJSONResponseStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	h.writeJSONResponseStatus(w, statusCode, map[string]interface{}{
		"error":  message,
		"status": statusCode,
	})
}
