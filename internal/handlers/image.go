package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"net/http"
	"strconv"
	"time"

	"netimage/internal/decode"
	"netimage/internal/fetch"
	"netimage/internal/pipeline"
	"netimage/internal/stats"
	"netimage/pkg/logging/logging"

	"go.uber.org/zap"
)

// Loader schedules an image load. *pipeline.Pipeline implements it.
type Loader interface {
	Load(ctx context.Context, req pipeline.Request, sink pipeline.Sink) error
}

// ImageHandler holds dependencies for the /v1/images endpoint.
type ImageHandler struct {
	Loader Loader
	// Fetcher builds the network call from the bare URL; the cache key
	// also carries the requested size.
	Fetcher fetch.Fetcher
	Tracker *stats.LatencyTracker

	// JPEGQuality applies to output=jpeg (default: 90).
	JPEGQuality int
}

func NewImageHandler(loader Loader, fetcher fetch.Fetcher, tracker *stats.LatencyTracker) *ImageHandler {
	return &ImageHandler{
		Loader:      loader,
		Fetcher:     fetcher,
		Tracker:     tracker,
		JPEGQuality: 90,
	}
}

// GetImage handles GET /v1/images?url=&w=&h=&scale=&format=&output=.
// The image is loaded through the pipeline and re-encoded: rasters as PNG
// (or JPEG with output=jpeg), animations as GIF.
func (h *ImageHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	req, output, err := parseImageRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.Fetcher == nil {
		logging.L(ctx).Error("image handler has no fetcher")
		writeError(w, http.StatusInternalServerError, "internal_server_error")
		return
	}
	if req.Call, err = h.Fetcher.NewCall(req.Key); err != nil {
		writeError(w, http.StatusBadRequest, "url must be an absolute http(s) URL")
		return
	}
	req.Key = cacheKey(req)
	ctx = logging.WithFields(ctx,
		zap.Int("max_width", req.MaxWidth),
		zap.Int("max_height", req.MaxHeight),
		zap.Stringer("scale", req.Scale),
	)
	logger := logging.L(ctx)

	sink := pipeline.NewChanSink()
	if err := h.Loader.Load(ctx, req, sink); err != nil {
		if pipeline.IsKind(err, pipeline.KindPoolSaturated) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusServiceUnavailable, "busy")
			return
		}
		logger.Error("load not scheduled", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_server_error")
		return
	}

	var res pipeline.Result
	select {
	case res = <-sink:
	case <-ctx.Done():
		// The load keeps running and still fills the caches.
		logger.Warn("client gave up before delivery", zap.Error(ctx.Err()))
		writeError(w, http.StatusGatewayTimeout, "timeout")
		return
	}

	if res.Err != nil {
		status := statusFor(res.Err)
		logger.Info("image_response",
			zap.String("cache_key", req.Key),
			zap.Int("status", status),
			zap.Error(res.Err),
			zap.Duration("total_latency_ms", time.Since(start)),
		)
		writeError(w, status, errorCode(status))
		return
	}

	var (
		buf         bytes.Buffer
		contentType string
	)
	switch {
	case res.Animated != nil:
		contentType = "image/gif"
		err = gif.EncodeAll(&buf, res.Animated.GIF)
	case output == "jpeg":
		contentType = "image/jpeg"
		err = jpeg.Encode(&buf, res.Raster, &jpeg.Options{Quality: h.jpegQuality()})
	default:
		contentType = "image/png"
		err = png.Encode(&buf, res.Raster)
	}
	if err != nil {
		logger.Error("encode response", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_server_error")
		return
	}

	logger.Info("image_response",
		zap.String("cache_key", req.Key),
		zap.String("content_type", contentType),
		zap.Int("size_bytes", buf.Len()),
		zap.Stringer("bounds", bounds(res)),
		zap.Duration("total_latency_ms", time.Since(start)),
	)

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// LatencyStats handles GET /debug/latency.
func (h *ImageHandler) LatencyStats(w http.ResponseWriter, r *http.Request) {
	all := h.Tracker.GetAllStats()
	if all == nil {
		all = []stats.Stats{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"stages": all})
}

func (h *ImageHandler) jpegQuality() int {
	if h.JPEGQuality <= 0 || h.JPEGQuality > 100 {
		return 90
	}
	return h.JPEGQuality
}

func parseImageRequest(r *http.Request) (pipeline.Request, string, error) {
	q := r.URL.Query()

	req := pipeline.Request{Key: q.Get("url")}
	if req.Key == "" {
		return req, "", errors.New("url is required")
	}

	var err error
	if req.MaxWidth, err = parseDimension(q.Get("w")); err != nil {
		return req, "", errors.New("w must be a non-negative integer")
	}
	if req.MaxHeight, err = parseDimension(q.Get("h")); err != nil {
		return req, "", errors.New("h must be a non-negative integer")
	}
	if req.Scale, err = decode.ParseScaleType(q.Get("scale")); err != nil {
		return req, "", err
	}
	if req.Format, err = decode.ParsePixelFormat(q.Get("format")); err != nil {
		return req, "", err
	}

	output := q.Get("output")
	switch output {
	case "", "png":
		output = "png"
	case "jpeg", "jpg":
		output = "jpeg"
	default:
		return req, "", errors.New("output must be png or jpeg")
	}
	return req, output, nil
}

// cacheKey derives the cache key from the URL and everything that shapes
// the decoded raster, so each size of an image is cached separately.
func cacheKey(req pipeline.Request) string {
	return "#W" + strconv.Itoa(req.MaxWidth) +
		"#H" + strconv.Itoa(req.MaxHeight) +
		"#S" + req.Scale.String() +
		"#F" + req.Format.String() +
		"#" + req.Key
}

func parseDimension(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("invalid dimension")
	}
	return n, nil
}

func statusFor(err error) int {
	switch {
	case pipeline.IsKind(err, pipeline.KindNetwork):
		return http.StatusBadGateway
	case pipeline.IsKind(err, pipeline.KindDecode):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadGateway:
		return "upstream_error"
	case http.StatusUnprocessableEntity:
		return "undecodable_image"
	default:
		return "internal_server_error"
	}
}

func bounds(res pipeline.Result) image.Rectangle {
	if res.Animated != nil {
		return image.Rect(0, 0, res.Animated.Width, res.Animated.Height)
	}
	return res.Raster.Bounds()
}

// writeError sends {"error": code}.
func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// writeJSON is a small helper to send JSON responses consistently.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
