// Package server exposes a viewer session over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/kiesman99/zoomtile/internal/logging"
	"github.com/kiesman99/zoomtile/internal/paint"
	"github.com/kiesman99/zoomtile/internal/transform"
	"github.com/kiesman99/zoomtile/internal/viewer"
	"github.com/kiesman99/zoomtile/pkg/geom"
	"github.com/kiesman99/zoomtile/pkg/tile"
)

// maxWait bounds the wait_ms parameter of GET /frame.png.
const maxWait = 30 * time.Second

// Server implements ServerInterface over one viewer session.
type Server struct {
	startTime time.Time
	version   string
	session   *viewer.Session
}

// NewServer creates a new server instance.
func NewServer(session *viewer.Session, version string) *Server {
	return &Server{
		startTime: time.Now(),
		version:   version,
		session:   session,
	}
}

// GetHealth implements the health check endpoint.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	uptime := int(time.Since(s.startTime).Seconds())
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    Healthy,
		Timestamp: time.Now(),
		Uptime:    &uptime,
		Version:   &s.version,
		Session:   s.session.ID,
	})
}

// GetState returns the current frame and cache statistics.
func (s *Server) GetState(w http.ResponseWriter, r *http.Request) {
	requestID := generateRequestID()
	state, err := s.state(r.Context(), nil)
	if err != nil {
		s.handleSessionError(w, err, &requestID)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// PostGesture feeds one gesture event to the viewer.
func (s *Server) PostGesture(w http.ResponseWriter, r *http.Request) {
	requestID := generateRequestID()

	var ev transform.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON",
			fmt.Sprintf("Invalid JSON in request body: %v", err), &requestID, nil)
		return
	}
	if err := validateEvent(ev); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), &requestID, nil)
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	state, err := s.state(r.Context(), func(v *viewer.Viewer) { v.HandleEvent(ev) })
	if err != nil {
		s.handleSessionError(w, err, &requestID)
		return
	}
	w.Header().Set("X-Request-ID", requestID)
	writeJSON(w, http.StatusOK, state)
}

// PostResize changes the container size.
func (s *Server) PostResize(w http.ResponseWriter, r *http.Request) {
	requestID := generateRequestID()

	var req ResizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON in request body", &requestID, nil)
		return
	}
	if !(req.Width > 0) || !(req.Height > 0) || req.Width > 16384 || req.Height > 16384 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR",
			"width and height must be within (0, 16384]", &requestID, nil)
		return
	}

	var resizeErr error
	state, err := s.state(r.Context(), func(v *viewer.Viewer) {
		resizeErr = v.Resize(geom.Sz(req.Width, req.Height), time.Now())
	})
	if err == nil {
		err = resizeErr
	}
	if err != nil {
		s.handleSessionError(w, err, &requestID)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// PostAnimate moves the viewer to an explicit transform.
func (s *Server) PostAnimate(w http.ResponseWriter, r *http.Request) {
	requestID := generateRequestID()

	var req AnimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON in request body", &requestID, nil)
		return
	}
	if req.Scale < 0 || !finite(req.Scale, req.OffsetX, req.OffsetY, req.Rotation) {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "scale must be positive and all values finite", &requestID, nil)
		return
	}
	target := transform.Transform{
		Scale:    req.Scale,
		Offset:   r2.Vec{X: req.OffsetX, Y: req.OffsetY},
		Rotation: req.Rotation,
	}
	animate := req.Animate == nil || *req.Animate

	state, err := s.state(r.Context(), func(v *viewer.Viewer) {
		if animate {
			v.AnimateTo(target, time.Now())
		} else {
			v.JumpTo(target, time.Now())
		}
	})
	if err != nil {
		s.handleSessionError(w, err, &requestID)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// GetFrame renders the current frame as an image.
func (s *Server) GetFrame(w http.ResponseWriter, r *http.Request, params GetFrameParams) {
	requestID := generateRequestID()

	format := "png"
	if params.Format != nil {
		format = *params.Format
	}
	contentType, ok := map[string]string{"png": "image/png", "jpeg": "image/jpeg", "jpg": "image/jpeg"}[format]
	if !ok {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "format must be png or jpeg", &requestID, nil)
		return
	}
	var wait time.Duration
	if params.WaitMs != nil {
		if *params.WaitMs < 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "wait_ms must not be negative", &requestID, nil)
			return
		}
		wait = min(time.Duration(*params.WaitMs)*time.Millisecond, maxWait)
	}

	deadline := time.Now().Add(wait)
	for {
		var (
			frame    viewer.Frame
			snapshot *image.NRGBA
		)
		err := s.session.Do(r.Context(), func(v *viewer.Viewer) {
			frame = v.Frame(time.Now())
			if frame.Pending > 0 && time.Now().Before(deadline) {
				return
			}
			// The canvas is reused between frames.
			snapshot = imaging.Clone(v.Paint(frame))
		})
		if err != nil {
			s.handleSessionError(w, err, &requestID)
			return
		}
		if snapshot != nil {
			s.writeFrame(w, frame, snapshot, format, contentType, requestID)
			return
		}
		select {
		case <-r.Context().Done():
			s.handleSessionError(w, r.Context().Err(), &requestID)
			return
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func (s *Server) writeFrame(w http.ResponseWriter, frame viewer.Frame, img image.Image, format, contentType, requestID string) {
	var buf bytes.Buffer
	if err := paint.Encode(&buf, img, format); err != nil {
		writeError(w, http.StatusInternalServerError, "ENCODE_ERROR", err.Error(), &requestID, nil)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Request-ID", requestID)
	w.Header().Set("X-Frame-Info", frame.Info())
	w.Header().Set("X-Pending-Tiles", strconv.Itoa(frame.Pending))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		logging.Logger().Error("server: write frame", "err", err)
	}
}

// ListTiles lists the tiles tracked by the cache.
func (s *Server) ListTiles(w http.ResponseWriter, r *http.Request, params ListTilesParams) {
	requestID := generateRequestID()

	var tiles []viewer.TileInfo
	err := s.session.Do(r.Context(), func(v *viewer.Viewer) { tiles = v.Tiles() })
	if err != nil {
		s.handleSessionError(w, err, &requestID)
		return
	}
	if params.State != nil {
		filtered := tiles[:0]
		for _, t := range tiles {
			if t.State == *params.State {
				filtered = append(filtered, t)
			}
		}
		tiles = filtered
	}
	if tiles == nil {
		tiles = []viewer.TileInfo{}
	}
	writeJSON(w, http.StatusOK, tiles)
}

// state optionally runs fn and then builds a fresh frame, both on the
// session goroutine.
func (s *Server) state(ctx context.Context, fn func(*viewer.Viewer)) (StateResponse, error) {
	var out StateResponse
	err := s.session.Do(ctx, func(v *viewer.Viewer) {
		if fn != nil {
			fn(v)
		}
		f := v.Frame(time.Now())
		out = StateResponse{
			Session: s.session.ID,
			Info:    f.Info(),
			Frame:   f,
			Stats:   v.Stats(),
		}
	})
	return out, err
}

func validateEvent(ev transform.Event) error {
	if ev.Scale < 0 {
		return fmt.Errorf("scale must not be negative")
	}
	if !finite(ev.Scale, ev.Rotation, ev.Pan.X, ev.Pan.Y, ev.Focal.X, ev.Focal.Y, ev.Velocity.X, ev.Velocity.Y) {
		return fmt.Errorf("event values must be finite")
	}
	return nil
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// handleSessionError maps viewer and context errors to responses.
func (s *Server) handleSessionError(w http.ResponseWriter, err error, requestID *string) {
	var gerr *tile.GeometryError
	switch {
	case errors.Is(err, tile.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "SESSION_CLOSED", "The viewer session has stopped", requestID, nil)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "TIMEOUT", "The viewer did not respond in time", requestID, nil)
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "CANCELED", "Request canceled", requestID, nil)
	case errors.As(err, &gerr):
		writeError(w, http.StatusUnprocessableEntity, "DEGENERATE_GEOMETRY", err.Error(), requestID, map[string]any{
			"container_width":  gerr.ContainerWidth,
			"container_height": gerr.ContainerHeight,
		})
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", requestID, nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Logger().Error("server: encode response", "err", err)
	}
}

// writeError writes a standard error response.
func writeError(w http.ResponseWriter, statusCode int, errorCode, message string, requestID *string, details map[string]any) {
	response := ErrorResponse{
		Error:     errorCode,
		Message:   message,
		RequestId: requestID,
	}
	if details != nil {
		response.Details = &details
	}
	writeJSON(w, statusCode, response)
}

// generateRequestID generates a unique request ID.
func generateRequestID() string {
	return "req_" + uuid.NewString()
}
