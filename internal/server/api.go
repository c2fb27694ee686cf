package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	"github.com/kiesman99/zoomtile/internal/tilecache"
	"github.com/kiesman99/zoomtile/internal/viewer"
)

// HealthStatus values.
const (
	Healthy = "healthy"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    *int      `json:"uptime,omitempty"`
	Version   *string   `json:"version,omitempty"`
	Session   string    `json:"session"`
}

// StateResponse describes the current viewer frame.
type StateResponse struct {
	Session string          `json:"session"`
	Info    string          `json:"info"`
	Frame   viewer.Frame    `json:"frame"`
	Stats   tilecache.Stats `json:"stats"`
}

// ResizeRequest is the body of POST /resize.
type ResizeRequest struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// AnimateRequest is the body of POST /animate. Zero Scale keeps the current
// scale.
type AnimateRequest struct {
	Scale    float64 `json:"scale"`
	OffsetX  float64 `json:"offset_x"`
	OffsetY  float64 `json:"offset_y"`
	Rotation float64 `json:"rotation"`
	Animate  *bool   `json:"animate,omitempty"`
}

// ErrorResponse is the body of every error.
type ErrorResponse struct {
	Error     string          `json:"error"`
	Message   string          `json:"message"`
	RequestId *string         `json:"request_id,omitempty"`
	Details   *map[string]any `json:"details,omitempty"`
}

// GetFrameParams are the query parameters of GET /frame.png.
type GetFrameParams struct {
	// WaitMs waits up to this many milliseconds for pending tiles.
	WaitMs *int `form:"wait_ms,omitempty" json:"wait_ms,omitempty"`
	// Format is png (default) or jpeg.
	Format *string `form:"format,omitempty" json:"format,omitempty"`
}

// ListTilesParams are the query parameters of GET /tiles.
type ListTilesParams struct {
	// State filters by tile state (pending, loading, ready, failed).
	State *string `form:"state,omitempty" json:"state,omitempty"`
}

// ServerInterface lists the API operations.
type ServerInterface interface {
	// (GET /health)
	GetHealth(w http.ResponseWriter, r *http.Request)
	// (GET /state)
	GetState(w http.ResponseWriter, r *http.Request)
	// (POST /gesture)
	PostGesture(w http.ResponseWriter, r *http.Request)
	// (POST /resize)
	PostResize(w http.ResponseWriter, r *http.Request)
	// (POST /animate)
	PostAnimate(w http.ResponseWriter, r *http.Request)
	// (GET /frame.png)
	GetFrame(w http.ResponseWriter, r *http.Request, params GetFrameParams)
	// (GET /tiles)
	ListTiles(w http.ResponseWriter, r *http.Request, params ListTilesParams)
}

// ParamError reports a query parameter that could not be bound.
type ParamError struct {
	ParamName string
	Err       error
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid format for parameter %s: %v", e.ParamName, e.Err)
}

func (e *ParamError) Unwrap() error {
	return e.Err
}

// ChiServerOptions configures HandlerWithOptions.
type ChiServerOptions struct {
	BaseURL          string
	BaseRouter       chi.Router
	Middlewares      []func(http.Handler) http.Handler
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// serverInterfaceWrapper binds parameters before calling the handlers.
type serverInterfaceWrapper struct {
	handler          ServerInterface
	middlewares      []func(http.Handler) http.Handler
	errorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

func (siw *serverInterfaceWrapper) wrap(h http.Handler) http.Handler {
	for _, middleware := range siw.middlewares {
		h = middleware(h)
	}
	return h
}

func (siw *serverInterfaceWrapper) GetFrame(w http.ResponseWriter, r *http.Request) {
	var params GetFrameParams
	if err := runtime.BindQueryParameter("form", true, false, "wait_ms", r.URL.Query(), &params.WaitMs); err != nil {
		siw.errorHandlerFunc(w, r, &ParamError{ParamName: "wait_ms", Err: err})
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "format", r.URL.Query(), &params.Format); err != nil {
		siw.errorHandlerFunc(w, r, &ParamError{ParamName: "format", Err: err})
		return
	}
	siw.wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.handler.GetFrame(w, r, params)
	})).ServeHTTP(w, r)
}

func (siw *serverInterfaceWrapper) ListTiles(w http.ResponseWriter, r *http.Request) {
	var params ListTilesParams
	if err := runtime.BindQueryParameter("form", true, false, "state", r.URL.Query(), &params.State); err != nil {
		siw.errorHandlerFunc(w, r, &ParamError{ParamName: "state", Err: err})
		return
	}
	siw.wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.handler.ListTiles(w, r, params)
	})).ServeHTTP(w, r)
}

func (siw *serverInterfaceWrapper) plain(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		siw.wrap(h).ServeHTTP(w, r)
	}
}

// HandlerWithOptions mounts si on a chi router.
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter
	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = func(w http.ResponseWriter, r *http.Request, err error) {
			writeError(w, http.StatusBadRequest, "INVALID_PARAMETER", err.Error(), nil, nil)
		}
	}
	wrapper := serverInterfaceWrapper{
		handler:          si,
		middlewares:      options.Middlewares,
		errorHandlerFunc: options.ErrorHandlerFunc,
	}

	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/health", wrapper.plain(si.GetHealth))
		r.Get(options.BaseURL+"/state", wrapper.plain(si.GetState))
		r.Post(options.BaseURL+"/gesture", wrapper.plain(si.PostGesture))
		r.Post(options.BaseURL+"/resize", wrapper.plain(si.PostResize))
		r.Post(options.BaseURL+"/animate", wrapper.plain(si.PostAnimate))
		r.Get(options.BaseURL+"/frame.png", wrapper.GetFrame)
		r.Get(options.BaseURL+"/tiles", wrapper.ListTiles)
	})
	return r
}
