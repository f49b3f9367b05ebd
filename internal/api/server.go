// Package api serves the sinkcam HTTP API: relay status and control, logs,
// server-sent events and Prometheus metrics.
package api

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/smazurov/sinkcam/internal/api/models"
	"github.com/smazurov/sinkcam/internal/camera"
	"github.com/smazurov/sinkcam/internal/convert"
	"github.com/smazurov/sinkcam/internal/events"
	"github.com/smazurov/sinkcam/internal/frame"
	"github.com/smazurov/sinkcam/internal/logging"
	"github.com/smazurov/sinkcam/internal/version"
)

const authRealm = `Basic realm="sinkcam API"`

// Camera is the part of the virtual camera the API controls.
type Camera interface {
	Status() camera.Status
	Format() frame.Format
	SetWarningText(text, source string)
	ClearWarningText(source string)
	SetDepthParams(p convert.DepthParams, source string) error
	DepthParams() convert.DepthParams
}

// Options configures the API server.
type Options struct {
	AuthUsername   string
	AuthPassword   string
	Camera         Camera
	EventBus       *events.Bus
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

// Server is the Huma API server.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	camera     Camera
	eventBus   *events.Bus
	logger     *slog.Logger
	username   string
	password   string
}

// NewServer creates the API server and registers every route.
func NewServer(opts *Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("api")
	}

	mux := http.NewServeMux()
	corsConfig := DefaultCORSConfig()
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("sinkcam API", version.String())
	config.Info.Description = "Virtual camera relay: producers in, converted frames out"
	config.Servers = []*huma.Server{}

	authEnabled := opts.AuthUsername != "" && opts.AuthPassword != ""
	if authEnabled {
		config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
			"basicAuth": {Type: "http", Scheme: "basic"},
		}
		config.Security = withAuth()
	}

	api := humago.New(mux, config)
	s := &Server{
		api:      api,
		mux:      mux,
		camera:   opts.Camera,
		eventBus: opts.EventBus,
		logger:   logger,
	}
	if authEnabled {
		s.username, s.password = opts.AuthUsername, opts.AuthPassword
	}

	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(NewLoggingMiddleware(logging.GetLogger("http")))
	if authEnabled {
		api.UseMiddleware(s.basicAuthMiddleware())
	}

	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	}

	s.registerRoutes()
	return s
}

// Mux returns the underlying ServeMux for routes registered outside Huma.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// API returns the Huma API instance.
func (s *Server) API() huma.API {
	return s.api
}

// Handler returns the root handler. Websocket routes are registered on the
// mux outside Huma and get the same credential check here.
func (s *Server) Handler() http.Handler {
	if s.username == "" {
		return s.mux
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/ws/") {
			if msg, err := s.checkCredentials(r.Header.Get("Authorization"), r.URL.Query().Get("auth")); msg != "" {
				if err != nil {
					s.logger.Debug("Rejected websocket credentials", "error", err)
				}
				w.Header().Set("WWW-Authenticate", authRealm)
				http.Error(w, msg, http.StatusUnauthorized)
				return
			}
		}
		s.mux.ServeHTTP(w, r)
	})
}

// Start listens on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting sinkcam API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Stop closes the listener and every open connection.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"system"},
		Security:    noAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{Status: "ok", Message: "API is healthy"},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    noAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.VersionResponse, error) {
		info := version.Get()
		return &models.VersionResponse{
			Body: models.VersionData{
				Version:   info.Version,
				GitCommit: info.GitCommit,
				BuildDate: info.BuildDate,
				BuildID:   info.BuildID,
				GoVersion: info.GoVersion,
				Compiler:  info.Compiler,
				Platform:  info.Platform,
			},
		}, nil
	})

	s.registerRelayRoutes()
	s.registerLogRoutes()
	s.registerSSERoutes()
}

// basicAuthMiddleware checks credentials on operations that do not opt out
// with an empty security list. SSE clients may pass base64 credentials in
// the auth query parameter.
func (s *Server) basicAuthMiddleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if op := ctx.Operation(); op != nil && op.Security != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}
		if msg, err := s.checkCredentials(ctx.Header("Authorization"), ctx.Query("auth")); msg != "" {
			var errs []error
			if err != nil {
				errs = append(errs, err)
			}
			s.unauthorized(ctx, msg, errs...)
			return
		}
		next(ctx)
	}
}

// checkCredentials validates a Basic Authorization header, falling back to
// the base64 auth query value. It returns an empty message on success.
func (s *Server) checkCredentials(header, query string) (string, error) {
	encoded, ok := strings.CutPrefix(header, "Basic ")
	if !ok {
		if header != "" {
			return "Invalid authentication type", nil
		}
		encoded = query
	}
	if encoded == "" {
		return "Authentication required", nil
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "Invalid credentials format", err
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok || user != s.username || pass != s.password {
		return "Invalid credentials", nil
	}
	return "", nil
}

func (s *Server) unauthorized(ctx huma.Context, msg string, errs ...error) {
	ctx.SetHeader("WWW-Authenticate", authRealm)
	_ = huma.WriteErr(s.api, ctx, http.StatusUnauthorized, msg, errs...)
}

func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}

func noAuth() []map[string][]string {
	return []map[string][]string{}
}
