// Package api exposes the sandbox lifecycle over HTTP for the editor UI and
// for operators.
package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/firefly-engineering/sandboxd/internal/config"
	"github.com/firefly-engineering/sandboxd/internal/errors"
	"github.com/firefly-engineering/sandboxd/internal/logging"
	"github.com/firefly-engineering/sandboxd/internal/runtime"
	"github.com/firefly-engineering/sandboxd/internal/sandbox"
	"github.com/firefly-engineering/sandboxd/internal/session"
	"github.com/firefly-engineering/sandboxd/internal/store"
)

const (
	// HeaderUser and HeaderRole carry the identity asserted by an
	// authenticating proxy.
	HeaderUser = "X-Auth-User"
	HeaderRole = "X-Auth-Role"

	defaultCookieName = "sandboxd_session"
)

// Deps are the components the HTTP surface drives.
type Deps struct {
	Binder      *session.Binder
	Sessions    session.Store
	Store       *store.Store
	Provisioner *sandbox.Provisioner
	Teardown    *sandbox.Teardown
	Runtime     runtime.Runtime
}

type handler struct {
	Deps
	cookieName   string
	cookieMaxAge time.Duration
	trustHeaders bool
	secure       bool
	now          func() time.Time
	logger       *slog.Logger
}

// Option configures handler behaviour when registering routes.
type Option func(*handler)

// WithCookie sets the session cookie name and lifetime.
func WithCookie(name string, maxAge time.Duration) Option {
	return func(h *handler) {
		if name != "" {
			h.cookieName = name
		}
		h.cookieMaxAge = maxAge
	}
}

// WithSecureCookie marks the session cookie Secure.
func WithSecureCookie(secure bool) Option {
	return func(h *handler) {
		h.secure = secure
	}
}

// WithTrustedAuthHeaders accepts X-Auth-User and X-Auth-Role. Only enable
// this behind a proxy that strips them from client requests.
func WithTrustedAuthHeaders(trust bool) Option {
	return func(h *handler) {
		h.trustHeaders = trust
	}
}

// WithClock overrides the time source used for new sessions.
func WithClock(now func() time.Time) Option {
	return func(h *handler) {
		h.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// RegisterRoutes attaches the sandbox endpoints to the router.
func RegisterRoutes(r *gin.Engine, deps Deps, opts ...Option) {
	h := &handler{
		Deps:       deps,
		cookieName: defaultCookieName,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logging.Logger,
	}
	for _, opt := range opts {
		opt(h)
	}

	r.GET("/healthz", h.health)

	api := r.Group("/api")
	api.GET("/sandbox", h.viewSandbox)
	api.POST("/sandbox", h.openSandbox)
	api.POST("/sandbox/start", h.startSandbox)
	api.POST("/sandbox/stop", h.stopSandbox)
	api.DELETE("/sandbox/:id", h.destroySandbox)

	admin := api.Group("/admin", h.requireAdmin)
	admin.GET("/sandboxes", h.listSandboxes)
	admin.POST("/sandboxes/:id/stop", h.forceStop)
	admin.POST("/sandboxes/:id/teardown", h.forceTeardown)
}

// NewRouter returns a gin engine with CORS, panic recovery, request
// logging and the sandbox routes.
func NewRouter(cfg config.ServerConfig, deps Deps, logger *slog.Logger, opts ...Option) *gin.Engine {
	if logger == nil {
		logger = logging.Logger
	}

	r := gin.New()
	corsConfig := buildCORSConfig(cfg.AllowedOrigins)
	if corsConfig.AllowAllOrigins {
		logger.Info("configured cors", "allowAllOrigins", true)
	} else {
		logger.Info("configured cors", "allowedOrigins", corsConfig.AllowOrigins)
	}
	r.Use(cors.New(corsConfig))
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request", "method", c.Request.Method, "path", c.FullPath(), "status", c.Writer.Status(), "latency", time.Since(start))
	})

	all := append([]Option{
		WithCookie(cfg.SessionCookie, 0),
		WithTrustedAuthHeaders(cfg.TrustAuthHeaders),
		WithLogger(logger),
	}, opts...)
	RegisterRoutes(r, deps, all...)
	return r
}

func buildCORSConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodPost,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders: []string{
			"Content-Type",
			"Accept",
			"Origin",
			"X-Requested-With",
			"Cookie",
		},
		ExposeHeaders: []string{
			"Content-Length",
		},
		MaxAge: 12 * time.Hour,
	}

	var allowed []string
	allowAll := false
	for _, origin := range origins {
		trimmed := strings.TrimRight(strings.TrimSpace(origin), "/")
		switch trimmed {
		case "":
		case "*":
			allowAll = true
		default:
			allowed = append(allowed, trimmed)
		}
	}

	if allowAll || len(allowed) == 0 {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = allowed
		cfg.AllowCredentials = true
	}
	return cfg
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"error":   code,
		"message": message,
	})
}

// respondErr maps a lifecycle error to an HTTP response.
func (h *handler) respondErr(c *gin.Context, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	respondError(c, status, code, err.Error())
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, errors.ErrValidation):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, errors.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, errors.ErrConflict), errors.Is(err, errors.ErrInvalidTransition):
		return http.StatusConflict, "conflict"
	case errors.Is(err, errors.ErrProvisionFailed), errors.Is(err, errors.ErrBootTimeout):
		return http.StatusServiceUnavailable, "needs_setup"
	case errors.Is(err, errors.ErrRuntimeUnreachable):
		return http.StatusServiceUnavailable, "runtime_unreachable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
