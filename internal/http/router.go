package http

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/wellgone/augment-token-manager-worker/internal/config"
	"github.com/wellgone/augment-token-manager-worker/internal/http/handler"
	httpmiddleware "github.com/wellgone/augment-token-manager-worker/internal/http/middleware"
	"github.com/wellgone/augment-token-manager-worker/internal/metrics"
	"github.com/wellgone/augment-token-manager-worker/internal/middleware"
)

// Limiters holds the per-client throttles. A nil limiter disables throttling.
type Limiters struct {
	Login *middleware.RateLimiter
	API   *middleware.RateLimiter
}

// RouterParams are the dependencies of NewRouter.
type RouterParams struct {
	fx.In

	Config   config.Config
	Logger   *zap.Logger
	Metrics  *metrics.Metrics `optional:"true"`
	Auth     *httpmiddleware.Auth
	Limiters Limiters
	Sessions *handler.SessionHandler
	OAuth    *handler.OAuthHandler
	Tokens   *handler.TokenHandler
}

// NewRouter wires Gin routes and middleware.
func NewRouter(p RouterParams) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(p.Logger))
	r.Use(otelgin.Middleware(p.Config.ServiceName))
	if p.Metrics != nil {
		r.Use(p.Metrics.Middleware())
	}
	r.Use(middleware.CORS(p.Config))
	r.Use(middleware.SecurityHeaders())

	r.GET("/health", handler.Health)
	if p.Metrics != nil {
		r.GET("/metrics", gin.WrapH(p.Metrics.Handler()))
	}

	requireSession := p.Auth.RequireSession

	api := r.Group("/api", p.Limiters.API.Handler())
	{
		auth := api.Group("/auth")
		{
			auth.POST("/login", p.Limiters.Login.Handler(), p.Sessions.Login)
			auth.POST("/logout", requireSession, p.Sessions.Logout)
			auth.GET("/validate", requireSession, p.Sessions.Validate)
			auth.GET("/generate-url", requireSession, p.OAuth.Authorize)
			auth.POST("/validate-response", requireSession, p.OAuth.ValidateResponse)
		}

		tokens := api.Group("/tokens", requireSession)
		{
			tokens.GET("", p.Tokens.List)
			tokens.POST("", p.Tokens.Create)
			tokens.POST("/batch-import", p.Tokens.BatchImport)
			tokens.POST("/batch-validate", p.Tokens.BatchValidate)
			tokens.GET("/stats", p.Tokens.Stats)
			tokens.GET("/:id", p.Tokens.Get)
			tokens.PUT("/:id", p.Tokens.Update)
			tokens.DELETE("/:id", p.Tokens.Delete)
			tokens.POST("/:id/validate", p.Tokens.Validate)
			tokens.POST("/:id/refresh", p.Tokens.Refresh)
		}
	}

	oauth := r.Group("/oauth")
	{
		oauth.GET("/authorize", p.OAuth.Authorize)
		oauth.GET("/callback", p.OAuth.Callback)
		oauth.GET("/health", p.OAuth.Health)
		oauth.POST("/token", requireSession, p.OAuth.Token)
		oauth.POST("/status", requireSession, p.OAuth.Status)
	}

	// The dashboard is served only as static files.
	attachUIRoutes(r, filepath.Join("ui", "dist"))

	return r
}

func attachUIRoutes(r *gin.Engine, distDir string) {
	indexPath := filepath.Join(distDir, "index.html")

	r.NoRoute(func(c *gin.Context) {
		path := c.Request.URL.Path
		if isAPIPath(path) {
			c.JSON(http.StatusNotFound, handler.Envelope{Success: false, Error: "Not found", Timestamp: handler.Timestamp()})
			return
		}

		if filePath, ok := safeJoin(distDir, path); ok {
			if info, err := os.Stat(filePath); err == nil && !info.IsDir() {
				c.File(filePath)
				return
			}
		}

		if _, err := os.Stat(indexPath); err != nil {
			c.Status(http.StatusNotFound)
			return
		}
		c.File(indexPath)
	})
}

func isAPIPath(path string) bool {
	return strings.HasPrefix(path, "/api") ||
		strings.HasPrefix(path, "/oauth") ||
		strings.HasPrefix(path, "/health") ||
		strings.HasPrefix(path, "/metrics")
}

func safeJoin(baseDir, requestPath string) (string, bool) {
	trimmed := strings.TrimPrefix(requestPath, "/")
	cleaned := filepath.Clean(trimmed)
	if cleaned == "." {
		return filepath.Join(baseDir, cleaned), true
	}
	if strings.HasPrefix(cleaned, "..") {
		return "", false
	}
	return filepath.Join(baseDir, cleaned), true
}
