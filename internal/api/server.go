// Package api is the gateway's HTTP front door: the OpenAI, Anthropic,
// and Google-native chat surfaces plus the management routes, all composed
// over the gateway pipeline.
package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/kestrel-labs/antigravity-gateway/internal/account"
	"github.com/kestrel-labs/antigravity-gateway/internal/config"
	"github.com/kestrel-labs/antigravity-gateway/internal/gateway"
	"github.com/kestrel-labs/antigravity-gateway/internal/metrics"
)

// Server holds the handler dependencies.
type Server struct {
	gw      *gateway.Gateway
	pool    *account.Pool
	store   *config.GatewayStore
	metrics *metrics.Metrics
	cfg     *config.Config
}

// New builds the gin engine with all routes registered.
func New(cfg *config.Config, gw *gateway.Gateway, pool *account.Pool, store *config.GatewayStore, m *metrics.Metrics) *gin.Engine {
	s := &Server{gw: gw, pool: pool, store: store, metrics: m, cfg: cfg}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", s.handleHealth)
	r.GET("/healthz", s.handleHealth)

	r.POST("/v1/chat/completions", s.handleOpenAIChat)
	r.GET("/v1/models", s.handleListModels)

	r.POST("/v1/messages", s.handleAnthropicMessages)
	r.POST("/v1/messages/count_tokens", s.handleAnthropicCountTokens)

	// Google-native: the path segment is "{model}:generateContent" or
	// "{model}:streamGenerateContent"; gin sees it as one parameter.
	r.POST("/v1beta/models/*modelAction", s.handleGoogleGenerate)

	mgmt := r.Group("/", s.managementAuth())
	mgmt.GET("/account-limits", s.handleAccountLimits)
	mgmt.GET("/api/gateway/config", s.handleGetGatewayConfig)
	mgmt.POST("/api/gateway/config", s.handleSetGatewayConfig)
	mgmt.GET("/metrics", gin.WrapH(m.Handler()))

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// managementAuth guards the management surface with the optional WebUI
// password. The chat surfaces stay open: the gateway accepts but does not
// validate client API keys.
func (s *Server) managementAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.WebUIPassword == "" {
			c.Next()
			return
		}
		supplied := c.GetHeader("X-Webui-Password")
		if supplied == "" {
			_, supplied, _ = c.Request.BasicAuth()
		}
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.cfg.WebUIPassword)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/health" || c.Request.URL.Path == "/healthz" {
			return
		}
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).Round(time.Millisecond).String(),
		}).Info("request")
	}
}
