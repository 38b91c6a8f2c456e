package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kestrel-labs/antigravity-gateway/internal/config"
)

// handleAccountLimits reports the live per-account, per-model cooldown
// state, the operator's view into why requests are (or are not) rotating.
func (s *Server) handleAccountLimits(c *gin.Context) {
	now := time.Now()
	accounts := s.pool.Accounts()
	out := make([]gin.H, 0, len(accounts))
	for _, a := range accounts {
		limits := gin.H{}
		for model, rl := range a.RateLimitSnapshot() {
			entry := gin.H{"consecutive_429s": rl.Consecutive429s}
			if !rl.CooldownUntil.IsZero() && rl.CooldownUntil.After(now) {
				entry["cooldown_until"] = rl.CooldownUntil.UTC().Format(time.RFC3339)
				entry["cooldown_remaining"] = rl.CooldownUntil.Sub(now).Round(time.Second).String()
			}
			if !rl.Last429At.IsZero() {
				entry["last_429_at"] = rl.Last429At.UTC().Format(time.RFC3339)
			}
			limits[model] = entry
		}
		out = append(out, gin.H{
			"email":    a.Email,
			"label":    a.Label,
			"disabled": a.Disabled,
			"limits":   limits,
		})
	}
	c.JSON(http.StatusOK, gin.H{"accounts": out})
}

func (s *Server) handleGetGatewayConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"systemInstruction": s.store.SystemInstruction()})
}

func (s *Server) handleSetGatewayConfig(c *gin.Context) {
	var body struct {
		SystemInstruction string `json:"systemInstruction"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}
	if err := s.store.SetSystemInstruction(body.SystemInstruction); err != nil {
		if errors.Is(err, config.ErrMissingSentinel) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist config"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"systemInstruction": s.store.SystemInstruction()})
}
