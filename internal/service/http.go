package service

import (
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/MrEthical07/mail2fa"
	"github.com/MrEthical07/mail2fa/metrics/export/prometheus"
)

type handler struct {
	engine     *mail2fa.Engine
	directory  *StaticDirectory
	settings   mail2fa.Settings
	restartURL string
}

// NewRouter mounts the login challenge, activation, sweep, health and metrics
// routes. Session handling is left to the host; these routes only report the
// verification outcome.
//
// The login and activation routes trust the user_id they are given, so the
// router belongs behind a host that has already authenticated the first
// factor. /admin and /metrics require cfg.Server.AdminToken as a bearer token,
// or a loopback client when no token is configured.
func NewRouter(engine *mail2fa.Engine, directory *StaticDirectory, cfg Config) *gin.Engine {
	h := &handler{
		engine:    engine,
		directory: directory,
		settings: mail2fa.Settings{
			CodeExpiry: cfg.Code.Expiry,
			CodeLength: cfg.Code.Length,
		},
		restartURL: cfg.Server.RestartURL,
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	guard := adminGuard(cfg.Server.AdminToken)
	router.GET("/metrics", guard, gin.WrapH(prometheus.NewPrometheusExporter(engine).Handler()))

	login := router.Group("/login/2fa")
	{
		login.GET("", h.presentChallenge)
		login.POST("", h.verifyChallenge)
	}

	activation := router.Group("/account/2fa")
	{
		activation.GET("/activate", h.presentActivation)
		activation.POST("/activate", h.confirmActivation)
	}

	admin := router.Group("/admin", guard)
	{
		admin.POST("/sweep", h.sweep)
	}

	return router
}

func adminGuard(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			if ip := net.ParseIP(c.RemoteIP()); ip != nil && ip.IsLoopback() {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin routes are restricted to loopback clients"})
			return
		}

		parts := strings.SplitN(strings.TrimSpace(c.GetHeader("Authorization")), " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid admin token"})
			return
		}
		c.Next()
	}
}

func (h *handler) meta(c *gin.Context) mail2fa.RequestMeta {
	return mail2fa.RequestMeta{
		SourceAddress: c.ClientIP(),
		RestartURL:    h.restartURL,
	}
}

// param reads key from the form body, then the query string.
func param(c *gin.Context, key string) string {
	if v, ok := c.GetPostForm(key); ok {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(c.Query(key))
}

func subjectFrom(c *gin.Context) mail2fa.Subject {
	return mail2fa.Subject{
		ID:    param(c, "user_id"),
		Email: param(c, "email"),
	}
}

func wantsJSON(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "application/json")
}

func (h *handler) userFrom(c *gin.Context) mail2fa.UserContext {
	id := param(c, "user_id")
	user := mail2fa.UserContext{ID: id}
	if u, ok := h.directory.User(id); ok {
		user.Email = u.Email
		user.FirstName = u.FirstName
	}
	return user
}

func (h *handler) renderPrompt(c *gin.Context, prompt mail2fa.Prompt) {
	status := http.StatusOK
	switch prompt.State {
	case mail2fa.PromptIdentificationFailed:
		status = http.StatusNotFound
	case mail2fa.PromptSendFailed:
		status = http.StatusServiceUnavailable
	}

	if wantsJSON(c) {
		c.JSON(status, gin.H{
			"state":   prompt.State.String(),
			"message": prompt.Message(),
			"error":   prompt.Error,
		})
		return
	}

	body, err := prompt.HTML()
	if err != nil {
		c.String(http.StatusInternalServerError, "could not render prompt")
		return
	}
	c.Data(status, "text/html; charset=utf-8", []byte(body))
}

func (h *handler) presentChallenge(c *gin.Context) {
	prompt := h.engine.PresentChallenge(c.Request.Context(), subjectFrom(c), h.settings, h.meta(c))
	h.renderPrompt(c, prompt)
}

func (h *handler) verifyChallenge(c *gin.Context) {
	ok := h.engine.VerifyChallenge(c.Request.Context(), subjectFrom(c), c.PostForm("key"), h.meta(c))
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"verified": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"verified": true})
}

func (h *handler) presentActivation(c *gin.Context) {
	prompt := h.engine.PresentActivation(c.Request.Context(), h.userFrom(c), h.settings, h.meta(c), nil)
	h.renderPrompt(c, prompt)
}

func (h *handler) confirmActivation(c *gin.Context) {
	user := h.userFrom(c)
	err := h.engine.ConfirmActivation(c.Request.Context(), user, c.PostForm("verifykey"), h.settings, h.meta(c))
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"activated": true})
		return
	}

	if !wantsJSON(c) {
		// Same as the first visit, with the failure above the form.
		prompt := h.engine.PresentActivation(c.Request.Context(), user, h.settings, h.meta(c), err)
		h.renderPrompt(c, prompt)
		return
	}

	status := http.StatusUnprocessableEntity
	switch {
	case errors.Is(err, mail2fa.ErrIdentityUnresolved):
		status = http.StatusNotFound
	case errors.Is(err, mail2fa.ErrCodeUnavailable), errors.Is(err, mail2fa.ErrEngineNotReady):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"activated": false, "error": err.Error()})
}

func (h *handler) sweep(c *gin.Context) {
	result, err := h.engine.Sweep(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"codes_purged":         result.CodesPurged,
		"audit_entries_purged": result.AuditEntriesPurged,
	})
}
