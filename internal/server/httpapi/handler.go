// Package httpapi is the HTTP surface of the auth server: session endpoints,
// cookie transport, guard middleware, and health probes.
package httpapi

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Anthony-Michael/replyrocket-auth/internal/common"
	"github.com/Anthony-Michael/replyrocket-auth/internal/logging"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/metrics"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/models"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/ratelimit"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/services"
	"github.com/Anthony-Michael/replyrocket-auth/internal/timex"
)

const APIPrefix = "/api/v1"

// SessionManager is what the handlers need from services.SessionService.
type SessionManager interface {
	Login(ctx context.Context, email, password string) (*services.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*services.Session, error)
	Logout(ctx context.Context, refreshToken string)
	LogoutAll(ctx context.Context, userID string) (int64, error)
	Register(ctx context.Context, email, password, fullName string, opts ...services.RegisterOption) (*models.User, error)
	ChangePassword(ctx context.Context, userID, current, next string) error
	PurgeExpired(ctx context.Context) (int64, error)
}

// Authenticator is what the handlers need from services.Guard.
type Authenticator interface {
	Authorize(ctx context.Context, token string, level services.AccessLevel) (*models.User, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

type Deps struct {
	Sessions SessionManager
	Guard    Authenticator
	Cookies  *CookieTransport
	Limiter  ratelimit.Limiter
	Metrics  *metrics.Metrics
	DB       Pinger
	Clock    timex.Clock
	Logger   logging.Logger
}

type Handler struct {
	sessions SessionManager
	guard    Authenticator
	cookies  *CookieTransport
	limiter  ratelimit.Limiter
	metrics  *metrics.Metrics
	db       Pinger
	clock    timex.Clock
	logger   logging.Logger

	ready atomic.Bool
}

func NewHandler(d Deps) *Handler {
	h := &Handler{
		sessions: d.Sessions,
		guard:    d.Guard,
		cookies:  d.Cookies,
		limiter:  d.Limiter,
		metrics:  d.Metrics,
		db:       d.DB,
		clock:    d.Clock,
		logger:   d.Logger.With("module", "http"),
	}
	if h.limiter == nil {
		h.limiter = ratelimit.Unlimited{}
	}
	if h.clock == nil {
		h.clock = timex.SystemClock{}
	}
	h.ready.Store(true)
	return h
}

// SetReady flips the readiness probe, e.g. while draining on shutdown.
func (h *Handler) SetReady(ready bool) { h.ready.Store(ready) }

// RegisterRoutes mounts the API under APIPrefix.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	api := r.Group(APIPrefix)

	api.GET("/health", h.liveness)
	api.GET("/health/readiness", h.readiness)

	a := api.Group("/auth")
	a.POST("/login", h.login)
	a.POST("/login/access-token", h.loginForm)
	a.POST("/refresh", h.refresh)
	a.POST("/logout", h.logout)
	a.POST("/logout-all", h.require(services.AccessActive), h.logoutAll)
	a.POST("/register", h.register)

	u := api.Group("/users", h.require(services.AccessActive))
	u.GET("/me", h.me)
	u.PUT("/me/password", h.changePassword)

	adm := api.Group("/admin", h.require(services.AccessElevated))
	adm.POST("/refresh-tokens/purge", h.purge)
}

const userKey = "auth.user"

// require resolves the bearer header, or else the access cookie, to a user
// holding at least level.
func (h *Handler) require(level services.AccessLevel) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := common.BearerToken(c.GetHeader(common.AuthorizationHeader))
		if token == "" {
			token = h.cookies.AccessToken(c.Request)
		}

		user, err := h.guard.Authorize(c.Request.Context(), token, level)
		if err != nil {
			writeError(c, h.logger, err)
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

func currentUser(c *gin.Context) *models.User {
	u, _ := c.MustGet(userKey).(*models.User)
	return u
}

// allowLogin applies the per-client login limit. A failing limiter lets the
// attempt through.
func (h *Handler) allowLogin(c *gin.Context) error {
	ctx := c.Request.Context()
	allowed, retryAfter, err := h.limiter.Allow(ctx, "login:"+c.ClientIP(), h.clock.Now())
	if err != nil {
		h.logger.Warn(ctx, "rate limiter unavailable", "error", err)
		return nil
	}
	if allowed {
		return nil
	}
	h.logger.Warn(ctx, "login rate limited", "client_ip", c.ClientIP(), "retry_after", retryAfter)
	return &RetryAfterError{Seconds: int(math.Ceil(retryAfter.Seconds()))}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, common.ErrRateLimited):
		return metrics.OutcomeRateLimited
	case errors.Is(err, common.ErrAuthentication):
		return metrics.OutcomeRejected
	case errors.Is(err, common.ErrPermissionDenied):
		return metrics.OutcomeDenied
	}
	return metrics.OutcomeError
}

func (h *Handler) countLogin(err error) {
	if h.metrics != nil {
		h.metrics.Logins.WithLabelValues(outcome(err)).Inc()
	}
}

func (h *Handler) countRefresh(err error) {
	if h.metrics != nil {
		h.metrics.Refreshes.WithLabelValues(outcome(err)).Inc()
	}
}

func (h *Handler) countRevoked(reason models.RevocationReason, n int64) {
	if h.metrics != nil && n > 0 {
		h.metrics.Revocations.WithLabelValues(string(reason)).Add(float64(n))
	}
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      string    `json:"user_id,omitempty"`
}

type userView struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	FullName    string    `json:"full_name"`
	IsActive    bool      `json:"is_active"`
	IsSuperuser bool      `json:"is_superuser"`
	CreatedAt   time.Time `json:"created_at"`
}

func viewOf(u *models.User) userView {
	return userView{
		ID:          u.ID,
		Email:       u.Email,
		FullName:    u.FullName,
		IsActive:    u.IsActive,
		IsSuperuser: u.IsSuperuser,
		CreatedAt:   u.CreatedAt,
	}
}
