package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Anthony-Michael/replyrocket-auth/internal/common"
	"github.com/Anthony-Michael/replyrocket-auth/internal/logging"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/auth"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/config"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/metrics"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/models"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/ratelimit"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/services"
	"github.com/Anthony-Michael/replyrocket-auth/internal/timex"
)

var (
	testNow   = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	testUser  = &models.User{ID: "u-1", Email: "alice@example.com", FullName: "Alice", IsActive: true}
	testAdmin = &models.User{ID: "u-admin", Email: "admin@example.com", IsActive: true, IsSuperuser: true}
)

func testPair(n int) auth.Pair {
	return auth.Pair{
		AccessToken:      fmt.Sprintf("access-%d", n),
		AccessExpiresAt:  testNow.Add(30 * time.Minute),
		RefreshToken:     fmt.Sprintf("refresh-%d", n),
		RefreshExpiresAt: testNow.Add(7 * 24 * time.Hour),
	}
}

type fakeSessions struct {
	mu sync.Mutex

	loginErr   error
	refreshErr error
	logoutAllN int64
	registerFn func(email, password, fullName string) (*models.User, error)
	changeErr  error
	purged     int64
	purgeErr   error

	loggedOut  []string
	refreshed  []string
	changedFor string
}

func (f *fakeSessions) Login(_ context.Context, email, password string) (*services.Session, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	if email != testUser.Email || password != "Str0ng#Pass" {
		return nil, fmt.Errorf("%w: incorrect email or password", common.ErrAuthentication)
	}
	return &services.Session{User: testUser, Pair: testPair(1)}, nil
}

func (f *fakeSessions) Refresh(_ context.Context, token string) (*services.Session, error) {
	f.mu.Lock()
	f.refreshed = append(f.refreshed, token)
	f.mu.Unlock()
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	if token != "refresh-1" {
		return nil, fmt.Errorf("%w: invalid refresh token", common.ErrAuthentication)
	}
	return &services.Session{User: testUser, Pair: testPair(2)}, nil
}

func (f *fakeSessions) Logout(_ context.Context, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = append(f.loggedOut, token)
}

func (f *fakeSessions) LogoutAll(context.Context, string) (int64, error) {
	return f.logoutAllN, nil
}

func (f *fakeSessions) Register(_ context.Context, email, password, fullName string, _ ...services.RegisterOption) (*models.User, error) {
	if f.registerFn != nil {
		return f.registerFn(email, password, fullName)
	}
	return &models.User{ID: "u-new", Email: email, FullName: fullName, IsActive: true, CreatedAt: testNow}, nil
}

func (f *fakeSessions) ChangePassword(_ context.Context, userID, _, _ string) error {
	f.changedFor = userID
	return f.changeErr
}

func (f *fakeSessions) PurgeExpired(context.Context) (int64, error) {
	return f.purged, f.purgeErr
}

// fakeGuard knows two access tokens: "user-token" and "admin-token".
type fakeGuard struct{}

func (fakeGuard) Authorize(_ context.Context, token string, level services.AccessLevel) (*models.User, error) {
	var u *models.User
	switch token {
	case "user-token":
		u = testUser
	case "admin-token":
		u = testAdmin
	default:
		return nil, fmt.Errorf("%w: could not validate credentials", common.ErrAuthentication)
	}
	if level == services.AccessElevated && !u.IsSuperuser {
		return nil, fmt.Errorf("%w: the user doesn't have enough privileges", common.ErrPermissionDenied)
	}
	return u, nil
}

type fakePinger struct{ err error }

func (p *fakePinger) PingContext(context.Context) error { return p.err }

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, time.Time) (bool, time.Duration, error) {
	return false, 0, fmt.Errorf("redis down")
}

type testServer struct {
	router   *gin.Engine
	handler  *Handler
	sessions *fakeSessions
	pinger   *fakePinger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

func newTestServer(t *testing.T, limiter ratelimit.Limiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	sessions := &fakeSessions{}
	pinger := &fakePinger{}

	h := NewHandler(Deps{
		Sessions: sessions,
		Guard:    fakeGuard{},
		Cookies:  NewCookieTransport(config.EnvProduction, 30*time.Minute, 7*24*time.Hour),
		Limiter:  limiter,
		Metrics:  m,
		DB:       pinger,
		Clock:    timex.NewManualClock(testNow),
		Logger:   logging.NewNop(),
	})

	return &testServer{
		router:   NewRouter(h, "test", reg),
		handler:  h,
		sessions: sessions,
		pinger:   pinger,
		registry: reg,
		metrics:  m,
	}
}

type reqOption func(*http.Request)

func withBearer(token string) reqOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withCookie(name, value string) reqOption {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: name, Value: value}) }
}

func withForm() reqOption {
	return func(r *http.Request) { r.Header.Set("Content-Type", "application/x-www-form-urlencoded") }
}

func (s *testServer) do(method, path, body string, opts ...reqOption) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, o := range opts {
		o(req)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func responseCookies(rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}
