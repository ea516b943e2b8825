package httpapi

import (
	"net/http"
	"time"

	"github.com/Anthony-Michael/replyrocket-auth/internal/common"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/auth"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/config"
)

// RefreshCookiePath limits the refresh cookie to the session endpoints.
const RefreshCookiePath = APIPrefix + "/auth"

// CookieTransport moves tokens in HttpOnly cookies. Outside development and
// test the cookies are Secure and SameSite=Strict.
type CookieTransport struct {
	secure     bool
	sameSite   http.SameSite
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewCookieTransport(env config.Environment, accessTTL, refreshTTL time.Duration) *CookieTransport {
	t := &CookieTransport{
		secure:     true,
		sameSite:   http.SameSiteStrictMode,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
	if env.IsLocal() {
		t.secure = false
		t.sameSite = http.SameSiteLaxMode
	}
	return t
}

// SetSession writes both cookies of a pair.
func (t *CookieTransport) SetSession(w http.ResponseWriter, p auth.Pair) {
	http.SetCookie(w, t.cookie(common.AccessTokenCookieName, p.AccessToken, "/", t.accessTTL))
	http.SetCookie(w, t.cookie(common.RefreshTokenCookieName, p.RefreshToken, RefreshCookiePath, t.refreshTTL))
}

// Clear expires both cookies. Path and flags must match the ones used by
// SetSession or browsers keep the originals.
func (t *CookieTransport) Clear(w http.ResponseWriter) {
	for _, c := range []*http.Cookie{
		t.cookie(common.AccessTokenCookieName, "", "/", 0),
		t.cookie(common.RefreshTokenCookieName, "", RefreshCookiePath, 0),
	} {
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
		http.SetCookie(w, c)
	}
}

func (t *CookieTransport) AccessToken(r *http.Request) string {
	return cookieValue(r, common.AccessTokenCookieName)
}

func (t *CookieTransport) RefreshToken(r *http.Request) string {
	return cookieValue(r, common.RefreshTokenCookieName)
}

func (t *CookieTransport) cookie(name, value, path string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   t.secure,
		SameSite: t.sameSite,
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
