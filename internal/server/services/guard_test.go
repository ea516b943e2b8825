package services

import (
	"context"
	"errors"
	"testing"

	"github.com/Anthony-Michael/replyrocket-auth/internal/common"
)

func TestGuard_Authorize(t *testing.T) {
	h := newHarness(t)
	active := h.addUser(t, "active@example.com", goodPassword, true, false)
	admin := h.addUser(t, "admin@example.com", goodPassword, true, true)
	inactive := h.addUser(t, "inactive@example.com", goodPassword, true, false)

	activePair, _ := h.issuer.IssuePair(active.ID)
	adminPair, _ := h.issuer.IssuePair(admin.ID)
	inactivePair, _ := h.issuer.IssuePair(inactive.ID)
	ghostPair, _ := h.issuer.IssuePair("4f9c2b1e-0000-4000-8000-000000000000")
	h.users.setActive(inactive.ID, false)

	tests := []struct {
		name    string
		token   string
		level   AccessLevel
		wantErr error
		wantID  string
	}{
		{"active user", activePair.AccessToken, AccessActive, nil, active.ID},
		{"admin elevated", adminPair.AccessToken, AccessElevated, nil, admin.ID},
		{"non-admin elevated", activePair.AccessToken, AccessElevated, common.ErrPermissionDenied, ""},
		{"inactive authenticated only", inactivePair.AccessToken, AccessAuthenticated, nil, inactive.ID},
		{"inactive needs active", inactivePair.AccessToken, AccessActive, common.ErrPermissionDenied, ""},
		{"inactive elevated", inactivePair.AccessToken, AccessElevated, common.ErrPermissionDenied, ""},
		{"missing token", "", AccessAuthenticated, common.ErrAuthentication, ""},
		{"garbage token", "abc.def.ghi", AccessAuthenticated, common.ErrAuthentication, ""},
		{"refresh token as access", activePair.RefreshToken, AccessAuthenticated, common.ErrAuthentication, ""},
		{"unknown subject", ghostPair.AccessToken, AccessAuthenticated, common.ErrAuthentication, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := h.guard.Authorize(context.Background(), tt.token, tt.level)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				if u != nil {
					t.Fatalf("user returned on error: %+v", u)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authorize: %v", err)
			}
			if u.ID != tt.wantID {
				t.Fatalf("user = %q, want %q", u.ID, tt.wantID)
			}
		})
	}
}

func TestGuard_ExpiredAccessToken(t *testing.T) {
	h := newHarness(t)
	u := h.addUser(t, "alice@example.com", goodPassword, true, false)
	pair, err := h.issuer.IssuePair(u.ID)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := h.guard.Authenticate(context.Background(), pair.AccessToken); err != nil {
		t.Fatalf("fresh token rejected: %v", err)
	}
	h.clock.Advance(testAccessTTL)
	_, err = h.guard.Authenticate(context.Background(), pair.AccessToken)
	if !errors.Is(err, common.ErrAuthentication) {
		t.Fatalf("err = %v, want ErrAuthentication", err)
	}
	if err.Error() != errCredentials.Error() {
		t.Fatalf("message leaks the cause: %q", err)
	}
}

func TestGuard_DatabaseError(t *testing.T) {
	h := newHarness(t)
	u := h.addUser(t, "alice@example.com", goodPassword, true, false)
	pair, _ := h.issuer.IssuePair(u.ID)

	h.users.getErr = errors.New("pool exhausted")
	_, err := h.guard.Authenticate(context.Background(), pair.AccessToken)
	if !errors.Is(err, common.ErrDatabase) {
		t.Fatalf("err = %v, want ErrDatabase", err)
	}
}
