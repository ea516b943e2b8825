package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Anthony-Michael/replyrocket-auth/internal/common"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/models"
)

var errBadBody = fmt.Errorf("%w: invalid request body", common.ErrorInvalidInput)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, errBadBody)
		return
	}
	h.startSession(c, req.Email, req.Password)
}

// loginForm is the OAuth2 password flow: form fields username and password.
func (h *Handler) loginForm(c *gin.Context) {
	h.startSession(c, c.PostForm("username"), c.PostForm("password"))
}

func (h *Handler) startSession(c *gin.Context, email, password string) {
	if err := h.allowLogin(c); err != nil {
		h.countLogin(err)
		writeError(c, h.logger, err)
		return
	}

	s, err := h.sessions.Login(c.Request.Context(), email, password)
	h.countLogin(err)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	h.cookies.SetSession(c.Writer, s.Pair)
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken: s.Pair.AccessToken,
		TokenType:   "bearer",
		ExpiresAt:   s.Pair.AccessExpiresAt,
		UserID:      s.User.ID,
	})
}

func (h *Handler) refresh(c *gin.Context) {
	s, err := h.sessions.Refresh(c.Request.Context(), h.cookies.RefreshToken(c.Request))
	h.countRefresh(err)
	if err != nil {
		if errors.Is(err, common.ErrAuthentication) {
			h.cookies.Clear(c.Writer)
		}
		writeError(c, h.logger, err)
		return
	}
	h.countRevoked(models.ReasonRotated, 1)

	h.cookies.SetSession(c.Writer, s.Pair)
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken: s.Pair.AccessToken,
		TokenType:   "bearer",
		ExpiresAt:   s.Pair.AccessExpiresAt,
	})
}

func (h *Handler) logout(c *gin.Context) {
	h.sessions.Logout(c.Request.Context(), h.cookies.RefreshToken(c.Request))
	h.cookies.Clear(c.Writer)
	c.JSON(http.StatusOK, gin.H{"message": "Successfully logged out"})
}

func (h *Handler) logoutAll(c *gin.Context) {
	n, err := h.sessions.LogoutAll(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	h.countRevoked(models.ReasonLogoutAll, n)

	h.cookies.Clear(c.Writer)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out from all sessions", "revoked": n})
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, errBadBody)
		return
	}

	u, err := h.sessions.Register(c.Request.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, viewOf(u))
}
