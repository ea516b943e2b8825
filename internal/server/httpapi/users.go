package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *Handler) me(c *gin.Context) {
	c.JSON(http.StatusOK, viewOf(currentUser(c)))
}

// changePassword ends every session of the user, this one included, so the
// cookies are cleared as well.
func (h *Handler) changePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, errBadBody)
		return
	}

	if err := h.sessions.ChangePassword(c.Request.Context(), currentUser(c).ID, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(c, h.logger, err)
		return
	}

	h.cookies.Clear(c.Writer)
	c.JSON(http.StatusOK, gin.H{"message": "Password updated, please log in again"})
}

func (h *Handler) purge(c *gin.Context) {
	n, err := h.sessions.PurgeExpired(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if h.metrics != nil {
		h.metrics.Purged.Add(float64(n))
	}
	c.JSON(http.StatusOK, gin.H{"purged": n})
}
