package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/Anthony-Michael/replyrocket-auth/internal/common"
	"github.com/Anthony-Michael/replyrocket-auth/internal/logging"
)

type errorBody struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code"`
}

type errorClass struct {
	sentinel error
	status   int
	code     string
}

// Checked in order; the first match wins.
var errorClasses = []errorClass{
	{common.ErrRateLimited, http.StatusTooManyRequests, "RateLimitExceededError"},
	{common.ErrAuthentication, http.StatusUnauthorized, "AuthenticationError"},
	{common.ErrPermissionDenied, http.StatusForbidden, "PermissionDeniedError"},
	{common.ErrorAlreadyExists, http.StatusConflict, "ResourceConflictError"},
	{common.ErrorInvalidInput, http.StatusBadRequest, "InvalidInputError"},
	{common.ErrorNotFound, http.StatusNotFound, "EntityNotFoundError"},
	{common.ErrDatabase, http.StatusInternalServerError, "DatabaseError"},
}

// RetryAfterError carries the wait of a rate limit rejection.
type RetryAfterError struct {
	Seconds int
}

func (e *RetryAfterError) Error() string { return "retry after " + strconv.Itoa(e.Seconds) + "s" }
func (e *RetryAfterError) Unwrap() error { return common.ErrRateLimited }

// writeError maps err to a status and an error body. Server-side failures
// get a fixed message; the cause is only logged.
func writeError(c *gin.Context, logger logging.Logger, err error) {
	ctx := c.Request.Context()

	for _, class := range errorClasses {
		if !errors.Is(err, class.sentinel) {
			continue
		}
		detail := publicDetail(err, class.sentinel)
		switch class.status {
		case http.StatusUnauthorized:
			c.Header("WWW-Authenticate", common.BearerScheme)
		case http.StatusTooManyRequests:
			var ra *RetryAfterError
			if errors.As(err, &ra) {
				c.Header("Retry-After", strconv.Itoa(ra.Seconds))
			}
			detail = "Too many requests, try again later"
		case http.StatusInternalServerError:
			logger.Error(ctx, "request failed", "path", c.FullPath(), "error", err)
			detail = "A database error occurred"
		}
		c.AbortWithStatusJSON(class.status, errorBody{Detail: detail, ErrorCode: class.code})
		return
	}

	logger.Error(ctx, "request failed", "path", c.FullPath(), "error", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{
		Detail:    "An unexpected error occurred",
		ErrorCode: "InternalServerError",
	})
}

// publicDetail strips the sentinel prefix ("authentication failed: ") and
// capitalizes what is left.
func publicDetail(err, sentinel error) string {
	msg := strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
	r, size := utf8.DecodeRuneInString(msg)
	if r == utf8.RuneError {
		return msg
	}
	return string(unicode.ToUpper(r)) + msg[size:]
}
