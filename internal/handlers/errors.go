package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"consultancy/api/internal/middleware"
	"consultancy/api/internal/service"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type statusCode struct {
	status  int
	code    string
	message string
}

var errorTable = []struct {
	err error
	statusCode
}{
	{service.ErrDuplicateEmail, statusCode{http.StatusConflict, "USER_EXISTS", "User with this email already exists"}},
	{service.ErrInvalidCredentials, statusCode{http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password"}},
	{service.ErrAccountInactive, statusCode{http.StatusForbidden, "ACCOUNT_INACTIVE", "Account is not active"}},
	{service.ErrInvalidToken, statusCode{http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token"}},
	{service.ErrInvalidOrExpiredToken, statusCode{http.StatusBadRequest, "INVALID_TOKEN", "Invalid or expired token"}},
	{service.ErrInvalidMFACode, statusCode{http.StatusUnauthorized, "INVALID_MFA_CODE", "Invalid verification code"}},
	{service.ErrMFANotEnabled, statusCode{http.StatusBadRequest, "MFA_NOT_ENABLED", "Two-factor authentication is not enabled"}},
	{service.ErrMFAAlreadyEnabled, statusCode{http.StatusConflict, "MFA_ALREADY_ENABLED", "Two-factor authentication is already enabled"}},
	{service.ErrMFASetupRequired, statusCode{http.StatusBadRequest, "MFA_SETUP_REQUIRED", "Start two-factor setup first"}},
	{service.ErrNotFound, statusCode{http.StatusNotFound, "NOT_FOUND", "Resource not found"}},
	{service.ErrForbidden, statusCode{http.StatusForbidden, "FORBIDDEN", "Insufficient permissions"}},
	{service.ErrExportUnavailable, statusCode{http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Data export is not available"}},
}

func (h HandlerSet) writeError(c *gin.Context, err error) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, validationResponse{Errors: verr.Errors})
		return
	}

	for _, entry := range errorTable {
		if errors.Is(err, entry.err) {
			c.JSON(entry.status, errorResponse{Error: entry.message, Code: entry.code})
			return
		}
	}

	h.log.Error().
		Err(err).
		Str("request_id", middleware.CurrentRequestID(c)).
		Str("path", c.FullPath()).
		Msg("request failed")
	c.JSON(http.StatusInternalServerError, errorResponse{Error: "Internal server error", Code: "INTERNAL_ERROR"})
}
