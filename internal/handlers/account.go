package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"consultancy/api/internal/models"
	"consultancy/api/internal/service"
)

type meResponse struct {
	User models.PublicUser `json:"user"`
}

func (h HandlerSet) Me(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}

	user, err := h.authService.Me(c.Request.Context(), claims.UserID())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, meResponse{User: user})
}

type sessionsResponse struct {
	Sessions []service.SessionView `json:"sessions"`
}

func (h HandlerSet) ListSessions(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}

	sessions, err := h.authService.ListSessions(c.Request.Context(), claims.UserID(), claims.SessionID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionsResponse{Sessions: sessions})
}

func (h HandlerSet) RevokeSession(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}

	if err := h.authService.RevokeSession(c.Request.Context(), claims.UserID(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Session revoked"})
}

type mfaSetupResponse struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauthUrl"`
}

func (h HandlerSet) SetupMFA(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}

	setup, err := h.authService.SetupMFA(c.Request.Context(), claims.UserID())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, mfaSetupResponse{Secret: setup.Secret, OTPAuthURL: setup.URL})
}

type mfaCodeRequest struct {
	Code string `json:"code" binding:"required,len=6,numeric"`
}

func (h HandlerSet) EnableMFA(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req mfaCodeRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.authService.EnableMFA(c.Request.Context(), claims.UserID(), req.Code); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Two-factor authentication enabled"})
}

func (h HandlerSet) DisableMFA(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req mfaCodeRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.authService.DisableMFA(c.Request.Context(), claims.UserID(), req.Code); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Two-factor authentication disabled"})
}

type exportResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h HandlerSet) ExportData(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}

	result, err := h.authService.ExportData(c.Request.Context(), claims.UserID())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, exportResponse{URL: result.URL, ExpiresAt: result.ExpiresAt})
}

type eraseRequest struct {
	Password string `json:"password" binding:"required"`
}

func (h HandlerSet) EraseAccount(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req eraseRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.authService.EraseAccount(c.Request.Context(), claims.UserID(), req.Password); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Account deleted"})
}
