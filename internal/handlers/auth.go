package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"consultancy/api/internal/middleware"
	"consultancy/api/internal/models"
	"consultancy/api/internal/security"
	"consultancy/api/internal/service"
)

type messageResponse struct {
	Message string `json:"message"`
}

type registerRequest struct {
	Email     string  `json:"email" binding:"required,email"`
	Password  string  `json:"password" binding:"required,min=8"`
	FirstName string  `json:"firstName" binding:"required,max=100"`
	LastName  string  `json:"lastName" binding:"required,max=100"`
	Company   *string `json:"company" binding:"omitempty,max=200"`
}

type registerResponse struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

func (h HandlerSet) RegisterAccount(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}

	userID, err := h.authService.Register(c.Request.Context(), service.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Company:   req.Company,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, registerResponse{
		Message: "Registration successful. Please check your email to verify your account.",
		UserID:  userID,
	})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	AccessToken  string            `json:"accessToken"`
	RefreshToken string            `json:"refreshToken"`
	User         models.PublicUser `json:"user"`
}

type mfaChallengeResponse struct {
	RequiresMFA bool   `json:"requiresMfa"`
	MFAToken    string `json:"mfaToken"`
}

func (h HandlerSet) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.authService.Login(c.Request.Context(), service.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: c.ClientIP(),
		UserAgent: c.GetHeader("User-Agent"),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	sendLoginResult(c, result)
}

type mfaVerifyRequest struct {
	MFAToken string `json:"mfaToken" binding:"required"`
	Code     string `json:"code" binding:"required,len=6,numeric"`
}

func (h HandlerSet) VerifyMFA(c *gin.Context) {
	var req mfaVerifyRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.authService.VerifyMFA(c.Request.Context(), service.MFALoginInput{
		MFAToken:  req.MFAToken,
		Code:      req.Code,
		IPAddress: c.ClientIP(),
		UserAgent: c.GetHeader("User-Agent"),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	sendLoginResult(c, result)
}

func sendLoginResult(c *gin.Context, result service.LoginResult) {
	if result.RequiresMFA {
		c.JSON(http.StatusOK, mfaChallengeResponse{RequiresMFA: true, MFAToken: result.MFAToken})
		return
	}
	c.JSON(http.StatusOK, loginResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		User:         result.User,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
}

func (h HandlerSet) Refresh(c *gin.Context) {
	var req refreshRequest
	if !bindJSON(c, &req) {
		return
	}

	accessToken, err := h.authService.Refresh(c.Request.Context(), service.RefreshInput{
		RefreshToken: req.RefreshToken,
		IPAddress:    c.ClientIP(),
		UserAgent:    c.GetHeader("User-Agent"),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, refreshResponse{AccessToken: accessToken})
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Logout ends the session bound to the supplied refresh token, or every
// session of the caller when the body carries none.
func (h HandlerSet) Logout(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}

	var req logoutRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, validationResponse{Errors: validationMessages(err)})
		return
	}

	if err := h.authService.Logout(c.Request.Context(), claims.UserID(), req.RefreshToken); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Logged out successfully"})
}

type tokenRequest struct {
	Token string `json:"token" binding:"required"`
}

type verifyEmailResponse struct {
	Message string `json:"message"`
	Email   string `json:"email"`
}

func (h HandlerSet) VerifyEmail(c *gin.Context) {
	var req tokenRequest
	if !bindJSON(c, &req) {
		return
	}

	email, err := h.authService.VerifyEmail(c.Request.Context(), req.Token)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, verifyEmailResponse{Message: "Email verified successfully", Email: email})
}

type emailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

func (h HandlerSet) ResendVerification(c *gin.Context) {
	var req emailRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.authService.ResendVerification(c.Request.Context(), req.Email); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{
		Message: "If the account exists and is not yet verified, a new verification email has been sent.",
	})
}

func (h HandlerSet) RequestPasswordReset(c *gin.Context) {
	var req emailRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.authService.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{
		Message: "If an account exists for that email, a password reset link has been sent.",
	})
}

type resetPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

func (h HandlerSet) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.authService.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Password has been reset successfully"})
}

func requireClaims(c *gin.Context) (*security.Claims, bool) {
	claims, ok := middleware.CurrentClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "Authentication required", Code: "UNAUTHORIZED"})
		return nil, false
	}
	return claims, true
}
