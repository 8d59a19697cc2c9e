package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"consultancy/api/internal/models"
	"consultancy/api/internal/service"
)

type listUsersQuery struct {
	Page    int `form:"page" binding:"omitempty,min=1"`
	PerPage int `form:"perPage" binding:"omitempty,min=1,max=100"`
}

func (h HandlerSet) AdminListUsers(c *gin.Context) {
	var query listUsersQuery
	if !bindQuery(c, &query) {
		return
	}

	page, err := h.adminService.ListUsers(c.Request.Context(), query.Page, query.PerPage)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type setStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=active pending suspended"`
}

func (h HandlerSet) AdminSetStatus(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req setStatusRequest
	if !bindJSON(c, &req) {
		return
	}

	actor := service.Actor{ID: claims.UserID(), Role: models.UserRole(claims.Role)}
	if err := h.adminService.SetStatus(c.Request.Context(), actor, c.Param("id"), models.UserStatus(req.Status)); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Status updated"})
}

func (h HandlerSet) AdminStats(c *gin.Context) {
	stats, err := h.adminService.Stats(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
