package http

import (
	"net/http"
	"strings"

	"koma/internal/core/domain"
	"koma/internal/core/ports"
	"koma/internal/infrastructure/middleware"
	"koma/pkg/errors"

	"github.com/gin-gonic/gin"
)

type InviteHandler struct {
	invites ports.InviteService
}

func NewInviteHandler(invites ports.InviteService) *InviteHandler {
	return &InviteHandler{invites: invites}
}

func (h *InviteHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1/invites")
	{
		api.POST("", h.Create)
		api.GET("/:token", middleware.InviteMiddleware(h.invites), h.Get)
	}
}

type CreateInviteRequest struct {
	Provider  string `json:"provider" binding:"required,max=200"`
	Role      string `json:"role"`
	Autostart bool   `json:"autostart"`
}

// Create issues a join link for the call room of a provider. The role
// defaults to the responder, the side a booking client joins as.
func (h *InviteHandler) Create(c *gin.Context) {
	var req CreateInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	role := domain.RoleResponder
	if strings.TrimSpace(req.Role) != "" {
		r, err := domain.ParseRole(req.Role)
		if err != nil {
			c.Error(errors.NewInvalidInputError(err.Error()))
			return
		}
		role = r
	}

	invite, err := h.invites.Create(req.Provider, role, req.Autostart)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, invite)
}

func (h *InviteHandler) Get(c *gin.Context) {
	invite, ok := middleware.InviteFrom(c)
	if !ok {
		c.Error(errors.NewUnauthorizedError("invite token required"))
		return
	}
	c.JSON(http.StatusOK, invite)
}
