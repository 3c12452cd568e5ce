package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"taskhub/internal/presenter"
)

type roleRequest struct {
	Name *string `json:"name" binding:"omitempty,max=50"`
}

func (h *Handler) listRoles(c *gin.Context) {
	roles, err := h.roles.List(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, presenter.Roles(roles))
}

func (h *Handler) getRole(c *gin.Context) {
	id, ok := parseID(c, "role")
	if !ok {
		return
	}
	role, err := h.roles.Get(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, presenter.Role(*role))
}

func (h *Handler) createRole(c *gin.Context) {
	var req roleRequest
	if !h.bindJSON(c, &req) {
		return
	}
	name := ""
	if req.Name != nil {
		name = *req.Name
	}
	role, err := h.roles.Create(c.Request.Context(), actorFrom(c), name)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, presenter.Role(*role))
}

func (h *Handler) updateRole(partial bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c, "role")
		if !ok {
			return
		}
		var req roleRequest
		if !h.bindJSON(c, &req) {
			return
		}
		ctx := c.Request.Context()
		actor := actorFrom(c)

		if req.Name == nil && partial {
			role, err := h.roles.Get(ctx, actor, id)
			if err != nil {
				h.writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, presenter.Role(*role))
			return
		}
		name := ""
		if req.Name != nil {
			name = *req.Name
		}
		role, err := h.roles.Update(ctx, actor, id, name)
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, presenter.Role(*role))
	}
}

func (h *Handler) deleteRole(c *gin.Context) {
	id, ok := parseID(c, "role")
	if !ok {
		return
	}
	if err := h.roles.Delete(c.Request.Context(), actorFrom(c), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
