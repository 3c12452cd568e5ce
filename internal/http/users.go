package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"taskhub/internal/presenter"
	"taskhub/internal/service"
)

type userRequest struct {
	Username *string    `json:"username" binding:"omitempty,max=150"`
	Email    *string    `json:"email"`
	Password *string    `json:"password"`
	RoleID   nullableID `json:"role_id"`
	IsActive *bool      `json:"is_active"`
}

func (r userRequest) input() service.UserInput {
	return service.UserInput{
		Username: r.Username,
		Email:    r.Email,
		Password: r.Password,
		RoleID:   r.RoleID.optional(),
		IsActive: r.IsActive,
	}
}

func (h *Handler) me(c *gin.Context) {
	user, err := h.users.Me(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, presenter.User(*user))
}

func (h *Handler) listUsers(c *gin.Context) {
	users, err := h.users.List(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, presenter.Users(users))
}

func (h *Handler) getUser(c *gin.Context) {
	id, ok := parseID(c, "user")
	if !ok {
		return
	}
	user, err := h.users.Get(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, presenter.User(*user))
}

func (h *Handler) createUser(c *gin.Context) {
	var req userRequest
	if !h.bindJSON(c, &req) {
		return
	}
	user, err := h.users.Create(c.Request.Context(), actorFrom(c), req.input())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, presenter.User(*user))
}

func (h *Handler) updateUser(partial bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c, "user")
		if !ok {
			return
		}
		var req userRequest
		if !h.bindJSON(c, &req) {
			return
		}
		user, err := h.users.Update(c.Request.Context(), actorFrom(c), id, req.input(), partial)
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, presenter.User(*user))
	}
}

func (h *Handler) deleteUser(c *gin.Context) {
	id, ok := parseID(c, "user")
	if !ok {
		return
	}
	if err := h.users.Delete(c.Request.Context(), actorFrom(c), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
