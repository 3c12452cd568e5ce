package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"taskhub/internal/storage"
)

type exportObjectResponse struct {
	Key          string  `json:"key"`
	Size         int64   `json:"size"`
	LastModified *string `json:"last_modified,omitempty"`
}

func objectToResponse(obj storage.ObjectInfo) exportObjectResponse {
	resp := exportObjectResponse{
		Key:  obj.Key,
		Size: obj.Size,
	}
	if obj.LastModified != nil && !obj.LastModified.IsZero() {
		v := obj.LastModified.UTC().Format(time.RFC3339)
		resp.LastModified = &v
	}
	return resp
}

// exportTasks uploads the caller's visible tasks, honoring the list filters.
func (h *Handler) exportTasks(c *gin.Context) {
	actor := actorFrom(c)
	filter, err := taskFilterFromQuery(c, actor)
	if err != nil {
		h.writeError(c, err)
		return
	}
	result, err := h.exports.Export(c.Request.Context(), actor, filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) listExports(c *gin.Context) {
	objects, err := h.exports.List(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	resp := make([]exportObjectResponse, len(objects))
	for i := range objects {
		resp[i] = objectToResponse(objects[i])
	}
	c.JSON(http.StatusOK, resp)
}
