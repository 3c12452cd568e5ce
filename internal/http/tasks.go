package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"taskhub/internal/domain"
	"taskhub/internal/presenter"
	"taskhub/internal/repository"
	"taskhub/internal/service"
)

type taskRequest struct {
	Title        *string    `json:"title" binding:"omitempty,max=200"`
	Description  *string    `json:"description"`
	DueDate      *dueDate   `json:"due_date"`
	Priority     *string    `json:"priority" binding:"omitempty,oneof=LOW MEDIUM HIGH"`
	Status       *string    `json:"status" binding:"omitempty,oneof=PENDING IN_PROGRESS COMPLETED"`
	AssignedTo   nullableID `json:"assigned_to"`
	AssignedToID nullableID `json:"assigned_to_id"`
}

func (r taskRequest) input() service.TaskInput {
	input := service.TaskInput{
		Title:       r.Title,
		Description: r.Description,
		AssignedTo:  r.AssignedTo.optional(),
	}
	if r.AssignedToID.Set {
		input.AssignedTo = r.AssignedToID.optional()
	}
	if r.DueDate != nil {
		due := r.DueDate.Time
		input.DueDate = &due
	}
	if r.Priority != nil {
		p := domain.TaskPriority(*r.Priority)
		input.Priority = &p
	}
	if r.Status != nil {
		s := domain.TaskStatus(*r.Status)
		input.Status = &s
	}
	return input
}

func (h *Handler) createTask(c *gin.Context) {
	var req taskRequest
	if !h.bindJSON(c, &req) {
		return
	}

	task, err := h.tasks.CreateTask(c.Request.Context(), actorFrom(c), req.input())
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, presenter.Task(*task))
}

func (h *Handler) listTasks(c *gin.Context) {
	filter, err := taskFilterFromQuery(c, actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}

	tasks, err := h.tasks.ListTasks(c.Request.Context(), actorFrom(c), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, presenter.Tasks(tasks))
}

func (h *Handler) getTask(c *gin.Context) {
	id, ok := parseID(c, "task")
	if !ok {
		return
	}

	task, err := h.tasks.GetTask(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, presenter.Task(*task))
}

func (h *Handler) updateTask(partial bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c, "task")
		if !ok {
			return
		}
		if err := h.tasks.AuthorizeUpdate(c.Request.Context(), actorFrom(c), id); err != nil {
			h.writeError(c, err)
			return
		}
		var req taskRequest
		if !h.bindJSON(c, &req) {
			return
		}

		task, err := h.tasks.UpdateTask(c.Request.Context(), actorFrom(c), id, req.input(), partial)
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, presenter.Task(*task))
	}
}

func (h *Handler) deleteTask(c *gin.Context) {
	id, ok := parseID(c, "task")
	if !ok {
		return
	}

	if err := h.tasks.DeleteTask(c.Request.Context(), actorFrom(c), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// taskFilterFromQuery reads the list filters. Scope is filled in by the service.
func taskFilterFromQuery(c *gin.Context, actor *domain.User) (repository.TaskFilter, error) {
	var filter repository.TaskFilter
	fields := map[string]string{}

	if v := strings.TrimSpace(c.Query("assigned_to")); v != "" {
		if v == "me" {
			if actor != nil {
				id := actor.ID
				filter.AssignedTo = &id
			}
		} else if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			filter.AssignedTo = &id
		} else {
			fields["assigned_to"] = "expected \"me\" or a user id"
		}
	}

	for _, v := range splitList(c.Query("status")) {
		status := domain.TaskStatus(strings.ToUpper(v))
		if !status.Valid() {
			fields["status"] = "must be one of PENDING, IN_PROGRESS, COMPLETED"
			break
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	for _, v := range splitList(c.Query("priority")) {
		priority := domain.TaskPriority(strings.ToUpper(v))
		if !priority.Valid() {
			fields["priority"] = "must be one of LOW, MEDIUM, HIGH"
			break
		}
		filter.Priorities = append(filter.Priorities, priority)
	}

	for name, target := range map[string]**time.Time{"due_before": &filter.DueBefore, "due_after": &filter.DueAfter} {
		if v := c.Query(name); v != "" {
			t, ok := parseTime(v)
			if !ok {
				fields[name] = "use RFC 3339 or YYYY-MM-DD"
				continue
			}
			*target = &t
		}
	}

	filter.Search = strings.TrimSpace(c.Query("search"))
	filter.Ordering = strings.TrimSpace(c.Query("ordering"))

	for name, target := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := c.Query(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				fields[name] = "must be a non-negative integer"
				continue
			}
			*target = n
		}
	}

	if len(fields) > 0 {
		return filter, domain.ValidationError(fields)
	}
	return filter, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
