package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"taskhub/internal/realtime"
	"taskhub/internal/service"
)

// Services bundles the application services exposed over HTTP.
type Services struct {
	Tasks   service.TaskService
	Users   service.UserService
	Roles   service.RoleService
	Auth    *service.AuthService
	Exports service.ExportService
}

// Handler wires HTTP routes to domain services.
type Handler struct {
	tasks    service.TaskService
	users    service.UserService
	roles    service.RoleService
	auth     *service.AuthService
	exports  service.ExportService
	registry *realtime.Registry
	logger   *logrus.Logger
}

func NewHandler(svc Services, registry *realtime.Registry, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	useJSONFieldNames()
	return &Handler{
		tasks:    svc.Tasks,
		users:    svc.Users,
		roles:    svc.Roles,
		auth:     svc.Auth,
		exports:  svc.Exports,
		registry: registry,
		logger:   logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(requestLogger(h.logger), corsMiddleware())

	router.GET("/ws/tasks", h.taskSocket)

	api := router.Group("/api")
	{
		api.GET("/health", h.health)
		api.POST("/token", h.obtainToken)
		api.POST("/token/refresh", h.refreshToken)
	}

	authed := api.Group("", h.authMiddleware())
	{
		authed.GET("/users/me", h.me)

		authed.GET("/tasks", h.listTasks)
		authed.POST("/tasks", h.createTask)
		authed.POST("/tasks/export", h.exportTasks)
		authed.GET("/tasks/:id", h.getTask)
		authed.PUT("/tasks/:id", h.updateTask(false))
		authed.PATCH("/tasks/:id", h.updateTask(true))
		authed.DELETE("/tasks/:id", h.deleteTask)

		authed.GET("/exports", h.listExports)

		authed.GET("/users", h.listUsers)
		authed.POST("/users", h.createUser)
		authed.GET("/users/:id", h.getUser)
		authed.PUT("/users/:id", h.updateUser(false))
		authed.PATCH("/users/:id", h.updateUser(true))
		authed.DELETE("/users/:id", h.deleteUser)

		authed.GET("/roles", h.listRoles)
		authed.POST("/roles", h.createRole)
		authed.GET("/roles/:id", h.getRole)
		authed.PUT("/roles/:id", h.updateRole(false))
		authed.PATCH("/roles/:id", h.updateRole(true))
		authed.DELETE("/roles/:id", h.deleteRole)
	}
}

func (h *Handler) health(c *gin.Context) {
	resp := gin.H{"ok": "ok"}
	if h.registry != nil {
		resp["connections"] = h.registry.Count()
	}
	c.JSON(http.StatusOK, resp)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func parseID(c *gin.Context, what string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "error": what + " not found"})
		return 0, false
	}
	return id, true
}
