// Package realtime keeps the set of live websocket connections and pushes
// task change frames to them.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"taskhub/internal/authz"
	"taskhub/internal/domain"
	"taskhub/internal/notify"
	"taskhub/internal/presenter"
)

// FrameTypeTaskUpdate is the only frame type pushed to clients.
const FrameTypeTaskUpdate = "task_update"

var ErrRegistryClosed = errors.New("realtime registry is shut down")

// Transport is the part of *websocket.Conn the registry relies on.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// TaskLookup loads the current state of a task without any actor scope.
type TaskLookup interface {
	LookupTask(ctx context.Context, id int64) (*domain.Task, error)
}

// UserLookup loads the current state of a connected user.
type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
}

// Broker is the subscribe side of the notification bus.
type Broker interface {
	Subscribe(sub notify.Subscriber) *notify.Subscription
}

// Frame is the JSON document written for every task event.
type Frame struct {
	Type   string                  `json:"type"`
	Action domain.TaskAction       `json:"action"`
	TaskID int64                   `json:"task_id"`
	Task   *presenter.TaskResponse `json:"task"`
}

type Config struct {
	SendTimeout  time.Duration
	PingInterval time.Duration
	PongWait     time.Duration
	// Users, when set, is consulted before every delivery so role changes
	// apply to open connections. Deleted or deactivated users are disconnected.
	Users  UserLookup
	Logger *logrus.Logger
}

// Registry tracks open connections. It is safe for concurrent use.
type Registry struct {
	broker Broker
	lookup TaskLookup
	cfg    Config

	mu     sync.Mutex
	conns  map[string]*Connection
	closed bool
	nextID atomic.Uint64
}

func NewRegistry(broker Broker, lookup TaskLookup, cfg Config) *Registry {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Registry{
		broker: broker,
		lookup: lookup,
		cfg:    cfg,
		conns:  make(map[string]*Connection),
	}
}

// Open subscribes a new connection for actor. Once it returns the connection
// receives every event published afterwards.
func (r *Registry) Open(actor *domain.User, transport Transport) (*Connection, error) {
	conn := &Connection{
		id:        fmt.Sprintf("conn-%d", r.nextID.Add(1)),
		actor:     actor,
		transport: transport,
		registry:  r,
		done:      make(chan struct{}),
	}
	conn.logger = r.cfg.Logger.WithFields(logrus.Fields{
		"conn_id": conn.id,
		"user_id": actor.ID,
	})

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	conn.sub = r.broker.Subscribe(conn)
	r.conns[conn.id] = conn
	count := len(r.conns)
	r.mu.Unlock()

	conn.logger.Infof("websocket connection opened (total: %d)", count)
	return conn, nil
}

// Count returns the number of open connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Shutdown closes every open connection and refuses new ones.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.closed = true
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func (r *Registry) untrack(c *Connection) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, c.id)
	return len(r.conns)
}

// Connection is one live websocket client.
type Connection struct {
	id        string
	actor     *domain.User
	transport Transport
	registry  *Registry
	sub       *notify.Subscription
	logger    *logrus.Entry

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func (c *Connection) ID() string { return c.id }

// Deliver writes the frame for event. Delete events carry a null task; other
// events re-read the task so the frame reflects its state at delivery time.
func (c *Connection) Deliver(ctx context.Context, event domain.TaskEvent) error {
	if c.isClosed() {
		return nil
	}

	actor, ok := c.currentActor(ctx)
	if !ok {
		c.logger.Info("user no longer active, closing websocket connection")
		c.Close()
		return nil
	}

	frame := Frame{
		Type:   FrameTypeTaskUpdate,
		Action: event.Action,
		TaskID: event.TaskID,
	}
	if event.Action != domain.TaskActionDeleted {
		frame.Task = c.render(ctx, actor, event.TaskID)
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return c.write(websocket.TextMessage, payload)
}

// currentActor re-reads the connected user. ok is false once the user has been
// deleted or deactivated. A failed lookup yields a nil actor, which sees no task.
func (c *Connection) currentActor(ctx context.Context) (*domain.User, bool) {
	users := c.registry.cfg.Users
	if users == nil {
		return c.actor, true
	}
	user, err := users.GetByID(ctx, c.actor.ID)
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		return nil, false
	case err != nil:
		c.logger.Warnf("lookup user for frame: %v", err)
		return nil, true
	case !user.IsActive:
		return nil, false
	}
	return user, true
}

func (c *Connection) render(ctx context.Context, actor *domain.User, id int64) *presenter.TaskResponse {
	task, err := c.registry.lookup.LookupTask(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrTaskNotFound) {
			c.logger.WithField("task_id", id).Warnf("lookup task for frame: %v", err)
		}
		return nil
	}
	if !authz.CanAccess(actor, authz.ActionRetrieve, authz.ResourceTasks, task) {
		return nil
	}
	resp := presenter.Task(*task)
	return &resp
}

func (c *Connection) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.isClosed() {
		return nil
	}
	if err := c.transport.SetWriteDeadline(time.Now().Add(c.registry.cfg.SendTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.transport.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Serve pings the client and discards inbound frames until the transport
// fails or the connection is closed. The connection is closed on return.
func (c *Connection) Serve() {
	defer c.Close()

	go c.pingLoop()

	wait := c.registry.cfg.PongWait
	_ = c.transport.SetReadDeadline(time.Now().Add(wait))
	c.transport.SetPongHandler(func(string) error {
		return c.transport.SetReadDeadline(time.Now().Add(wait))
	})
	for {
		if _, _, err := c.transport.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debugf("websocket read: %v", err)
			}
			return
		}
	}
}

func (c *Connection) pingLoop() {
	ticker := time.NewTicker(c.registry.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.logger.Debugf("websocket ping: %v", err)
				c.Close()
				return
			}
		}
	}
}

// Close stops delivery and releases the transport. Safe to call repeatedly.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.sub != nil {
			c.sub.Close()
		}
		count := c.registry.untrack(c)

		if err := c.transport.Close(); err != nil {
			c.logger.Debugf("close transport: %v", err)
		}
		c.logger.Infof("websocket connection closed (total: %d)", count)
	})
}

// Done is closed once the connection has been closed.
func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
