package domain

// TaskAction names the kind of mutation a TaskEvent reports.
type TaskAction string

const (
	TaskActionCreated TaskAction = "created"
	TaskActionUpdated TaskAction = "updated"
	TaskActionDeleted TaskAction = "deleted"
)

// TaskEvent announces a committed task mutation. It deliberately carries no
// snapshot: consumers read the current state when they deliver it.
type TaskEvent struct {
	TaskID int64      `json:"task_id"`
	Action TaskAction `json:"action"`
}
