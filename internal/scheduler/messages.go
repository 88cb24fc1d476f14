package scheduler

// InboxMessage is the container for all commands sent to the heartbeat loop
type InboxMessage struct {
	Type         MessageType
	Data         interface{}
	ResponseChan chan<- interface{} // Optional, for request/response pattern
}

// MessageType identifies the type of command being sent to the loop
type MessageType int

const (
	// Registry changes
	MsgAddTask    MessageType = iota // Register a scheduled task
	MsgRemoveTask                    // Deregister a task by id

	// Queries
	MsgListTasks // Snapshot of the registry
)

// String returns a human-readable representation of the message type
func (m MessageType) String() string {
	switch m {
	case MsgAddTask:
		return "add_task"
	case MsgRemoveTask:
		return "remove_task"
	case MsgListTasks:
		return "list_tasks"
	default:
		return "unknown"
	}
}

// AddTaskMsg carries a fully built task into the registry
type AddTaskMsg struct {
	Task *ScheduledTask
}

// RemoveTaskMsg removes the task with the given id. Unknown ids are ignored.
type RemoveTaskMsg struct {
	ID TaskID
}

// ListTasksMsg requests a snapshot of the registry (empty payload)
type ListTasksMsg struct{}

// ListTasksResponse is the response to ListTasksMsg
type ListTasksResponse struct {
	Tasks []TaskInfo
}
