package domain

// Collections share one change channel; subscribers filter by name.
const (
	CollectionTasks        = "tasks"
	CollectionActivity     = "activity_logs"
	CollectionNotes        = "notes"
	CollectionDeliverables = "deliverables"
)

const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Change is broadcast after every successful mutation. It only invalidates:
// subscribers re-fetch instead of patching from it.
type Change struct {
	Collection string `json:"collection"`
	Op         string `json:"op"`
	ID         string `json:"id,omitempty"`
}

// Activity actions written to the activity log.
const (
	ActionTaskCreated   = "task_created"
	ActionTaskUpdated   = "task_updated"
	ActionTaskCompleted = "task_completed"
	ActionTaskDeleted   = "task_deleted"
	ActionTaskMoved     = "task_moved"
	ActionNoteAdded     = "note_added"
	ActionStatusChanged = "status_changed"
)
