package domain

import (
	"strings"
	"time"
)

// ActivityDisplayLimit caps the activity log for display.
const ActivityDisplayLimit = 50

// NotesDisplayLimit caps the notes inbox for display.
const NotesDisplayLimit = 20

// ActivityLogEntry is an append-only record of something that happened on the board.
type ActivityLogEntry struct {
	ID          string    `json:"id"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

type NoteStatus string

const (
	NoteUnread NoteStatus = "unread"
	NoteRead   NoteStatus = "read"
)

// Note is a free-text inbox message, independent of tasks.
type Note struct {
	ID        string     `json:"id"`
	Content   string     `json:"content"`
	Status    NoteStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt,omitempty"`
}

// Deliverable is an entry of the link registry.
type Deliverable struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

var deliverableTypes = map[string]bool{
	"report":       true,
	"document":     true,
	"spreadsheet":  true,
	"presentation": true,
	"link":         true,
}

// ValidateNoteContent rejects blank notes.
func ValidateNoteContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return invalid("content", "must not be empty")
	}
	return nil
}

// ValidateDeliverable checks a registry entry before it is stored. An empty
// type defaults to "link".
func ValidateDeliverable(d Deliverable) error {
	if strings.TrimSpace(d.Title) == "" {
		return invalid("title", "must not be empty")
	}
	if strings.TrimSpace(d.URL) == "" {
		return invalid("url", "must not be empty")
	}
	if d.Type != "" && !deliverableTypes[d.Type] {
		return invalid("type", "unknown deliverable type "+d.Type)
	}
	return nil
}

// UnreadCount returns the number of unread notes.
func UnreadCount(notes []Note) int {
	n := 0
	for _, note := range notes {
		if note.Status == NoteUnread {
			n++
		}
	}
	return n
}
