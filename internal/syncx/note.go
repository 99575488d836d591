package syncx

// Note types accepted on the wire. Anything else normalizes to TypeNote.
const (
	TypeNote = "NOTE"
	TypeTask = "TASK"
	TypeIdea = "IDEA"
)

// Priorities accepted on the wire. Anything else is dropped.
const (
	PriorityUrgent = "urgent"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

// MaxTags bounds the tag list; extras are clamped off in input order.
const MaxTags = 20

// Note is the authoritative sync entity. Timestamps are Unix milliseconds.
// Optional fields are pointers so serialization omits them when unset.
type Note struct {
	ID                     string   `json:"id"`
	Content                string   `json:"content"`
	Title                  *string  `json:"title,omitempty"`
	Tags                   []string `json:"tags,omitempty"`
	Type                   string   `json:"type"`
	IsProcessed            bool     `json:"isProcessed"`
	IsCompleted            bool     `json:"isCompleted"`
	IsArchived             bool     `json:"isArchived"`
	IsPinned               bool     `json:"isPinned"`
	DueDate                *int64   `json:"dueDate,omitempty"`
	Priority               *string  `json:"priority,omitempty"`
	AnalysisState          *string  `json:"analysisState,omitempty"`
	AnalysisVersion        *int     `json:"analysisVersion,omitempty"`
	ContentHash            *string  `json:"contentHash,omitempty"`
	CreatedAt              int64    `json:"createdAt"`
	UpdatedAt              int64    `json:"updatedAt"`
	Version                int64    `json:"version"`
	DeletedAt              *int64   `json:"deletedAt,omitempty"`
	LastModifiedByDeviceID string   `json:"lastModifiedByDeviceId,omitempty"`
}

// Deleted reports whether the note is a tombstone.
func (n *Note) Deleted() bool { return n.DeletedAt != nil }

// Clone returns a deep copy safe to hand out past a storage boundary.
func (n *Note) Clone() *Note {
	if n == nil {
		return nil
	}
	out := *n
	if n.Tags != nil {
		out.Tags = append([]string(nil), n.Tags...)
	}
	out.Title = cloneStr(n.Title)
	out.DueDate = cloneI64(n.DueDate)
	out.Priority = cloneStr(n.Priority)
	out.AnalysisState = cloneStr(n.AnalysisState)
	out.AnalysisVersion = cloneInt(n.AnalysisVersion)
	out.ContentHash = cloneStr(n.ContentHash)
	out.DeletedAt = cloneI64(n.DeletedAt)
	return &out
}

// Normalize sanitizes an incoming upsert payload ahead of persistence.
// prior is the currently stored note, nil when this is a create. The server
// owns updatedAt; createdAt is preserved across updates and defaulted for
// creates that omit it. An upsert always clears any tombstone marker.
func Normalize(n *Note, prior *Note, deviceID string, nowMs int64) {
	switch n.Type {
	case TypeNote, TypeTask, TypeIdea:
	default:
		n.Type = TypeNote
	}

	if n.Priority != nil {
		switch *n.Priority {
		case PriorityUrgent, PriorityNormal, PriorityLow:
		default:
			n.Priority = nil
		}
	}

	if len(n.Tags) > MaxTags {
		n.Tags = n.Tags[:MaxTags]
	}

	if prior != nil {
		n.CreatedAt = prior.CreatedAt
	} else if n.CreatedAt <= 0 {
		n.CreatedAt = nowMs
	}
	n.UpdatedAt = nowMs
	n.DeletedAt = nil
	n.LastModifiedByDeviceID = deviceID
}

func cloneStr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneI64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
