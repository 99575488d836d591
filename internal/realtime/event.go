package realtime

// EventTypeSync labels cursor notifications on the wire.
const EventTypeSync = "sync"

// Event announces a committed change to a user's log. Origin names the
// publishing instance so the redis subscriber can drop its own echoes;
// the local fan-out has already delivered them.
type Event struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	Cursor    int64  `json:"cursor"`
	EmittedAt int64  `json:"emittedAt"`
	Origin    string `json:"origin,omitempty"`
}
