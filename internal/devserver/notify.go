package devserver

import (
	"time"

	"github.com/fluxbase-eu/fluxpack/internal/builderr"
	"github.com/fluxbase-eu/fluxpack/internal/bundler"
)

// Notification types pushed to reload clients
const (
	TypeBuildOK     = "build-ok"
	TypeBuildFailed = "build-failed"
	TypeHeartbeat   = "heartbeat"
)

// BuildError is one failure of a build generation as shown to clients.
type BuildError struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// Notification is the payload published on the builds channel and
// forwarded to every connected client.
type Notification struct {
	Type        string       `json:"type"`
	Generation  uint64       `json:"generation"`
	DurationMS  int64        `json:"duration_ms,omitempty"`
	Modules     int          `json:"modules,omitempty"`
	Transformed int          `json:"transformed,omitempty"`
	Reused      int          `json:"reused,omitempty"`
	Artifacts   []string     `json:"artifacts,omitempty"`
	Errors      []BuildError `json:"errors,omitempty"`
	Time        time.Time    `json:"time"`
}

// NewNotification describes a finished generation. generation numbers a
// failed outcome, which carries no result.
func NewNotification(o bundler.Outcome, generation uint64, now time.Time) Notification {
	if o.Err != nil {
		n := Notification{Type: TypeBuildFailed, Generation: generation, Time: now}
		for _, err := range builderr.Flatten(o.Err) {
			n.Errors = append(n.Errors, BuildError{Kind: string(builderr.KindOf(err)), Message: err.Error()})
		}
		return n
	}

	r := o.Result
	n := Notification{
		Type:        TypeBuildOK,
		Generation:  r.Generation,
		DurationMS:  r.Duration.Milliseconds(),
		Modules:     r.Modules,
		Transformed: r.Transformed,
		Reused:      r.Reused,
		Time:        now,
	}
	for _, a := range r.Artifacts {
		n.Artifacts = append(n.Artifacts, a.Name)
	}
	return n
}
