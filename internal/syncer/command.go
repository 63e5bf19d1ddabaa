package syncer

import (
	"fmt"
	"time"

	"github.com/rs/xid"
)

// CommandKind is the set of playback instructions a control panel can issue.
type CommandKind string

const (
	CommandPlay     CommandKind = "play"
	CommandPause    CommandKind = "pause"
	CommandStop     CommandKind = "stop"
	CommandReset    CommandKind = "reset"
	CommandActivate CommandKind = "activate"
	CommandSeek     CommandKind = "seek"
)

// Command is the single-slot mailbox payload at commands/{code}. The store
// holds only the latest command; earlier ones are superseded, never queued.
type Command struct {
	ID         string                 `json:"id"`
	Code       string                 `json:"code"`
	Kind       CommandKind            `json:"command"`
	IssuedAtMs int64                  `json:"timestamp"`
	TargetRoom string                 `json:"targetRoom,omitempty"`
	Payload    map[string]interface{} `json:"data,omitempty"`
}

// newCommandID derives a per-emission unique id from the code, the issue
// time and a random suffix.
func newCommandID(code string, now time.Time) string {
	return fmt.Sprintf("%s-%d-%s", code, now.UnixMilli(), xid.New().String())
}

// SeekSeconds extracts the absolute position of a seek command's payload.
func (c Command) SeekSeconds() (float64, bool) {
	if c.Payload == nil {
		return 0, false
	}
	v, ok := c.Payload["time"].(float64)
	return v, ok
}

// Expired reports whether the command is older than the expiry window at
// the given instant. Age exactly at the window is still live.
func (c Command) Expired(now time.Time) bool {
	return now.UnixMilli()-c.IssuedAtMs > CommandExpiry.Milliseconds()
}
