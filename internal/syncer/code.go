// Package syncer implements the command/status protocol that keeps carol
// rooms and control panels in step through a shared backing store. One
// Session mediates all traffic for a (sync code, room) pair; the store is
// the single source of truth and the session caches nothing canonical.
package syncer

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidCodeFormat is returned by NewSession when the sync code does not
// match the accepted format after normalisation.
var ErrInvalidCodeFormat = errors.New("invalid sync code: 3-20 uppercase letters, digits or hyphens")

var codePattern = regexp.MustCompile(`^[A-Z0-9-]{3,20}$`)

// NormalizeCode trims and uppercases a raw sync code. Idempotent.
func NormalizeCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// ValidateCode checks an already-normalised code against the accepted format.
func ValidateCode(code string) error {
	if !codePattern.MatchString(code) {
		return ErrInvalidCodeFormat
	}
	return nil
}

// The deployed room identifiers. Unknown ids are tolerated by the protocol
// and simply namespace a status entry; this catalog fixes display names and
// ordering for panels.
const (
	RoomEmmanuel = "room-emmanuel"
	RoomTwilight = "room-twilight"
	RoomFaithful = "room-faithful"
	RoomJoy      = "room-joy"
	RoomSilent   = "room-silent"
)

// RoomOrder is the panel display order.
var RoomOrder = []string{RoomEmmanuel, RoomTwilight, RoomFaithful, RoomJoy, RoomSilent}

// RoomNames maps room ids to operator-facing labels.
var RoomNames = map[string]string{
	RoomEmmanuel: "Room 1: Emmanuel",
	RoomTwilight: "Room 2: Twilight",
	RoomFaithful: "Room 3: Faithful",
	RoomJoy:      "Room 4: Joy",
	RoomSilent:   "Room 5: Silent Night",
}
