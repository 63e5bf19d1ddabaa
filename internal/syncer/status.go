package syncer

import "time"

// RoomStatus is the per-room snapshot at status/{code}/{roomId}. Every write
// replaces the whole object; readers treat entries older than the freshness
// window as absent.
type RoomStatus struct {
	RoomID            string  `json:"roomId"`
	IsActive          bool    `json:"isActive"`
	IsPlaying         bool    `json:"isPlaying"`
	CurrentTime       float64 `json:"currentTime"`
	IsActivated       bool    `json:"isActivated"`
	PlayStartTimeMs   int64   `json:"playStartTime,omitempty"`
	PlayStartPosition float64 `json:"playStartPosition,omitempty"`
	SongID            string  `json:"songId,omitempty"`
	LastUpdateMs      int64   `json:"lastUpdate"`
}

// Fresh reports whether the entry is inside the freshness window at the
// given instant. Age exactly at the window counts as stale.
func (s RoomStatus) Fresh(now time.Time) bool {
	return now.UnixMilli()-s.LastUpdateMs < StatusFreshness.Milliseconds()
}

// EffectiveTime derives the current playback position. While playing, the
// (playStartTime, playStartPosition) anchor is extrapolated linearly so
// readers advance the clock without re-reading the store; otherwise
// CurrentTime is authoritative.
func (s RoomStatus) EffectiveTime(now time.Time) float64 {
	if s.IsPlaying && s.PlayStartTimeMs > 0 {
		return s.PlayStartPosition + float64(now.UnixMilli()-s.PlayStartTimeMs)/1000.0
	}
	return s.CurrentTime
}

// StatusOption sets one field of an outgoing status on top of the defaults
// (active, not playing, position zero, not activated).
type StatusOption func(*RoomStatus)

func WithActive(active bool) StatusOption {
	return func(s *RoomStatus) { s.IsActive = active }
}

func WithPlaying(playing bool) StatusOption {
	return func(s *RoomStatus) { s.IsPlaying = playing }
}

func WithCurrentTime(seconds float64) StatusOption {
	return func(s *RoomStatus) { s.CurrentTime = seconds }
}

func WithActivated(activated bool) StatusOption {
	return func(s *RoomStatus) { s.IsActivated = activated }
}

// WithAnchor sets the extrapolation anchor for a transition into playing.
func WithAnchor(startMs int64, startPosition float64) StatusOption {
	return func(s *RoomStatus) {
		s.PlayStartTimeMs = startMs
		s.PlayStartPosition = startPosition
	}
}

func WithSong(songID string) StatusOption {
	return func(s *RoomStatus) { s.SongID = songID }
}
