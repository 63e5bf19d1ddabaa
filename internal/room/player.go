// Package room drives a sync session from a playback surface: local
// transitions become status writes, incoming commands become player actions.
package room

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Player is the local playback surface a room adapter controls. CurrentTime
// is in seconds from the start of the track.
type Player interface {
	Play()
	Pause()
	SeekTo(seconds float64)
	CurrentTime() float64
	Playing() bool
	SongID() string
}

// TrackPlayer is a clock-driven Player for headless rooms and tests. While
// playing, the position advances linearly from the last anchor; it clamps
// at the track duration and stops there.
type TrackPlayer struct {
	clock clockwork.Clock

	mu          sync.Mutex
	songID      string
	duration    float64
	playing     bool
	position    float64
	lastUpdated time.Time
}

// NewTrackPlayer creates a stopped player for one track. A non-positive
// duration means unbounded.
func NewTrackPlayer(songID string, duration float64, clock clockwork.Clock) *TrackPlayer {
	return &TrackPlayer{
		clock:    clock,
		songID:   songID,
		duration: duration,
	}
}

func (p *TrackPlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settle()
	if p.playing {
		return
	}
	p.playing = true
	p.lastUpdated = p.clock.Now()
}

func (p *TrackPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settle()
	p.playing = false
}

func (p *TrackPlayer) SeekTo(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seconds < 0 {
		seconds = 0
	}
	if p.duration > 0 && seconds > p.duration {
		seconds = p.duration
	}
	p.position = seconds
	p.lastUpdated = p.clock.Now()
}

func (p *TrackPlayer) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settle()
	return p.position
}

func (p *TrackPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settle()
	return p.playing
}

func (p *TrackPlayer) SongID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.songID
}

// settle folds elapsed wall time into position. Callers hold p.mu.
func (p *TrackPlayer) settle() {
	if !p.playing {
		return
	}
	now := p.clock.Now()
	p.position += now.Sub(p.lastUpdated).Seconds()
	p.lastUpdated = now
	if p.duration > 0 && p.position >= p.duration {
		p.position = p.duration
		p.playing = false
	}
}
