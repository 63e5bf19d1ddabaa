package room

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/festivetech/carolsync/internal/syncer"
)

// endCheckInterval is how often Run looks for a track that ran out.
const endCheckInterval = 1 * time.Second

// Adapter wires a Player to a sync session. Commands are applied to the
// player optimistically and the resulting state, not the command itself, is
// reported back, so status always reflects ground truth.
type Adapter struct {
	session *syncer.Session
	player  Player
	clock   clockwork.Clock

	mu         sync.Mutex
	activated  bool
	anchorMs   int64
	anchorPos  float64
	wasPlaying bool
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithClock injects the adapter's clock. Tests pass a fake.
func WithClock(c clockwork.Clock) AdapterOption {
	return func(a *Adapter) { a.clock = c }
}

// NewAdapter creates an adapter for one room session and player.
func NewAdapter(session *syncer.Session, player Player, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		session: session,
		player:  player,
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start registers the command handler and brings the session up in room
// mode. The handler is registered first so a command already sitting in the
// mailbox at subscribe time is not lost.
func (a *Adapter) Start() error {
	a.session.OnCommand(a.handleCommand)
	if err := a.session.InitAsRoom(); err != nil {
		return err
	}
	a.ReportStatus()
	return nil
}

// Stop tears the session down.
func (a *Adapter) Stop() {
	a.session.Destroy()
}

// Run watches for the track running out so the end transition is reported
// like any other. Returns when ctx is done.
func (a *Adapter) Run(ctx context.Context) {
	ticker := a.clock.NewTicker(endCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			a.mu.Lock()
			was := a.wasPlaying
			a.mu.Unlock()
			if was && !a.player.Playing() {
				a.ReportStatus()
			}
		case <-ctx.Done():
			return
		}
	}
}

// Play, Pause and Seek are the local playback transitions (e.g. a tap on
// the room page); each applies and reports.
func (a *Adapter) Play() {
	a.player.Play()
	a.ReportStatus()
}

func (a *Adapter) Pause() {
	a.player.Pause()
	a.ReportStatus()
}

func (a *Adapter) Seek(seconds float64) {
	a.player.SeekTo(seconds)
	a.refreshAnchorIfPlaying()
	a.ReportStatus()
}

func (a *Adapter) handleCommand(cmd syncer.Command) {
	log.Debug().Str("kind", string(cmd.Kind)).Str("id", cmd.ID).Msg("room applying command")
	switch cmd.Kind {
	case syncer.CommandPlay:
		a.player.Play()
	case syncer.CommandPause:
		a.player.Pause()
	case syncer.CommandStop:
		a.player.Pause()
		a.player.SeekTo(0)
	case syncer.CommandReset:
		a.player.Pause()
		a.player.SeekTo(0)
		a.mu.Lock()
		a.activated = false
		a.mu.Unlock()
	case syncer.CommandActivate:
		a.mu.Lock()
		a.activated = true
		a.mu.Unlock()
	case syncer.CommandSeek:
		if t, ok := cmd.SeekSeconds(); ok {
			a.player.SeekTo(t)
			a.refreshAnchorIfPlaying()
		} else {
			log.Debug().Str("id", cmd.ID).Msg("seek command without time, ignored")
		}
	}
	a.ReportStatus()
}

// refreshAnchorIfPlaying re-anchors extrapolation after a position jump.
func (a *Adapter) refreshAnchorIfPlaying() {
	if !a.player.Playing() {
		return
	}
	a.mu.Lock()
	a.anchorMs = a.clock.Now().UnixMilli()
	a.anchorPos = a.player.CurrentTime()
	a.mu.Unlock()
}

// ReportStatus sends the player's current state. A fresh anchor is stamped
// only on the transition into playing; while playing the existing anchor is
// carried so readers keep a stable extrapolation base.
func (a *Adapter) ReportStatus() {
	playing := a.player.Playing()
	pos := a.player.CurrentTime()

	a.mu.Lock()
	if playing && !a.wasPlaying {
		a.anchorMs = a.clock.Now().UnixMilli()
		a.anchorPos = pos
	}
	a.wasPlaying = playing
	activated := a.activated
	anchorMs, anchorPos := a.anchorMs, a.anchorPos
	a.mu.Unlock()

	opts := []syncer.StatusOption{
		syncer.WithPlaying(playing),
		syncer.WithCurrentTime(pos),
		syncer.WithActivated(activated),
	}
	if songID := a.player.SongID(); songID != "" {
		opts = append(opts, syncer.WithSong(songID))
	}
	if playing {
		opts = append(opts, syncer.WithAnchor(anchorMs, anchorPos))
	}
	a.session.SendStatus(opts...)
}

// Activated reports the room's activation flag.
func (a *Adapter) Activated() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.activated
}
