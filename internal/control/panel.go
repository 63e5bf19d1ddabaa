// Package control is the operator side of the sync protocol: it aggregates
// room statuses into a display model and issues playback commands.
package control

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/festivetech/carolsync/internal/syncer"
)

// LocalTickInterval is the display refresh period. Between store pushes the
// panel extrapolates each playing room's clock locally so time advances
// smoothly without extra reads.
const LocalTickInterval = 500 * time.Millisecond

// RoomColor summarises a room for the operator display.
type RoomColor string

const (
	ColorGreen  RoomColor = "green"  // playing
	ColorYellow RoomColor = "yellow" // paused or idle
	ColorRed    RoomColor = "red"    // stopped at zero
)

// RoomView is one room's row in the panel.
type RoomView struct {
	Status        syncer.RoomStatus
	Name          string
	EffectiveTime float64
	Color         RoomColor
}

// Panel aggregates statuses pushed for one sync code. Rooms are added to
// the visible set once seen fresh and never removed automatically, so a
// briefly missed heartbeat does not make a room flicker out; removal is an
// explicit operator action.
type Panel struct {
	session *syncer.Session
	clock   clockwork.Clock

	mu    sync.Mutex
	rooms map[string]syncer.RoomStatus
}

// PanelOption configures a Panel.
type PanelOption func(*Panel)

// WithClock injects the panel's clock. Tests pass a fake.
func WithClock(c clockwork.Clock) PanelOption {
	return func(p *Panel) { p.clock = c }
}

// NewPanel creates a panel over a control-role session.
func NewPanel(session *syncer.Session, opts ...PanelOption) *Panel {
	p := &Panel{
		session: session,
		clock:   clockwork.NewRealClock(),
		rooms:   make(map[string]syncer.RoomStatus),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Connect brings the session up in control mode, seeds the room set from a
// one-shot read and keeps it updated from pushes thereafter.
func (p *Panel) Connect(ctx context.Context) error {
	if err := p.session.InitAsControl(); err != nil {
		return err
	}
	p.session.OnStatus(p.apply)
	for _, st := range p.session.GetAllRoomStatuses(ctx) {
		p.apply(st)
	}
	return nil
}

// Disconnect tears the session down. The room set is kept so a reconnect
// on the same panel does not blank the display.
func (p *Panel) Disconnect() {
	p.session.Destroy()
}

func (p *Panel) apply(st syncer.RoomStatus) {
	if st.RoomID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	// the subscription replays persisted entries, which are never deleted;
	// a stale one must not resurrect a dead room
	if _, seen := p.rooms[st.RoomID]; !seen && !st.Fresh(p.clock.Now()) {
		return
	}
	p.rooms[st.RoomID] = st
}

// RemoveRoom drops a room from the display. Explicit operator action only.
func (p *Panel) RemoveRoom(roomID string) {
	p.mu.Lock()
	delete(p.rooms, roomID)
	p.mu.Unlock()
}

// Rooms returns the display rows in catalog order, unknown rooms last in
// id order. Effective time is derived locally from the extrapolation
// anchor, so calling this on the local tick advances playing clocks.
func (p *Panel) Rooms() []RoomView {
	now := p.clock.Now()

	p.mu.Lock()
	statuses := make(map[string]syncer.RoomStatus, len(p.rooms))
	for id, st := range p.rooms {
		statuses[id] = st
	}
	p.mu.Unlock()

	ordered := make([]string, 0, len(statuses))
	seen := make(map[string]bool, len(statuses))
	for _, id := range syncer.RoomOrder {
		if _, ok := statuses[id]; ok {
			ordered = append(ordered, id)
			seen[id] = true
		}
	}
	var rest []string
	for id := range statuses {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	ordered = append(ordered, rest...)

	views := make([]RoomView, 0, len(ordered))
	for _, id := range ordered {
		st := statuses[id]
		name := syncer.RoomNames[id]
		if name == "" {
			name = id
		}
		views = append(views, RoomView{
			Status:        st,
			Name:          name,
			EffectiveTime: st.EffectiveTime(now),
			Color:         colorFor(st),
		})
	}
	return views
}

func colorFor(st syncer.RoomStatus) RoomColor {
	switch {
	case st.IsPlaying:
		return ColorGreen
	case st.CurrentTime == 0:
		return ColorRed
	default:
		return ColorYellow
	}
}

// Run invokes fn with fresh views every tick until ctx is done.
func (p *Panel) Run(ctx context.Context, fn func([]RoomView)) {
	ticker := p.clock.NewTicker(LocalTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			fn(p.Rooms())
		case <-ctx.Done():
			return
		}
	}
}

// Play issues a play command; an empty target broadcasts to all rooms.
func (p *Panel) Play(target string)     { p.session.SendCommand(syncer.CommandPlay, target, nil) }
func (p *Panel) Pause(target string)    { p.session.SendCommand(syncer.CommandPause, target, nil) }
func (p *Panel) Stop(target string)     { p.session.SendCommand(syncer.CommandStop, target, nil) }
func (p *Panel) Reset(target string)    { p.session.SendCommand(syncer.CommandReset, target, nil) }
func (p *Panel) Activate(target string) { p.session.SendCommand(syncer.CommandActivate, target, nil) }

// SeekTo moves one room to an absolute position. The issue timestamp rides
// along so the room can account for delivery delay.
func (p *Panel) SeekTo(target string, seconds float64) {
	p.session.SendCommand(syncer.CommandSeek, target, map[string]interface{}{
		"time":             seconds,
		"commandTimestamp": p.clock.Now().UnixMilli(),
	})
}
