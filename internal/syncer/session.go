package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/festivetech/carolsync/internal/store"
)

const (
	// HeartbeatInterval is how often a room asserts liveness absent a
	// richer state-changing write.
	HeartbeatInterval = 5 * time.Second
	// CommandExpiry is the age beyond which a delivered command is ignored,
	// e.g. one surfacing after a long disconnect.
	CommandExpiry = 30 * time.Second
	// StatusFreshness is the age beyond which readers treat a status entry
	// as absent.
	StatusFreshness = 10 * time.Second
)

// ErrSessionDestroyed is returned when initialising a session after Destroy.
var ErrSessionDestroyed = errors.New("session destroyed")

// Session mediates all command/status traffic for one (code, room) pair.
// It owns command de-duplication, staleness filtering, heartbeat emission
// and listener fan-out; the backing store stays the single source of truth.
//
// At-least-once delivery means a command can be replayed after a process
// restart empties the de-duplication memory; the expiry window bounds that
// to commands younger than CommandExpiry. Accepted behaviour, not fixed.
type Session struct {
	store  store.Store
	clock  clockwork.Clock
	code   string
	roomID string

	mu              sync.Mutex
	initedRoom      bool
	initedControl   bool
	destroyed       bool
	lastProcessedID string
	cmdListeners    []func(Command)
	statusListeners []func(RoomStatus)
	cmdUnsub        store.UnsubscribeFunc
	statusUnsub     store.UnsubscribeFunc
	heartbeatStop   chan struct{}
	lastSent        *RoomStatus
	lastSentAt      time.Time
}

// SessionOption configures a Session at construction.
type SessionOption func(*Session)

// WithClock injects the clock used for timestamps, expiry and the
// heartbeat. Tests pass a fake.
func WithClock(c clockwork.Clock) SessionOption {
	return func(s *Session) { s.clock = c }
}

// NewSession normalises and validates code (fatal on bad format, it is
// operator error) and lowercases roomID. Unknown room ids are tolerated;
// they just namespace a status entry.
func NewSession(st store.Store, code, roomID string, opts ...SessionOption) (*Session, error) {
	code = NormalizeCode(code)
	if err := ValidateCode(code); err != nil {
		return nil, err
	}
	s := &Session{
		store:  st,
		clock:  clockwork.NewRealClock(),
		code:   code,
		roomID: strings.ToLower(roomID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Code returns the normalised sync code.
func (s *Session) Code() string { return s.code }

// RoomID returns the lowercased room identifier.
func (s *Session) RoomID() string { return s.roomID }

func (s *Session) commandPath() string { return "commands/" + s.code }
func (s *Session) statusPath() string  { return "status/" + s.code }
func (s *Session) roomStatusPath() string {
	return s.statusPath() + "/" + s.roomID
}

// InitAsRoom subscribes to the command mailbox and starts the heartbeat.
// Idempotent; must be paired with Destroy.
func (s *Session) InitAsRoom() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrSessionDestroyed
	}
	if s.initedRoom {
		s.mu.Unlock()
		return nil
	}
	s.initedRoom = true
	s.mu.Unlock()

	unsub, err := s.store.Subscribe(s.commandPath(), s.handleCommandEvent)
	if err != nil {
		s.mu.Lock()
		s.initedRoom = false
		s.mu.Unlock()
		return fmt.Errorf("subscribing command mailbox: %w", err)
	}

	stop := make(chan struct{})
	s.mu.Lock()
	s.cmdUnsub = unsub
	s.heartbeatStop = stop
	s.mu.Unlock()

	// The ticker is created here, not in the goroutine, so it is registered
	// with the clock before InitAsRoom returns; a fake clock advanced right
	// after init still reaches it.
	ticker := s.clock.NewTicker(HeartbeatInterval)
	go s.runHeartbeat(stop, ticker)
	s.heartbeat()
	log.Info().Str("code", s.code).Str("room", s.roomID).Msg("sync session in room mode")
	return nil
}

// InitAsControl marks the session as command-issuing. It establishes no
// subscriptions by itself; the status subtree is subscribed once a status
// listener is registered. Idempotent.
func (s *Session) InitAsControl() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrSessionDestroyed
	}
	s.initedControl = true
	s.mu.Unlock()

	s.ensureStatusSubscription()
	log.Info().Str("code", s.code).Msg("sync session in control mode")
	return nil
}

// SendCommand writes a freshly-stamped command into the single-slot mailbox
// for this code. Fire-and-forget: a rapid successor silently supersedes it,
// and a write failure is logged and dropped.
func (s *Session) SendCommand(kind CommandKind, targetRoom string, payload map[string]interface{}) {
	now := s.clock.Now()
	cmd := Command{
		ID:         newCommandID(s.code, now),
		Code:       s.code,
		Kind:       kind,
		IssuedAtMs: now.UnixMilli(),
		TargetRoom: strings.ToLower(targetRoom),
		Payload:    payload,
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		log.Warn().Err(err).Str("kind", string(kind)).Msg("marshalling command")
		return
	}
	if err := s.store.Write(context.Background(), s.commandPath(), data); err != nil {
		log.Warn().Err(err).Str("kind", string(kind)).Str("code", s.code).Msg("command write failed, dropped")
	}
}

// OnCommand registers a callback for commands that pass the filter.
// Callbacks run in registration order; a panicking callback does not halt
// fan-out. The returned function unregisters.
func (s *Session) OnCommand(fn func(Command)) func() {
	s.mu.Lock()
	s.cmdListeners = append(s.cmdListeners, fn)
	idx := len(s.cmdListeners) - 1
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		if idx < len(s.cmdListeners) {
			s.cmdListeners[idx] = nil
		}
		s.mu.Unlock()
	}
}

// OnStatus registers a callback for pushed status changes under this code.
// The first registration on a control session establishes the status
// subtree subscription. The returned function unregisters.
func (s *Session) OnStatus(fn func(RoomStatus)) func() {
	s.mu.Lock()
	s.statusListeners = append(s.statusListeners, fn)
	idx := len(s.statusListeners) - 1
	s.mu.Unlock()
	s.ensureStatusSubscription()
	return func() {
		s.mu.Lock()
		if idx < len(s.statusListeners) {
			s.statusListeners[idx] = nil
		}
		s.mu.Unlock()
	}
}

// GetAllRoomStatuses reads the status subtree once and returns the fresh
// entries keyed by room id. Fails soft: read errors yield an empty map.
func (s *Session) GetAllRoomStatuses(ctx context.Context) map[string]RoomStatus {
	out := make(map[string]RoomStatus)
	children, err := s.store.List(ctx, s.statusPath())
	if err != nil {
		log.Warn().Err(err).Str("code", s.code).Msg("status read failed, treating as empty")
		return out
	}
	now := s.clock.Now()
	for roomID, data := range children {
		var st RoomStatus
		if err := json.Unmarshal(data, &st); err != nil {
			log.Debug().Err(err).Str("room", roomID).Msg("dropping unparseable status entry")
			continue
		}
		if !st.Fresh(now) {
			continue
		}
		out[roomID] = st
	}
	return out
}

// SendStatus merges the options over the defaults (active, not playing,
// position zero, not activated), stamps the update time and overwrites this
// room's status entry whole. Write failures are logged and dropped; the
// next heartbeat or state change supersedes them.
func (s *Session) SendStatus(opts ...StatusOption) {
	st := RoomStatus{
		RoomID:   s.roomID,
		IsActive: true,
	}
	for _, opt := range opts {
		opt(&st)
	}
	s.writeStatus(st)
}

func (s *Session) writeStatus(st RoomStatus) {
	now := s.clock.Now()
	st.LastUpdateMs = now.UnixMilli()

	s.mu.Lock()
	cp := st
	s.lastSent = &cp
	s.lastSentAt = now
	s.mu.Unlock()

	data, err := json.Marshal(st)
	if err != nil {
		log.Warn().Err(err).Str("room", s.roomID).Msg("marshalling status")
		return
	}
	if err := s.store.Write(context.Background(), s.roomStatusPath(), data); err != nil {
		log.Warn().Err(err).Str("room", s.roomID).Str("code", s.code).Msg("status write failed, dropped")
	}
}

// Destroy releases the subscriptions and stops the heartbeat. Safe to call
// multiple times and from any state.
func (s *Session) Destroy() {
	s.mu.Lock()
	s.destroyed = true
	cmdUnsub := s.cmdUnsub
	statusUnsub := s.statusUnsub
	stop := s.heartbeatStop
	s.cmdUnsub = nil
	s.statusUnsub = nil
	s.heartbeatStop = nil
	s.mu.Unlock()

	if cmdUnsub != nil {
		cmdUnsub()
	}
	if statusUnsub != nil {
		statusUnsub()
	}
	if stop != nil {
		close(stop)
	}
}

// handleCommandEvent is the room-side subscription callback. Rejection
// order matters: a duplicate id must be a no-op regardless of its age or
// target, so that check runs first.
func (s *Session) handleCommandEvent(ev store.Event) {
	var cmd Command
	if err := json.Unmarshal(ev.Data, &cmd); err != nil {
		log.Debug().Err(err).Str("path", ev.Path).Msg("dropping unparseable command")
		return
	}

	s.mu.Lock()
	if cmd.ID == s.lastProcessedID {
		s.mu.Unlock()
		return
	}
	if cmd.Code != s.code {
		s.mu.Unlock()
		log.Debug().Str("got", cmd.Code).Str("want", s.code).Msg("dropping cross-talk command")
		return
	}
	if cmd.Expired(s.clock.Now()) {
		s.mu.Unlock()
		log.Debug().Str("id", cmd.ID).Msg("dropping expired command")
		return
	}
	if cmd.TargetRoom != "" && cmd.TargetRoom != s.roomID {
		s.mu.Unlock()
		return
	}
	s.lastProcessedID = cmd.ID
	listeners := make([]func(Command), len(s.cmdListeners))
	copy(listeners, s.cmdListeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		invokeCommandListener(fn, cmd)
	}
}

func invokeCommandListener(fn func(Command), cmd Command) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("id", cmd.ID).Msg("command listener panicked")
		}
	}()
	fn(cmd)
}

func (s *Session) handleStatusEvent(ev store.Event) {
	// the subtree root itself never holds a status object
	if ev.Path == s.statusPath() {
		return
	}
	var st RoomStatus
	if err := json.Unmarshal(ev.Data, &st); err != nil {
		log.Debug().Err(err).Str("path", ev.Path).Msg("dropping unparseable status")
		return
	}

	s.mu.Lock()
	listeners := make([]func(RoomStatus), len(s.statusListeners))
	copy(listeners, s.statusListeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		invokeStatusListener(fn, st)
	}
}

func invokeStatusListener(fn func(RoomStatus), st RoomStatus) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("room", st.RoomID).Msg("status listener panicked")
		}
	}()
	fn(st)
}

func (s *Session) ensureStatusSubscription() {
	s.mu.Lock()
	need := s.initedControl && s.statusUnsub == nil && len(s.statusListeners) > 0 && !s.destroyed
	s.mu.Unlock()
	if !need {
		return
	}

	unsub, err := s.store.Subscribe(s.statusPath(), s.handleStatusEvent)
	if err != nil {
		log.Warn().Err(err).Str("code", s.code).Msg("status subscription failed")
		return
	}
	s.mu.Lock()
	if s.statusUnsub != nil || s.destroyed {
		s.mu.Unlock()
		unsub()
		return
	}
	s.statusUnsub = unsub
	s.mu.Unlock()
}

func (s *Session) runHeartbeat(stop <-chan struct{}, ticker clockwork.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			s.heartbeat()
		case <-stop:
			return
		}
	}
}

// heartbeat re-asserts liveness. A richer status sent within the interval
// already carries a fresh timestamp, so the beat is skipped; otherwise the
// last full status is re-stamped and re-sent, or the defaults if nothing
// was ever sent.
func (s *Session) heartbeat() {
	now := s.clock.Now()

	s.mu.Lock()
	if !s.lastSentAt.IsZero() && now.Sub(s.lastSentAt) < HeartbeatInterval {
		s.mu.Unlock()
		return
	}
	var st RoomStatus
	if s.lastSent != nil {
		st = *s.lastSent
	} else {
		st = RoomStatus{RoomID: s.roomID, IsActive: true}
	}
	s.mu.Unlock()

	s.writeStatus(st)
}
