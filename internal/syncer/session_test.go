package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/festivetech/carolsync/internal/store"
)

const testCode = "NOEL-2024"

func newTestSession(t *testing.T, st store.Store, clock clockwork.Clock, roomID string) *Session {
	t.Helper()
	s, err := NewSession(st, testCode, roomID, WithClock(clock))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(s.Destroy)
	return s
}

func writeCommand(t *testing.T, st store.Store, cmd Command) {
	t.Helper()
	data, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}
	if err := st.Write(context.Background(), "commands/"+testCode, data); err != nil {
		t.Fatalf("write command: %v", err)
	}
}

func writeStatus(t *testing.T, st store.Store, code string, status RoomStatus) {
	t.Helper()
	data, err := json.Marshal(status)
	if err != nil {
		t.Fatalf("marshal status: %v", err)
	}
	if err := st.Write(context.Background(), "status/"+code+"/"+status.RoomID, data); err != nil {
		t.Fatalf("write status: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestNewSessionValidation(t *testing.T) {
	st := store.NewMemoryStore()
	if _, err := NewSession(st, "ab", "room-joy"); !errors.Is(err, ErrInvalidCodeFormat) {
		t.Errorf("short code: got %v, want ErrInvalidCodeFormat", err)
	}
	s, err := NewSession(st, "  noel-2024 ", "Room-JOY")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if s.Code() != "NOEL-2024" {
		t.Errorf("code not normalised: %q", s.Code())
	}
	if s.RoomID() != "room-joy" {
		t.Errorf("room id not lowercased: %q", s.RoomID())
	}
}

func TestCommandDeduplication(t *testing.T) {
	st := store.NewMemoryStore()
	fc := clockwork.NewFakeClock()
	s := newTestSession(t, st, fc, RoomJoy)

	var got []Command
	s.OnCommand(func(c Command) { got = append(got, c) })
	if err := s.InitAsRoom(); err != nil {
		t.Fatalf("InitAsRoom: %v", err)
	}

	cmd := Command{
		ID:         "NOEL-2024-1-abc",
		Code:       testCode,
		Kind:       CommandPlay,
		IssuedAtMs: fc.Now().UnixMilli(),
	}
	writeCommand(t, st, cmd)
	writeCommand(t, st, cmd) // mailbox re-delivery

	if len(got) != 1 {
		t.Fatalf("got %d deliveries, want exactly 1", len(got))
	}
	if got[0].Kind != CommandPlay {
		t.Errorf("delivered kind = %q", got[0].Kind)
	}
}

func TestCommandExpiryFilter(t *testing.T) {
	tests := []struct {
		name      string
		ageMs     int64
		delivered bool
	}{
		{"inside window", 29_999, true},
		{"at window", 30_000, true},
		{"beyond window", 30_001, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMemoryStore()
			fc := clockwork.NewFakeClock()
			s := newTestSession(t, st, fc, RoomJoy)

			delivered := 0
			s.OnCommand(func(Command) { delivered++ })
			if err := s.InitAsRoom(); err != nil {
				t.Fatalf("InitAsRoom: %v", err)
			}

			writeCommand(t, st, Command{
				ID:         "NOEL-2024-old-" + tt.name,
				Code:       testCode,
				Kind:       CommandPlay,
				IssuedAtMs: fc.Now().UnixMilli() - tt.ageMs,
			})
			if got := delivered == 1; got != tt.delivered {
				t.Errorf("delivered = %v, want %v", got, tt.delivered)
			}
		})
	}
}

func TestTargetedDelivery(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		roomID    string
		delivered bool
	}{
		{"matching target", RoomJoy, RoomJoy, true},
		{"other room's command", RoomJoy, RoomTwilight, false},
		{"broadcast reaches everyone", "", RoomTwilight, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMemoryStore()
			fc := clockwork.NewFakeClock()
			s := newTestSession(t, st, fc, tt.roomID)

			delivered := 0
			s.OnCommand(func(Command) { delivered++ })
			if err := s.InitAsRoom(); err != nil {
				t.Fatalf("InitAsRoom: %v", err)
			}

			writeCommand(t, st, Command{
				ID:         "NOEL-2024-t-" + tt.name,
				Code:       testCode,
				Kind:       CommandPlay,
				IssuedAtMs: fc.Now().UnixMilli(),
				TargetRoom: tt.target,
			})
			if got := delivered == 1; got != tt.delivered {
				t.Errorf("delivered = %v, want %v", got, tt.delivered)
			}
		})
	}
}

func TestCrossCodeCommandRejected(t *testing.T) {
	st := store.NewMemoryStore()
	fc := clockwork.NewFakeClock()
	s := newTestSession(t, st, fc, RoomJoy)

	delivered := 0
	s.OnCommand(func(Command) { delivered++ })
	if err := s.InitAsRoom(); err != nil {
		t.Fatalf("InitAsRoom: %v", err)
	}

	// stale cross-talk: right path, wrong embedded code
	writeCommand(t, st, Command{
		ID:         "OTHER-1-x",
		Code:       "OTHER-CODE",
		Kind:       CommandPlay,
		IssuedAtMs: fc.Now().UnixMilli(),
	})
	if delivered != 0 {
		t.Errorf("cross-code command delivered %d times, want 0", delivered)
	}
}

func TestDuplicateRejectionPrecedesExpiry(t *testing.T) {
	st := store.NewMemoryStore()
	fc := clockwork.NewFakeClock()
	s := newTestSession(t, st, fc, RoomJoy)

	delivered := 0
	s.OnCommand(func(Command) { delivered++ })
	if err := s.InitAsRoom(); err != nil {
		t.Fatalf("InitAsRoom: %v", err)
	}

	cmd := Command{
		ID:         "NOEL-2024-1-dup",
		Code:       testCode,
		Kind:       CommandPlay,
		IssuedAtMs: fc.Now().UnixMilli(),
	}
	writeCommand(t, st, cmd)
	fc.Advance(CommandExpiry + time.Second)
	writeCommand(t, st, cmd) // redelivered long after expiry

	if delivered != 1 {
		t.Errorf("delivered %d times, want 1", delivered)
	}
}

func TestSendCommandFillsMailbox(t *testing.T) {
	st := store.NewMemoryStore()
	fc := clockwork.NewFakeClock()
	s := newTestSession(t, st, fc, "control-panel")

	s.SendCommand(CommandSeek, "ROOM-Joy", map[string]interface{}{"time": 42.0})

	data, ok, err := st.Read(context.Background(), "commands/"+testCode)
	if err != nil || !ok {
		t.Fatalf("mailbox read: ok=%v err=%v", ok, err)
	}
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cmd.Code != testCode || cmd.Kind != CommandSeek {
		t.Errorf("cmd = %+v", cmd)
	}
	if cmd.TargetRoom != RoomJoy {
		t.Errorf("target not lowercased: %q", cmd.TargetRoom)
	}
	if !strings.HasPrefix(cmd.ID, testCode+"-") {
		t.Errorf("id %q lacks code prefix", cmd.ID)
	}
	if cmd.IssuedAtMs != fc.Now().UnixMilli() {
		t.Errorf("IssuedAtMs = %d, want %d", cmd.IssuedAtMs, fc.Now().UnixMilli())
	}
	if v, ok := cmd.SeekSeconds(); !ok || v != 42.0 {
		t.Errorf("SeekSeconds = %v, %v", v, ok)
	}
}

func TestSendStatusDefaultsAndOverwrite(t *testing.T) {
	st := store.NewMemoryStore()
	fc := clockwork.NewFakeClock()
	s := newTestSession(t, st, fc, RoomJoy)

	s.SendStatus()

	data, ok, _ := st.Read(context.Background(), "status/"+testCode+"/"+RoomJoy)
	if !ok {
		t.Fatal("status not written")
	}
	var got RoomStatus
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := RoomStatus{
		RoomID:       RoomJoy,
		IsActive:     true,
		LastUpdateMs: fc.Now().UnixMilli(),
	}
	if got != want {
		t.Errorf("defaults = %+v, want %+v", got, want)
	}

	// the next write replaces the snapshot whole
	s.SendStatus(WithPlaying(true), WithCurrentTime(3.5), WithAnchor(fc.Now().UnixMilli(), 3.5))
	data, _, _ = st.Read(context.Background(), "status/"+testCode+"/"+RoomJoy)
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.IsPlaying || got.CurrentTime != 3.5 || got.PlayStartPosition != 3.5 {
		t.Errorf("overwrite = %+v", got)
	}
}

func TestGetAllRoomStatusesFreshness(t *testing.T) {
	st := store.NewMemoryStore()
	fc := clockwork.NewFakeClock()
	s := newTestSession(t, st, fc, "control-panel")

	now := fc.Now().UnixMilli()
	writeStatus(t, st, testCode, RoomStatus{RoomID: RoomJoy, IsActive: true, LastUpdateMs: now - 9_999})
	writeStatus(t, st, testCode, RoomStatus{RoomID: RoomTwilight, IsActive: true, LastUpdateMs: now - 10_000})
	writeStatus(t, st, testCode, RoomStatus{RoomID: RoomFaithful, IsActive: true, LastUpdateMs: now - 60_000})

	got := s.GetAllRoomStatuses(context.Background())
	if len(got) != 1 {
		t.Fatalf("got %d rooms, want 1: %v", len(got), got)
	}
	if _, ok := got[RoomJoy]; !ok {
		t.Errorf("fresh room missing: %v", got)
	}
}

func TestGetAllRoomStatusesFailsSoft(t *testing.T) {
	fc := clockwork.NewFakeClock()
	s := newTestSession(t, &failingStore{}, fc, "control-panel")
	got := s.GetAllRoomStatuses(context.Background())
	if len(got) != 0 {
		t.Errorf("got %v, want empty map", got)
	}
}

func TestWriteFailuresAreDropped(t *testing.T) {
	fc := clockwork.NewFakeClock()
	s := newTestSession(t, &failingStore{}, fc, RoomJoy)
	// neither call may panic or surface the error
	s.SendCommand(CommandPlay, "", nil)
	s.SendStatus(WithPlaying(true))
}

func TestDestroyIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	fc := clockwork.NewFakeClock()
	s := newTestSession(t, st, fc, RoomJoy)

	delivered := 0
	s.OnCommand(func(Command) { delivered++ })
	if err := s.InitAsRoom(); err != nil {
		t.Fatalf("InitAsRoom: %v", err)
	}

	s.Destroy()
	s.Destroy()

	writeCommand(t, st, Command{
		ID:         "NOEL-2024-after-destroy",
		Code:       testCode,
		Kind:       CommandPlay,
		IssuedAtMs: fc.Now().UnixMilli(),
	})
	if delivered != 0 {
		t.Errorf("destroyed session still delivered %d commands", delivered)
	}
	if err := s.InitAsRoom(); !errors.Is(err, ErrSessionDestroyed) {
		t.Errorf("re-init after destroy: got %v, want ErrSessionDestroyed", err)
	}
}

func TestListenerPanicDoesNotHaltFanOut(t *testing.T) {
	st := store.NewMemoryStore()
	fc := clockwork.NewFakeClock()
	s := newTestSession(t, st, fc, RoomJoy)

	secondRan := false
	s.OnCommand(func(Command) { panic("listener bug") })
	s.OnCommand(func(Command) { secondRan = true })
	if err := s.InitAsRoom(); err != nil {
		t.Fatalf("InitAsRoom: %v", err)
	}

	writeCommand(t, st, Command{
		ID:         "NOEL-2024-panic",
		Code:       testCode,
		Kind:       CommandPlay,
		IssuedAtMs: fc.Now().UnixMilli(),
	})
	if !secondRan {
		t.Error("second listener not invoked after first panicked")
	}
}

func TestOnStatusLazySubscription(t *testing.T) {
	st := store.NewMemoryStore()
	fc := clockwork.NewFakeClock()
	s := newTestSession(t, st, fc, "control-panel")
	if err := s.InitAsControl(); err != nil {
		t.Fatalf("InitAsControl: %v", err)
	}

	writeStatus(t, st, testCode, RoomStatus{RoomID: RoomJoy, IsActive: true, LastUpdateMs: fc.Now().UnixMilli()})

	var mu sync.Mutex
	var got []RoomStatus
	s.OnStatus(func(st RoomStatus) {
		mu.Lock()
		got = append(got, st)
		mu.Unlock()
	})

	// existing entry replayed on subscription, then pushes flow through
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	writeStatus(t, st, testCode, RoomStatus{RoomID: RoomTwilight, IsActive: true, LastUpdateMs: fc.Now().UnixMilli()})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2 && got[1].RoomID == RoomTwilight
	})
}

func TestHeartbeatResendsLastStatus(t *testing.T) {
	st := store.NewMemoryStore()
	fc := clockwork.NewFakeClock()
	s := newTestSession(t, st, fc, RoomJoy)
	if err := s.InitAsRoom(); err != nil {
		t.Fatalf("InitAsRoom: %v", err)
	}

	s.SendStatus(WithPlaying(true), WithCurrentTime(8), WithAnchor(fc.Now().UnixMilli(), 8), WithSong("silent-night"))
	sentAt := fc.Now().UnixMilli()

	fc.Advance(HeartbeatInterval)
	go func() {
		// keep ticking until the beat lands
		for i := 0; i < 50; i++ {
			time.Sleep(10 * time.Millisecond)
			fc.Advance(HeartbeatInterval)
		}
	}()

	waitFor(t, func() bool {
		data, ok, _ := st.Read(context.Background(), "status/"+testCode+"/"+RoomJoy)
		if !ok {
			return false
		}
		var got RoomStatus
		if err := json.Unmarshal(data, &got); err != nil {
			return false
		}
		// the beat re-stamps the rich status instead of clobbering it
		return got.LastUpdateMs > sentAt && got.IsPlaying && got.SongID == "silent-night"
	})
}

// failingStore errors on every operation, standing in for a backing store
// that lost its network.
type failingStore struct{}

var errStoreDown = errors.New("store down")

func (f *failingStore) Write(ctx context.Context, path string, data []byte) error {
	return errStoreDown
}

func (f *failingStore) Read(ctx context.Context, path string) ([]byte, bool, error) {
	return nil, false, errStoreDown
}

func (f *failingStore) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	return nil, errStoreDown
}

func (f *failingStore) Subscribe(path string, fn func(store.Event)) (store.UnsubscribeFunc, error) {
	return nil, errStoreDown
}

func (f *failingStore) Close() error { return nil }
