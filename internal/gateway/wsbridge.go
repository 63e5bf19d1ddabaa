package gateway

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"

	"github.com/festivetech/carolsync/internal/syncer"
)

// WebsocketSubprotocol is the magic subprotocol room pages must speak.
const WebsocketSubprotocol = "carolsync_v1"

const (
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 1024
	sendQueueSize     = 32
	writeWait         = 10 * time.Second
)

var wsUpgrader = &websocket.Upgrader{
	ReadBufferSize:  wsReadBufferSize,
	WriteBufferSize: wsWriteBufferSize,
	Subprotocols: []string{
		WebsocketSubprotocol,
	},
	CheckOrigin: func(r *http.Request) bool {
		return true
	}, // room pages are served from elsewhere
}

// Bridge is one attached room page: a websocket on one side, a room-mode
// sync session on the other. Filtered commands flow down as envelopes,
// status reports flow up into the session.
type Bridge struct {
	id        string
	conn      *websocket.Conn
	session   *syncer.Session
	metrics   *Metrics
	sendQueue chan *Envelope
	closing   chan struct{}
	closeOnce sync.Once
}

func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	roomID := q.Get("room")

	session, err := syncer.NewSession(g.store, code, roomID, syncer.WithClock(g.clock))
	if err != nil {
		if errors.Is(err, syncer.ErrInvalidCodeFormat) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "session setup failed", http.StatusInternalServerError)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	if conn.Subprotocol() != WebsocketSubprotocol {
		conn.WriteMessage(websocket.CloseMessage, []byte("unsupported subprotocol version"))
		conn.Close()
		return
	}

	b := &Bridge{
		id:        xid.New().String(),
		conn:      conn,
		session:   session,
		metrics:   g.metrics,
		sendQueue: make(chan *Envelope, sendQueueSize),
		closing:   make(chan struct{}),
	}

	session.OnCommand(b.relayCommand)
	if err := session.InitAsRoom(); err != nil {
		log.Error().Err(err).Str("code", session.Code()).Msg("room session init failed")
		conn.WriteMessage(websocket.CloseMessage, []byte("backend unavailable"))
		conn.Close()
		session.Destroy()
		return
	}

	g.metrics.ActiveBridges.Inc()
	b.send(&Envelope{
		Type: MessageTypeHello,
		Payload: &HelloPayload{
			Code: session.Code(),
			Room: session.RoomID(),
		},
	})

	go b.writePump()
	go b.readPump()
	log.Info().Str("bridge", b.id).Str("code", session.Code()).Str("room", session.RoomID()).
		Str("remote", conn.RemoteAddr().String()).Msg("room attached")
}

// send enqueues an envelope for the write pump, dropping it if the client
// cannot keep up or the bridge is closing.
func (b *Bridge) send(m *Envelope) {
	select {
	case b.sendQueue <- m:
	case <-b.closing:
	default:
		log.Warn().Str("bridge", b.id).Msg("send queue full, dropping envelope")
	}
}

func (b *Bridge) relayCommand(cmd syncer.Command) {
	c := cmd
	b.send(&Envelope{Type: MessageTypeCommand, Payload: &c})
	b.metrics.CommandsRelayed.WithLabelValues(string(cmd.Kind)).Inc()
}

func (b *Bridge) finalise() {
	b.closeOnce.Do(func() {
		close(b.closing)
		b.session.Destroy()
		b.conn.Close()
		b.metrics.ActiveBridges.Dec()
		log.Info().Str("bridge", b.id).Str("room", b.session.RoomID()).Msg("room detached")
	})
}

// the goroutine that runs this function reads from b.conn
func (b *Bridge) readPump() {
	defer b.finalise()
	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("bridge", b.id).Msg("unexpected websocket closure")
			}
			return
		}
		var m Envelope
		if err := Deserialise(data, &m); err != nil {
			log.Debug().Err(err).Str("bridge", b.id).Msg("invalid envelope, dropped")
			continue
		}

		switch m.Type {
		case MessageTypeStatus:
			p := m.Payload.(*StatusPayload)
			b.session.SendStatus(p.Options()...)
			b.metrics.StatusUpdates.Inc()
		case MessageTypePing:
			p := m.Payload.(*PingPayload)
			b.send(&Envelope{
				ReceivedAt: m.ReceivedAt,
				Type:       MessageTypePong,
				Payload: &PongPayload{
					Timestamp: p.Timestamp,
				},
			})
		default:
			// rooms have nothing else to say; drop it
		}
	}
}

// the goroutine that runs this function writes to b.conn
func (b *Bridge) writePump() {
	defer b.finalise()
	for {
		select {
		case m := <-b.sendQueue:
			if p, ok := m.Payload.(*PongPayload); ok {
				p.SvcTime = time.Since(m.ReceivedAt).Seconds()
			}
			data, err := m.Serialise()
			if err != nil {
				log.Warn().Err(err).Str("bridge", b.id).Msg("serialising envelope")
				continue
			}
			b.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := b.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-b.closing:
			return
		}
	}
}
