package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/festivetech/carolsync/internal/store"
	"github.com/festivetech/carolsync/internal/syncer"
)

// Gateway serves the websocket bridge and the REST surface over one backing
// store.
type Gateway struct {
	store    store.Store
	clock    clockwork.Clock
	metrics  *Metrics
	gatherer prometheus.Gatherer
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithClock injects the gateway's clock. Tests pass a fake.
func WithClock(c clockwork.Clock) GatewayOption {
	return func(g *Gateway) { g.clock = c }
}

// NewGateway creates a gateway over the given store, registering its
// metrics with reg. The /metrics endpoint gathers from the same registry so
// the instruments always show up there.
func NewGateway(st store.Store, reg prometheus.Registerer, opts ...GatewayOption) *Gateway {
	gatherer, ok := reg.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	g := &Gateway{
		store:    st,
		clock:    clockwork.NewRealClock(),
		metrics:  NewMetrics(reg),
		gatherer: gatherer,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RespondWithJSON writes m as a JSON response.
func RespondWithJSON(m interface{}, statusCode int, w http.ResponseWriter) {
	payload, _ := json.Marshal(m)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(payload)
}

// RespondWithError writes a JSON error response.
func RespondWithError(reason string, statusCode int, w http.ResponseWriter) {
	RespondWithJSON(map[string]interface{}{
		"ok":     false,
		"reason": reason,
	}, statusCode, w)
}

// commandRequest is the POST /session/{code}/command body.
type commandRequest struct {
	Command    string                 `json:"command"`
	TargetRoom string                 `json:"targetRoom,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

var knownKinds = map[syncer.CommandKind]bool{
	syncer.CommandPlay:     true,
	syncer.CommandPause:    true,
	syncer.CommandStop:     true,
	syncer.CommandReset:    true,
	syncer.CommandActivate: true,
	syncer.CommandSeek:     true,
}

// controlSession builds a short-lived control-role session for one REST
// request. Control sessions hold no subscriptions, so this is cheap.
func (g *Gateway) controlSession(code string) (*syncer.Session, error) {
	return syncer.NewSession(g.store, code, "control-panel", syncer.WithClock(g.clock))
}

func (g *Gateway) getRooms(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	session, err := g.controlSession(code)
	if err != nil {
		if errors.Is(err, syncer.ErrInvalidCodeFormat) {
			RespondWithError(err.Error(), http.StatusBadRequest, w)
			return
		}
		RespondWithError("session setup failed", http.StatusInternalServerError, w)
		return
	}
	statuses := session.GetAllRoomStatuses(r.Context())
	RespondWithJSON(map[string]interface{}{
		"ok":    true,
		"rooms": statuses,
	}, http.StatusOK, w)
}

func (g *Gateway) postCommand(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithError("invalid request body", http.StatusBadRequest, w)
		return
	}
	kind := syncer.CommandKind(req.Command)
	if !knownKinds[kind] {
		RespondWithError("unknown command kind", http.StatusBadRequest, w)
		return
	}
	session, err := g.controlSession(code)
	if err != nil {
		if errors.Is(err, syncer.ErrInvalidCodeFormat) {
			RespondWithError(err.Error(), http.StatusBadRequest, w)
			return
		}
		RespondWithError("session setup failed", http.StatusInternalServerError, w)
		return
	}
	session.SendCommand(kind, req.TargetRoom, req.Data)
	RespondWithJSON(map[string]interface{}{"ok": true}, http.StatusAccepted, w)
}

func (g *Gateway) healthz(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(map[string]interface{}{"ok": true}, http.StatusOK, w)
}

// Handler builds the full HTTP surface: websocket bridge, REST API and
// metrics, wrapped for cross-origin browser pages.
func (g *Gateway) Handler() http.Handler {
	r := mux.NewRouter().StrictSlash(true)
	r.HandleFunc("/healthz", g.healthz).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(g.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc("/ws", g.handleWS)
	r.HandleFunc("/session/{code}/rooms", g.getRooms).Methods("GET")
	r.HandleFunc("/session/{code}/command", g.postCommand).Methods("POST")
	return cors.AllowAll().Handler(r)
}
