package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/newrelic/go-agent/v3/newrelic"
	"go.uber.org/zap"

	"ridehail/internal/auth"
	"ridehail/internal/config"
	"ridehail/internal/domain"
	"ridehail/internal/metrics"
	"ridehail/internal/service"
)

// orderRetention is how long the hub remembers the last status it delivered
// for a ride.
const orderRetention = 30 * time.Minute

// RideTransitioner applies ride status changes.
type RideTransitioner interface {
	Transition(ctx context.Context, req service.TransitionRequest) (*domain.Ride, error)
}

type delivered struct {
	rank int
	at   time.Time
}

// Hub tracks live connections by user and delivers ride events to them.
// It also routes driver and passenger actions to the ride service.
type Hub struct {
	rides    RideTransitioner
	verifier auth.Verifier
	cfg      config.WebSocketConfig
	nrApp    *newrelic.Application
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}

	orderMu sync.Mutex
	order   map[string]delivered
	now     func() time.Time
}

// NewHub creates a new Hub. nrApp may be nil.
func NewHub(rides RideTransitioner, verifier auth.Verifier, cfg config.WebSocketConfig, nrApp *newrelic.Application, log *zap.Logger) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	return &Hub{
		rides:    rides,
		verifier: verifier,
		cfg:      cfg,
		nrApp:    nrApp,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]map[*Client]struct{}),
		order:   make(map[string]delivered),
		now:     time.Now,
	}
}

// Run prunes delivery bookkeeping until ctx is done, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(orderRetention / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.log.Info("websocket hub stopped")
			return
		case <-ticker.C:
			h.pruneOrder()
		}
	}
}

// ServeWS upgrades the request and authenticates the connection, either
// from the Authorization header or from a first {"type":"auth"} frame.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	principal, err := h.authenticate(r.Context(), conn, r.Header.Get("Authorization"))
	if err != nil {
		h.log.Info("websocket authentication failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		h.reject(conn)
		return
	}

	client := newClient(uuid.NewString(), h, conn, principal)
	h.register(client)
	client.sendJSON(statusFrame{Event: "authenticated", UserID: principal.ID, Role: string(principal.Role)})

	go client.writePump()
	go client.readPump()
}

func (h *Hub) authenticate(ctx context.Context, conn *websocket.Conn, header string) (domain.Principal, error) {
	credential := strings.TrimSpace(header)
	if credential == "" {
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.AuthTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return domain.Principal{}, fmt.Errorf("%w: no auth frame: %v", auth.ErrInvalidToken, err)
		}
		var frame authFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Type != "auth" || frame.Token == "" {
			return domain.Principal{}, fmt.Errorf("%w: malformed auth frame", auth.ErrInvalidToken)
		}
		credential = frame.Token
	}
	return h.verifier.Verify(ctx, credential)
}

func (h *Hub) reject(conn *websocket.Conn) {
	deadline := time.Now().Add(h.cfg.WriteWait)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteJSON(errorFrame{Event: "error", Reason: service.ReasonUnauthorized})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"), deadline)
	_ = conn.Close()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	conns, ok := h.clients[c.Principal.ID]
	if !ok {
		conns = make(map[*Client]struct{})
		h.clients[c.Principal.ID] = conns
	}
	conns[c] = struct{}{}
	h.mu.Unlock()

	metrics.WSConnections.Inc()
	h.log.Info("client registered",
		zap.String("client_id", c.ID),
		zap.String("user_id", c.Principal.ID),
		zap.String("role", string(c.Principal.Role)),
	)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	conns, ok := h.clients[c.Principal.ID]
	if ok {
		if _, ok = conns[c]; ok {
			delete(conns, c)
			if len(conns) == 0 {
				delete(h.clients, c.Principal.ID)
			}
		}
	}
	h.mu.Unlock()

	if ok {
		metrics.WSConnections.Dec()
		h.log.Info("client unregistered",
			zap.String("client_id", c.ID),
			zap.String("user_id", c.Principal.ID),
		)
	}
}

// Connections reports how many live connections userID has.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	var all []*Client
	for _, conns := range h.clients {
		for c := range conns {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		c.close()
	}
}

// Notify delivers the event to the connections of its recipients, or of
// every user with its role. Events older than one already delivered for the
// same ride are dropped.
func (h *Hub) Notify(_ context.Context, event service.RideEvent) error {
	if !h.advance(event.Ride.ID, domain.RideStatus(event.Ride.Status)) {
		h.log.Debug("dropping out-of-order ride event",
			zap.String("event", event.Event),
			zap.String("ride_id", event.Ride.ID),
			zap.String("status", event.Ride.Status),
		)
		return nil
	}

	frame, err := json.Marshal(rideEventFrame{Event: event.Event, Ride: event.Ride})
	if err != nil {
		return fmt.Errorf("marshal ride event: %w", err)
	}
	for _, c := range h.targets(event) {
		c.enqueue(frame)
	}
	return nil
}

func (h *Hub) targets(event service.RideEvent) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*Client
	if event.Role != "" {
		for _, conns := range h.clients {
			for c := range conns {
				if c.Principal.Role == event.Role {
					out = append(out, c)
				}
			}
		}
		return out
	}
	for _, userID := range event.Recipients {
		for c := range h.clients[userID] {
			out = append(out, c)
		}
	}
	return out
}

// advance records status as delivered for the ride. It reports false when
// an equal or later status was already delivered.
func (h *Hub) advance(rideID string, status domain.RideStatus) bool {
	rank := domain.Rank(status)
	if rank < 0 {
		return false
	}

	h.orderMu.Lock()
	defer h.orderMu.Unlock()
	if last, ok := h.order[rideID]; ok && rank <= last.rank {
		return false
	}
	h.order[rideID] = delivered{rank: rank, at: h.now()}
	return true
}

func (h *Hub) pruneOrder() {
	cutoff := h.now().Add(-orderRetention)
	h.orderMu.Lock()
	defer h.orderMu.Unlock()
	for id, d := range h.order {
		if d.at.Before(cutoff) {
			delete(h.order, id)
		}
	}
}

func (h *Hub) handleMessage(c *Client, data []byte) {
	msg, err := ParseMessage(data)
	if err != nil {
		metrics.WSMessages.WithLabelValues("invalid", service.ReasonMalformedMessage).Inc()
		h.log.Info("dropping malformed message",
			zap.String("client_id", c.ID),
			zap.String("user_id", c.Principal.ID),
			zap.Error(err),
		)
		c.sendJSON(errorFrame{Event: "error", Reason: service.ReasonMalformedMessage})
		return
	}

	if msg.Action == ActionPing {
		metrics.WSMessages.WithLabelValues(msg.Action, "ok").Inc()
		c.sendJSON(statusFrame{Event: "pong"})
		return
	}

	status, _ := msg.TargetStatus()
	txn := h.nrApp.StartTransaction("ws " + msg.Action)
	defer txn.End()
	txn.AddAttribute("ride_id", msg.RideID)
	txn.AddAttribute("user_id", c.Principal.ID)
	ctx := newrelic.NewContext(context.Background(), txn)

	_, err = h.rides.Transition(ctx, service.TransitionRequest{
		RideID: msg.RideID,
		Actor:  c.Principal,
		Status: status,
		Price:  msg.Price,
	})
	if err != nil {
		reason := service.ReasonCode(err)
		metrics.WSMessages.WithLabelValues(msg.Action, reason).Inc()
		fields := []zap.Field{
			zap.String("action", msg.Action),
			zap.String("ride_id", msg.RideID),
			zap.String("user_id", c.Principal.ID),
			zap.String("reason", reason),
			zap.Error(err),
		}
		if reason == service.ReasonInternal || reason == service.ReasonStoreUnavailable {
			txn.NoticeError(err)
			h.log.Error("ride action failed", fields...)
		} else {
			h.log.Info("ride action rejected", fields...)
		}
		c.sendJSON(newErrorFrame(reason, msg))
		return
	}
	metrics.WSMessages.WithLabelValues(msg.Action, "ok").Inc()
}
