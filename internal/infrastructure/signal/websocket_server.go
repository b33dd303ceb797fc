package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"p2prelay/internal/core/domain"
	"p2prelay/internal/core/ports"
	"p2prelay/pkg/config"
	rlog "p2prelay/pkg/logger"
	"p2prelay/pkg/tracing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options tune the per-connection transport.
type Options struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	SendQueueSize  int
	AllowedOrigins []string

	// Zero disables inbound message limiting.
	MessagesPerSecond float64
	Burst             int
	MaxMessageSize    int64
}

func DefaultOptions() Options {
	return Options{
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		SendQueueSize:  64,
		AllowedOrigins: []string{"*"},
		MaxMessageSize: 64 * 1024,
	}
}

func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		PingInterval:   cfg.Signal.PingInterval,
		PongTimeout:    cfg.Signal.PongTimeout,
		WriteTimeout:   cfg.Signal.WriteTimeout,
		SendQueueSize:  cfg.Signal.SendQueueSize,
		AllowedOrigins: cfg.Signal.AllowedOrigins,
		MaxMessageSize: cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
	}
	if cfg.RateLimiting.Enabled {
		opts.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		opts.Burst = cfg.RateLimiting.WebSocket.Burst
	}
	return opts
}

// Envelope is the JSON frame exchanged in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JoinAckPayload struct {
	AddedHostID domain.HostID  `json:"added_host_id"`
	EventID     domain.EventID `json:"event_id"`
}

type JitTriggerPayload struct {
	TargetHostID domain.HostID `json:"target_host_id"`
}

type NotifyLogPayload struct {
	Text string `json:"text"`
}

type NatDeviceNamePayload struct {
	Name string `json:"name"`
}

type UdpTrialCountPayload struct {
	TargetHostID domain.HostID `json:"target_host_id"`
	Count        int           `json:"count"`
}

type client struct {
	hostID    domain.HostID
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	limiter   *rate.Limiter
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// WebSocketServer is the session transport. Each connection is one session;
// it implements ports.Notifier for the core.
type WebSocketServer struct {
	sessions    ports.SessionService
	coordinator ports.CoordinationService

	opts     Options
	upgrader websocket.Upgrader

	clients map[domain.HostID]*client
	mu      sync.RWMutex

	logger *zap.SugaredLogger
}

func NewWebSocketServer(opts Options, logger *zap.SugaredLogger) *WebSocketServer {
	s := &WebSocketServer{
		opts:    opts,
		clients: make(map[domain.HostID]*client),
		logger:  logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Attach wires the core services. Both send through this server, so they
// are attached after construction and before the first connection.
func (s *WebSocketServer) Attach(sessions ports.SessionService, coordinator ports.CoordinationService) {
	s.sessions = sessions
	s.coordinator = coordinator
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	session, err := s.sessions.Connect(r.Context(), r.RemoteAddr)
	if err != nil {
		s.logger.Errorw("failed to create session", "remote_addr", r.RemoteAddr, "error", err)
		_ = conn.Close()
		return
	}

	c := &client{
		hostID: session.HostID,
		conn:   conn,
		send:   make(chan []byte, s.opts.SendQueueSize),
		done:   make(chan struct{}),
	}
	if s.opts.MessagesPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(s.opts.MessagesPerSecond), s.opts.Burst)
	}

	s.mu.Lock()
	s.clients[c.hostID] = c
	s.mu.Unlock()

	s.logger.Infow("session connected", "host_id", c.hostID, "remote_addr", r.RemoteAddr)
	s.Send(c.hostID, domain.HostAssigned{HostID: c.hostID})

	go s.writePump(c)
	s.readPump(c)

	s.mu.Lock()
	if s.clients[c.hostID] == c {
		delete(s.clients, c.hostID)
	}
	s.mu.Unlock()
	c.close()

	if err := s.sessions.Disconnect(context.Background(), c.hostID); err != nil {
		s.logger.Warnw("failed to destroy session", "host_id", c.hostID, "error", err)
	}
	s.logger.Infow("session disconnected", "host_id", c.hostID)
}

func (s *WebSocketServer) readPump(c *client) {
	defer c.conn.Close()

	if s.opts.MaxMessageSize > 0 {
		c.conn.SetReadLimit(s.opts.MaxMessageSize)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	})

	ctx := rlog.WithHostID(context.Background(), uint32(c.hostID))
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading message from session", "host_id", c.hostID, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))

		if c.limiter != nil && !c.limiter.Allow() {
			s.logger.Warnw("inbound message rate exceeded, dropping", "host_id", c.hostID)
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warnw("malformed envelope", "host_id", c.hostID, "error", err)
			continue
		}
		s.handleMessage(ctx, c.hostID, env)
	}
}

func (s *WebSocketServer) writePump(c *client) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Infow("error writing to session", "host_id", c.hostID, "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "host_id", c.hostID, "error", err)
				return
			}

		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.opts.WriteTimeout))
			return
		}
	}
}

func (s *WebSocketServer) handleMessage(ctx context.Context, hostID domain.HostID, env Envelope) {
	ctx, span := tracing.TraceProtocolEvent(ctx, env.Type, uint32(hostID))
	t, err := s.dispatch(ctx, hostID, env)
	if err != nil {
		tracing.RecordError(ctx, err)
		span.End()
		s.logger.Warnw("dropping message", "host_id", hostID, "type", env.Type, "error", err)
		return
	}
	tracing.EndProtocolEvent(span, t.Result.String(), t.Reason)
}

func (s *WebSocketServer) dispatch(ctx context.Context, hostID domain.HostID, env Envelope) (domain.Transition, error) {
	switch env.Type {
	case "reliable_ping":
		return s.coordinator.HandlePing(ctx, hostID), nil

	case "group_member_join_ack":
		var p JoinAckPayload
		if err := decodePayload(env, &p); err != nil {
			return domain.Transition{}, err
		}
		return s.coordinator.HandleJoinAck(ctx, hostID, p.AddedHostID, p.EventID), nil

	case "holepunch_success":
		var p domain.HolepunchReport
		if err := decodePayload(env, &p); err != nil {
			return domain.Transition{}, err
		}
		return s.coordinator.HandleHolepunchSuccess(ctx, hostID, p), nil

	case "jit_direct_p2p_triggered":
		var p JitTriggerPayload
		if err := decodePayload(env, &p); err != nil {
			return domain.Transition{}, err
		}
		return s.coordinator.HandleJitTrigger(ctx, hostID, p.TargetHostID), nil

	case "request_create_relay_socket":
		return s.coordinator.AssignRelaySocket(ctx, hostID), nil

	case "create_relay_socket_ack":
		return s.coordinator.AcknowledgeSocketCreated(ctx, hostID), nil

	case "shutdown_tcp":
		return s.coordinator.HandleShutdown(ctx, hostID), nil

	case "notify_log":
		var p NotifyLogPayload
		if err := decodePayload(env, &p); err != nil {
			return domain.Transition{}, err
		}
		return s.coordinator.HandleNotifyLog(ctx, hostID, p.Text), nil

	case "nat_device_name_detected":
		var p NatDeviceNamePayload
		if err := decodePayload(env, &p); err != nil {
			return domain.Transition{}, err
		}
		return s.coordinator.HandleNatDeviceName(ctx, hostID, p.Name), nil

	case "report_udp_trial_count":
		var p UdpTrialCountPayload
		if err := decodePayload(env, &p); err != nil {
			return domain.Transition{}, err
		}
		return s.coordinator.HandleUdpTrialCount(ctx, hostID, p.TargetHostID, p.Count), nil

	default:
		return domain.Transition{}, fmt.Errorf("unknown message type: %q", env.Type)
	}
}

func decodePayload(env Envelope, v interface{}) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", env.Type, err)
	}
	return nil
}

// Send queues msg for hostID. A full queue drops the message.
func (s *WebSocketServer) Send(hostID domain.HostID, msg domain.Message) {
	s.mu.RLock()
	c, ok := s.clients[hostID]
	s.mu.RUnlock()
	if !ok {
		s.logger.Debugw("send to unknown session", "host_id", hostID, "type", msg.MessageType())
		return
	}

	data, err := encodeMessage(msg)
	if err != nil {
		s.logger.Errorw("failed to encode message", "type", msg.MessageType(), "error", err)
		return
	}

	select {
	case c.send <- data:
	case <-c.done:
	default:
		s.logger.Warnw("send queue full, dropping message", "host_id", hostID, "type", msg.MessageType())
	}
}

// Close ends the session's connection. Teardown runs on the reader side.
func (s *WebSocketServer) Close(hostID domain.HostID) {
	s.mu.RLock()
	c, ok := s.clients[hostID]
	s.mu.RUnlock()
	if ok {
		c.close()
	}
}

// Shutdown closes every connection.
func (s *WebSocketServer) Shutdown() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		c.close()
	}
}

func encodeMessage(msg domain.Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: msg.MessageType(), Payload: payload})
}

func (s *WebSocketServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *WebSocketServer) IsConnected(hostID domain.HostID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.clients[hostID]
	return ok
}

func (s *WebSocketServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": s.ConnectionCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}
