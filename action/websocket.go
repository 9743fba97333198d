package action

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saiset-co/giro-sync/types"
	"github.com/saiset-co/giro-sync/utils"
)

type BrokerState int32

const (
	BrokerStateStopped BrokerState = iota
	BrokerStateStarting
	BrokerStateRunning
	BrokerStateStopping
	BrokerStateReconnecting
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultPingInterval   = 54 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultWriteWait      = 10 * time.Second
	dialTimeout           = 10 * time.Second
	sendBufferSize        = 256
)

type BrokerOption func(*WebSocketBroker)

func WithBrokerMetrics(metrics types.MetricsManager) BrokerOption {
	return func(w *WebSocketBroker) {
		w.metrics = metrics
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(dialer *websocket.Dialer) BrokerOption {
	return func(w *WebSocketBroker) {
		w.dialer = dialer
	}
}

// WebSocketBroker keeps one websocket connection to the push endpoint and
// hands every incoming ActionMessage to the registry. A dropped connection is
// redialed every ReconnectDelay until MaxRetries consecutive failures.
type WebSocketBroker struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	metrics         types.MetricsManager
	config          types.PushConfig
	registry        *Registry
	dialer          *websocket.Dialer
	send            chan *types.ActionMessage
	done            chan struct{}
	state           atomic.Value
	reconnects      atomic.Int64
	shutdownTimeout time.Duration
}

func NewWebSocketBroker(ctx context.Context, logger types.Logger, config *types.PushConfig, registry *Registry, opts ...BrokerOption) (*WebSocketBroker, error) {
	if config == nil || config.URL == "" {
		return nil, types.Errorf(types.ErrActionConfigInvalid, "push.url is required")
	}
	if registry == nil {
		return nil, types.Errorf(types.ErrActionConfigInvalid, "registry is nil")
	}

	cfg := *config
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	if cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}

	brokerCtx, cancel := context.WithCancel(ctx)

	w := &WebSocketBroker{
		ctx:             brokerCtx,
		cancel:          cancel,
		logger:          logger,
		config:          cfg,
		registry:        registry,
		dialer:          websocket.DefaultDialer,
		send:            make(chan *types.ActionMessage, sendBufferSize),
		done:            make(chan struct{}),
		shutdownTimeout: 10 * time.Second,
	}

	for _, opt := range opts {
		opt(w)
	}

	w.state.Store(BrokerStateStopped)

	logger.Info("WebSocket broker initialized",
		zap.String("url", cfg.URL),
		zap.Duration("reconnect_delay", cfg.ReconnectDelay),
		zap.Int("max_retries", cfg.MaxRetries))

	return w, nil
}

// On subscribes handler to a push event; see Registry.On.
func (w *WebSocketBroker) On(event string, handler types.ActionHandler) func() {
	return w.registry.On(event, handler)
}

// Publish queues a message for the server. It never blocks: a full send
// buffer drops the message and returns ErrActionPublishFailed.
func (w *WebSocketBroker) Publish(action string, payload interface{}) error {
	if !w.IsRunning() {
		return types.ErrActionNotInitialized
	}
	if action == "" {
		return types.Errorf(types.ErrActionConfigInvalid, "empty action")
	}

	message := &types.ActionMessage{
		Action:    action,
		Payload:   payload,
		Timestamp: time.Now(),
		Source:    "giro-sync",
		MessageID: uuid.NewString(),
	}

	select {
	case w.send <- message:
		w.recordMetric("publish", "queued")
		return nil
	case <-w.ctx.Done():
		w.recordMetric("publish", "canceled")
		return types.ErrActionNotInitialized
	default:
		w.logger.Warn("Send buffer is full, dropping message",
			zap.String("action", action),
			zap.String("message_id", message.MessageID))
		w.recordMetric("publish", "dropped")
		return types.Errorf(types.ErrActionPublishFailed, "send buffer full")
	}
}

// Start dials the push endpoint once; failure to connect is returned and the
// broker stays stopped.
func (w *WebSocketBroker) Start() error {
	if !w.transitionState(BrokerStateStopped, BrokerStateStarting) {
		return types.ErrServerAlreadyRunning
	}

	conn, err := w.connect()
	if err != nil {
		w.setState(BrokerStateStopped)
		w.logger.Error("Failed to establish initial push connection", zap.Error(err))
		return err
	}

	w.setState(BrokerStateRunning)
	go w.run(conn)

	w.logger.Info("WebSocket broker started", zap.String("url", w.config.URL))
	return nil
}

func (w *WebSocketBroker) Stop() error {
	if !w.transitionState(BrokerStateRunning, BrokerStateStopping) &&
		!w.transitionState(BrokerStateReconnecting, BrokerStateStopping) {
		return types.ErrServerNotRunning
	}

	w.cancel()

	timer := time.NewTimer(w.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-w.done:
		w.logger.Info("WebSocket broker stopped gracefully")
	case <-timer.C:
		w.logger.Warn("WebSocket broker stop timeout, connection may not have closed cleanly")
	}

	w.setState(BrokerStateStopped)
	return nil
}

func (w *WebSocketBroker) IsRunning() bool {
	state := w.getState()
	return state == BrokerStateRunning || state == BrokerStateReconnecting
}

// Reconnects returns how many times the connection was re-established.
func (w *WebSocketBroker) Reconnects() int64 {
	return w.reconnects.Load()
}

func (w *WebSocketBroker) getState() BrokerState {
	return w.state.Load().(BrokerState)
}

func (w *WebSocketBroker) setState(newState BrokerState) {
	w.state.Store(newState)
}

func (w *WebSocketBroker) transitionState(from, to BrokerState) bool {
	return w.state.CompareAndSwap(from, to)
}

func (w *WebSocketBroker) connect() (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(w.ctx, dialTimeout)
	defer cancel()

	header := http.Header{}
	for key, value := range w.config.Headers {
		header.Set(key, value)
	}

	conn, _, err := w.dialer.DialContext(dialCtx, w.config.URL, header)
	if err != nil {
		w.recordMetric("connect", "error")
		return nil, types.Errorf(types.ErrActionConnectionFailed, "%v", err)
	}

	w.recordMetric("connect", "success")
	w.logger.Debug("Connected to push endpoint", zap.String("url", w.config.URL))
	return conn, nil
}

func (w *WebSocketBroker) run(conn *websocket.Conn) {
	defer close(w.done)

	for {
		w.serve(conn)

		if w.ctx.Err() != nil {
			return
		}

		w.transitionState(BrokerStateRunning, BrokerStateReconnecting)

		conn = w.reconnect()
		if conn == nil {
			if w.transitionState(BrokerStateReconnecting, BrokerStateStopped) {
				w.cancel()
			}
			return
		}

		w.reconnects.Add(1)
		w.transitionState(BrokerStateReconnecting, BrokerStateRunning)
		w.logger.Info("Reconnected to push endpoint", zap.Int64("reconnects", w.reconnects.Load()))
	}
}

// reconnect returns nil when the broker is stopping or retries are exhausted.
// MaxRetries of zero retries forever.
func (w *WebSocketBroker) reconnect() *websocket.Conn {
	for attempt := 1; ; attempt++ {
		if w.config.MaxRetries > 0 && attempt > w.config.MaxRetries {
			w.logger.Error("Max reconnection attempts reached, push channel closed",
				zap.Int("max_retries", w.config.MaxRetries))
			return nil
		}

		timer := time.NewTimer(w.config.ReconnectDelay)
		select {
		case <-timer.C:
		case <-w.ctx.Done():
			timer.Stop()
			return nil
		}

		conn, err := w.connect()
		if err == nil {
			return conn
		}

		w.logger.Warn("Reconnection attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", w.config.MaxRetries),
			zap.Error(err))
	}
}

func (w *WebSocketBroker) serve(conn *websocket.Conn) {
	readDone := make(chan struct{})

	go func() {
		defer close(readDone)
		w.readPump(conn)
	}()

	w.writePump(conn, readDone)
	_ = conn.Close()
	<-readDone
}

func (w *WebSocketBroker) readPump(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(w.config.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(w.config.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if w.ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.logger.Warn("Push connection lost", zap.Error(err))
			} else {
				w.logger.Debug("Push connection closed", zap.Error(err))
			}
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(w.config.PongWait))

		var message types.ActionMessage
		if err := utils.UnmarshalNumbers(data, &message); err != nil {
			w.logger.Warn("Failed to decode push message", zap.Error(err))
			w.recordMetric("receive", "malformed")
			continue
		}
		if message.Action == "" {
			w.logger.Warn("Push message without action", zap.String("message_id", message.MessageID))
			w.recordMetric("receive", "malformed")
			continue
		}

		w.recordMetric("receive", "success")
		w.registry.Dispatch(&message)
	}
}

func (w *WebSocketBroker) writePump(conn *websocket.Conn, readDone <-chan struct{}) {
	ticker := time.NewTicker(w.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(w.config.WriteWait))
			return
		case <-readDone:
			return
		case message := <-w.send:
			data, err := utils.Marshal(message)
			if err != nil {
				w.logger.Error("Failed to encode outgoing message",
					zap.String("action", message.Action),
					zap.Error(err))
				continue
			}

			_ = conn.SetWriteDeadline(time.Now().Add(w.config.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				w.logger.Warn("Failed to send message",
					zap.String("action", message.Action),
					zap.String("message_id", message.MessageID),
					zap.Error(err))
				w.recordMetric("send", "error")
				return
			}
			w.recordMetric("send", "success")
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(w.config.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				w.logger.Debug("Ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (w *WebSocketBroker) recordMetric(operation, result string) {
	if w.metrics == nil {
		return
	}

	w.metrics.Counter("push_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	}).Inc()
}
