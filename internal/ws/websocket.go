// Package ws provides a gws websocket client whose connection attempts are admitted
// by a governor and whose outbound frames are paced per connection.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"github.com/lxzan/gws"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tollgate/internal/circuitbreaker"
	"tollgate/pkg/core"
	"tollgate/pkg/feedback"
	"tollgate/pkg/governor"
)

var (
	// ErrNotConnected is returned by writes while the connection is down.
	ErrNotConnected = &core.GovernorError{Type: core.ErrorTypeUnknown, Code: string(core.ErrCodeNotConnected), Message: "websocket not connected"}
	// ErrTooManySubscriptions is returned when a subscription would exceed Config.MaxSubscriptions.
	ErrTooManySubscriptions = errors.New("subscription limit reached")
	// ErrAlreadySubscribed is returned when a channel is subscribed twice.
	ErrAlreadySubscribed = errors.New("channel already subscribed")
)

// Config holds configuration options for a websocket client.
type Config struct {
	// URL is the websocket server endpoint to connect to.
	URL string `validate:"required,url"`
	// ConnectOperation is the operation acquired from the governor before every dial.
	// Empty means connections are not governed.
	ConnectOperation string
	// MessagesPerSecond paces outbound frames. Zero disables pacing.
	MessagesPerSecond float64 `validate:"min=0"`
	// MessageBurst is the number of frames that may be sent back to back. Defaults to 1.
	MessageBurst int `validate:"min=0"`
	// MaxSubscriptions caps the channels routed over one connection. Zero means no cap.
	MaxSubscriptions int `validate:"min=0"`
	// ReconnectEnabled determines whether automatic reconnection is enabled.
	ReconnectEnabled bool
	// ReconnectBaseWait is the wait before the first reconnection attempt.
	ReconnectBaseWait time.Duration `validate:"min=0"`
	// ReconnectMaxWait caps the doubling wait between reconnection attempts.
	ReconnectMaxWait time.Duration `validate:"min=0"`
	PingInterval     time.Duration `validate:"min=0"`
	PongWait         time.Duration `validate:"min=0"`
	// BufferSize is the capacity of channel buffers for subscription messages.
	BufferSize int `validate:"min=0"`
	Header     http.Header
}

// Client manages a websocket connection with reconnection and subscription support.
type Client struct {
	config  Config
	state   *State
	conn    *gws.Conn
	handler *eventHandler
	gov     *governor.Governor
	parser  *feedback.Parser
	limiter *rate.Limiter
	clock   clockwork.Clock
	logger  zerolog.Logger

	mu                sync.RWMutex
	subs              map[string]*subscription
	connectedChan     chan struct{}
	stopChan          chan struct{}
	wg                sync.WaitGroup
	reconnectAttempts int
}

type subscription struct {
	channel string
	dataCh  chan []byte
	errCh   chan error
}

type eventHandler struct {
	client *Client
}

// NewClient creates a websocket client. gov may be nil, in which case dials are not
// governed. Default values are applied for any zero-valued configuration fields.
func NewClient(config Config, gov *governor.Governor) (*Client, error) {
	if err := validator.New().Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.ConnectOperation != "" && gov == nil {
		return nil, fmt.Errorf("invalid config: connect operation %q needs a governor", config.ConnectOperation)
	}
	if gov != nil && config.ConnectOperation != "" && !gov.Registry().Has(config.ConnectOperation) {
		return nil, core.NewUnknownOperationError(config.ConnectOperation)
	}
	if config.ReconnectBaseWait == 0 {
		config.ReconnectBaseWait = 1 * time.Second
	}
	if config.ReconnectMaxWait == 0 {
		config.ReconnectMaxWait = 30 * time.Second
	}
	if config.PingInterval == 0 {
		config.PingInterval = 10 * time.Second
	}
	if config.PongWait == 0 {
		config.PongWait = 20 * time.Second
	}
	if config.BufferSize == 0 {
		config.BufferSize = 100
	}
	if config.MessageBurst == 0 {
		config.MessageBurst = 1
	}

	limit := rate.Inf
	if config.MessagesPerSecond > 0 {
		limit = rate.Limit(config.MessagesPerSecond)
	}

	client := &Client{
		config:        config,
		state:         &State{},
		gov:           gov,
		parser:        feedback.NewParser(),
		limiter:       rate.NewLimiter(limit, config.MessageBurst),
		clock:         clockwork.NewRealClock(),
		subs:          make(map[string]*subscription),
		connectedChan: make(chan struct{}),
		stopChan:      make(chan struct{}),
		logger:        zerolog.Nop(),
	}
	client.state.Store(StateDisconnected)
	client.handler = &eventHandler{client: client}
	return client, nil
}

// SetLogger configures the logger for the websocket client.
func (c *Client) SetLogger(logger zerolog.Logger) {
	c.logger = logger.With().Str("component", "ws").Logger()
}

// SetParser replaces the parser applied to failed handshake responses.
func (c *Client) SetParser(p *feedback.Parser) {
	c.parser = p
}

func (h *eventHandler) OnOpen(socket *gws.Conn) {
	if !h.client.state.CompareAndSwap(StateConnecting, StateConnected) {
		_ = socket.NetConn().Close()
		return
	}

	h.client.mu.Lock()
	h.client.reconnectAttempts = 0
	select {
	case <-h.client.connectedChan:
	default:
		close(h.client.connectedChan)
	}
	h.client.mu.Unlock()

	h.client.logger.Info().
		Str("url", h.client.config.URL).
		Msg("websocket connected")

	_ = socket.SetDeadline(time.Now().Add(h.client.config.PingInterval + h.client.config.PongWait))
}

func (h *eventHandler) OnClose(socket *gws.Conn, err error) {
	if !h.client.state.CompareAndSwap(StateConnected, StateDisconnected) &&
		!h.client.state.CompareAndSwap(StateConnecting, StateDisconnected) {
		return
	}

	h.client.mu.Lock()
	h.client.connectedChan = make(chan struct{})
	h.client.mu.Unlock()

	h.client.logger.Warn().
		Err(err).
		Str("url", h.client.config.URL).
		Msg("websocket disconnected")

	if h.client.config.ReconnectEnabled {
		select {
		case <-h.client.stopChan:
			return
		default:
			h.client.wg.Go(h.client.attemptReconnect)
		}
	}
}

func (h *eventHandler) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(time.Now().Add(h.client.config.PingInterval + h.client.config.PongWait))
	_ = socket.WritePong(nil)
}

func (h *eventHandler) OnPong(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(time.Now().Add(h.client.config.PingInterval + h.client.config.PongWait))
}

func (h *eventHandler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	data := message.Bytes()
	if len(data) == 0 {
		return
	}
	// gws reuses the message buffer once Close returns.
	data = append([]byte(nil), data...)

	h.client.mu.RLock()
	defer h.client.mu.RUnlock()
	for _, sub := range h.client.subs {
		select {
		case sub.dataCh <- data:
		default:
			h.client.logger.Warn().Str("channel", sub.channel).Msg("channel buffer full, dropping message")
		}
	}
}

// Connect acquires the connect operation from the governor and dials the configured
// URL. A handshake refused by the venue is reported back to the governor, so a 429 on
// upgrade opens the same cooldown an HTTP 429 would.
func (c *Client) Connect(ctx context.Context) error {
	if !c.state.CompareAndSwap(StateDisconnected, StateConnecting) &&
		!c.state.CompareAndSwap(StateReconnecting, StateConnecting) {
		current := c.state.Load()
		if current == StateConnected {
			return nil
		}
		return fmt.Errorf("invalid state for connect: %s", current)
	}

	var permit *governor.Permit
	if c.config.ConnectOperation != "" {
		p, err := c.gov.Acquire(ctx, c.config.ConnectOperation, nil)
		if err != nil {
			c.state.CompareAndSwap(StateConnecting, StateDisconnected)
			return err
		}
		permit = p
	}

	socket, resp, err := gws.NewClient(c.handler, &gws.ClientOption{
		Addr:          c.config.URL,
		RequestHeader: c.config.Header,
	})
	if err != nil {
		c.state.CompareAndSwap(StateConnecting, StateDisconnected)
		if resp != nil {
			_ = resp.Body.Close()
			meta := c.parser.Parse(resp.StatusCode, resp.Header, nil)
			permit.Complete(meta)
			if meta.Violation != feedback.ViolationNone {
				return core.NewRemoteRateLimitedError("", meta.RetryAfter).WithOperation(c.config.ConnectOperation)
			}
		}
		return fmt.Errorf("connect websocket: %w", err)
	}
	permit.Complete(feedback.Metadata{Status: http.StatusSwitchingProtocols})

	c.mu.Lock()
	c.conn = socket
	connected := c.connectedChan
	c.mu.Unlock()

	c.wg.Go(socket.ReadLoop)

	select {
	case <-connected:
		return nil
	case <-ctx.Done():
		_ = socket.NetConn().Close()
		c.state.CompareAndSwap(StateConnecting, StateDisconnected)
		return ctx.Err()
	case <-c.stopChan:
		_ = socket.NetConn().Close()
		return fmt.Errorf("client stopped")
	}
}

// Close gracefully shuts down the websocket client and releases all resources.
func (c *Client) Close() error {
	for {
		current := c.state.Load()
		if current == StateClosed {
			return nil
		}
		if c.state.CompareAndSwap(current, StateClosed) {
			break
		}
	}

	close(c.stopChan)

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.NetConn().Close()
	}
	for _, sub := range c.subs {
		sub.close()
	}
	c.subs = make(map[string]*subscription)
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}

// State returns the current connection state of the websocket.
func (c *Client) State() ConnState {
	return c.state.Load()
}

// IsConnected returns true if the websocket has an active connection.
func (c *Client) IsConnected() bool {
	return c.state.Load() == StateConnected
}

func (s *subscription) close() {
	close(s.dataCh)
	close(s.errCh)
}

func (c *Client) subscribe(channel string) (*subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Load() == StateClosed {
		return nil, fmt.Errorf("client closed")
	}
	if _, ok := c.subs[channel]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadySubscribed, channel)
	}
	if c.config.MaxSubscriptions > 0 && len(c.subs) >= c.config.MaxSubscriptions {
		return nil, fmt.Errorf("%w: %d per connection", ErrTooManySubscriptions, c.config.MaxSubscriptions)
	}

	sub := &subscription{
		channel: channel,
		dataCh:  make(chan []byte, c.config.BufferSize),
		errCh:   make(chan error, 1),
	}
	c.subs[channel] = sub

	c.logger.Debug().Str("channel", channel).Int("subscriptions", len(c.subs)).Msg("subscribed to channel")
	return sub, nil
}

// SubscribeChannel registers a subscription for the given channel and returns
// separate channels for receiving data and errors. Both are closed on Unsubscribe.
func (c *Client) SubscribeChannel(channel string) (<-chan []byte, <-chan error, error) {
	sub, err := c.subscribe(channel)
	if err != nil {
		return nil, nil, err
	}
	return sub.dataCh, sub.errCh, nil
}

// Subscribe registers a handler function for messages on the given channel.
// Handlers run on one goroutine per subscription.
func (c *Client) Subscribe(channel string, handler func([]byte) error) error {
	sub, err := c.subscribe(channel)
	if err != nil {
		return err
	}

	c.wg.Go(func() {
		for {
			select {
			case data, ok := <-sub.dataCh:
				if !ok {
					return
				}
				if err := handler(data); err != nil {
					c.logger.Error().Err(err).Str("channel", channel).Msg("handler error")
				}
			case err, ok := <-sub.errCh:
				if !ok {
					return
				}
				c.logger.Error().Err(err).Str("channel", channel).Msg("subscription error")
			case <-c.stopChan:
				return
			}
		}
	})
	return nil
}

// Unsubscribe removes the subscription for the given channel, freeing its slot.
func (c *Client) Unsubscribe(channel string) {
	c.mu.Lock()
	if sub, ok := c.subs[channel]; ok {
		sub.close()
		delete(c.subs, channel)
	}
	c.mu.Unlock()

	c.logger.Debug().Str("channel", channel).Msg("unsubscribed from channel")
}

// Subscriptions returns the active subscription channel names, sorted.
func (c *Client) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	subs := make([]string, 0, len(c.subs))
	for channel := range c.subs {
		subs = append(subs, channel)
	}
	sort.Strings(subs)
	return subs
}

// WriteMessage waits for the connection's pacing limiter and sends raw bytes.
func (c *Client) WriteMessage(ctx context.Context, data []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return core.NewCanceledError("ws.write", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil || c.state.Load() != StateConnected {
		return ErrNotConnected
	}
	return c.conn.WriteMessage(gws.OpcodeText, data)
}

// SendJSON marshals v with sonic and sends it through WriteMessage.
func (c *Client) SendJSON(ctx context.Context, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	return c.WriteMessage(ctx, data)
}

// SendPing sends a ping frame. Control frames are not paced.
func (c *Client) SendPing() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil || c.state.Load() != StateConnected {
		return ErrNotConnected
	}
	return c.conn.WritePing(nil)
}

func (c *Client) attemptReconnect() {
	if !c.state.CompareAndSwap(StateDisconnected, StateReconnecting) {
		return
	}

	for {
		c.mu.Lock()
		c.reconnectAttempts++
		attempt := c.reconnectAttempts
		c.mu.Unlock()

		wait := c.backoff(attempt)
		c.logger.Info().
			Dur("wait", wait).
			Int("attempt", attempt).
			Msg("attempting reconnect")

		select {
		case <-c.clock.After(wait):
		case <-c.stopChan:
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.Connect(ctx)
		cancel()
		if err == nil {
			c.logger.Info().Int("attempt", attempt).Msg("reconnected")
			return
		}

		c.logger.Error().Err(err).Int("attempt", attempt).Msg("reconnect failed")
		if !c.state.CompareAndSwap(StateDisconnected, StateReconnecting) {
			return
		}
	}
}

// backoff mirrors the violation handler's doubling schedule.
func (c *Client) backoff(attempt int) time.Duration {
	return circuitbreaker.Backoff(attempt, c.config.ReconnectBaseWait, c.config.ReconnectMaxWait)
}
