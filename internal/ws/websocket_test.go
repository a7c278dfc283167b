package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lxzan/gws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tollgate/pkg/classifier"
	"tollgate/pkg/core"
	"tollgate/pkg/governor"
)

type echoHandler struct {
	gws.BuiltinEventHandler
}

func (echoHandler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()
	_ = socket.WriteMessage(message.Opcode, message.Bytes())
}

func echoServer(t *testing.T) string {
	t.Helper()
	upgrader := gws.NewUpgrader(&echoHandler{}, &gws.ServerOption{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		socket, err := upgrader.Upgrade(w, r)
		if err != nil {
			return
		}
		go socket.ReadLoop()
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testGovernor(t *testing.T) *governor.Governor {
	t.Helper()
	profile := &core.TierProfile{
		Name: "stream",
		Dimensions: []core.DimensionSpec{
			core.RollingWindow("connections_5m", 300, 5*time.Minute),
		},
		Categories: []core.Category{
			{Name: "connect", Cost: map[string]int64{"connections_5m": 1}},
		},
	}
	reg, err := classifier.NewRegistry(profile)
	require.NoError(t, err)
	reg.MustRegister("ws.connect", classifier.Fixed("connect"))

	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := core.DefaultConfig().WithJitter(0)
	gov, err := governor.New(reg, governor.WithClock(clock), governor.WithConfig(cfg))
	require.NoError(t, err)
	return gov
}

func TestNewClient(t *testing.T) {
	c, err := NewClient(Config{URL: "wss://example.com/ws"}, nil)
	require.NoError(t, err)
	assert.False(t, c.IsConnected())
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, 1*time.Second, c.config.ReconnectBaseWait)
	assert.Equal(t, 30*time.Second, c.config.ReconnectMaxWait)
	assert.Equal(t, 10*time.Second, c.config.PingInterval)
	assert.Equal(t, 20*time.Second, c.config.PongWait)
	assert.Equal(t, 1, c.config.MessageBurst)

	gov := testGovernor(t)
	tests := []struct {
		name   string
		config Config
		gov    *governor.Governor
	}{
		{"missing url", Config{}, nil},
		{"negative rate", Config{URL: "wss://example.com/ws", MessagesPerSecond: -1}, nil},
		{"connect op without governor", Config{URL: "wss://example.com/ws", ConnectOperation: "ws.connect"}, nil},
		{"unregistered connect op", Config{URL: "wss://example.com/ws", ConnectOperation: "ws.dial"}, gov},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.config, tt.gov)
			assert.Error(t, err)
		})
	}
}

func TestConnState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", ConnState(42).String())
}

func TestClient_SubscriptionCap(t *testing.T) {
	c, err := NewClient(Config{URL: "wss://example.com/ws", MaxSubscriptions: 2}, nil)
	require.NoError(t, err)
	defer c.Close()

	handler := func([]byte) error { return nil }
	require.NoError(t, c.Subscribe("trades", handler))
	_, _, err = c.SubscribeChannel("depth")
	require.NoError(t, err)

	err = c.Subscribe("ticker", handler)
	assert.ErrorIs(t, err, ErrTooManySubscriptions)

	err = c.Subscribe("trades", handler)
	assert.ErrorIs(t, err, ErrAlreadySubscribed)

	assert.Equal(t, []string{"depth", "trades"}, c.Subscriptions())

	c.Unsubscribe("trades")
	require.NoError(t, c.Subscribe("ticker", handler))
	assert.Equal(t, []string{"depth", "ticker"}, c.Subscriptions())
}

func TestClient_UnsubscribeClosesChannels(t *testing.T) {
	c, err := NewClient(Config{URL: "wss://example.com/ws"}, nil)
	require.NoError(t, err)
	defer c.Close()

	dataCh, errCh, err := c.SubscribeChannel("trades")
	require.NoError(t, err)
	c.Unsubscribe("trades")

	_, ok := <-dataCh
	assert.False(t, ok)
	_, ok = <-errCh
	assert.False(t, ok)
	assert.Empty(t, c.Subscriptions())
}

func TestClient_SubscribeAfterClose(t *testing.T) {
	c, err := NewClient(Config{URL: "wss://example.com/ws"}, nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Error(t, c.Subscribe("trades", func([]byte) error { return nil }))
	assert.Equal(t, StateClosed, c.State())
}

func TestClient_NotConnected(t *testing.T) {
	c, err := NewClient(Config{URL: "wss://example.com/ws"}, nil)
	require.NoError(t, err)

	err = c.WriteMessage(context.Background(), []byte("ping"))
	assert.True(t, core.IsErrorCode(err, core.ErrCodeNotConnected))
	assert.ErrorIs(t, c.SendPing(), ErrNotConnected)
	assert.ErrorIs(t, c.SendJSON(context.Background(), map[string]string{"op": "ping"}), ErrNotConnected)
}

func TestClient_Backoff(t *testing.T) {
	c, err := NewClient(Config{
		URL:               "wss://example.com/ws",
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  30 * time.Second,
	}, nil)
	require.NoError(t, err)

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{11, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, c.backoff(tt.attempt), "backoff for attempt %d", tt.attempt)
	}
}

func TestClient_ConnectIsGoverned(t *testing.T) {
	gov := testGovernor(t)
	c, err := NewClient(Config{URL: echoServer(t), ConnectOperation: "ws.connect"}, gov)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	assert.True(t, c.IsConnected())
	require.NoError(t, c.Connect(ctx))

	usage := gov.Snapshot()["connections_5m"]
	assert.Equal(t, int64(1), usage.Consumed)
	assert.Equal(t, "CLOSED", usage.State)

	dataCh, _, err := c.SubscribeChannel("echo")
	require.NoError(t, err)
	require.NoError(t, c.SendJSON(ctx, map[string]string{"method": "SUBSCRIBE"}))

	select {
	case data := <-dataCh:
		assert.JSONEq(t, `{"method":"SUBSCRIBE"}`, string(data))
	case <-ctx.Done():
		t.Fatal("no echo received")
	}
	assert.NoError(t, c.SendPing())
}

func TestClient_RefusedHandshakeOpensCooldown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	gov := testGovernor(t)
	c, err := NewClient(Config{URL: "ws" + strings.TrimPrefix(server.URL, "http"), ConnectOperation: "ws.connect"}, gov)
	require.NoError(t, err)
	defer c.Close()

	err = c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsRemoteRateLimited(err))
	assert.Equal(t, StateDisconnected, c.State())

	usage := gov.Snapshot()["connections_5m"]
	assert.Equal(t, int64(1), usage.Consumed)
	assert.Equal(t, 30*time.Second, usage.CooldownFor)

	_, err = gov.TryAcquire("ws.connect", nil)
	assert.True(t, core.IsWouldExceed(err))
}

func TestClient_WritesArePaced(t *testing.T) {
	c, err := NewClient(Config{URL: echoServer(t), MessagesPerSecond: 1}, nil)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))

	require.NoError(t, c.WriteMessage(ctx, []byte("first")))

	short, cancelShort := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelShort()
	err = c.WriteMessage(short, []byte("second"))
	require.Error(t, err)
	assert.True(t, core.IsCanceled(err))
}
