package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	feast "github.com/openfeast/feast-client/client"
	"github.com/openfeast/feast-client/client/realtime/mocktesting"
)

// recorder collects emitted events for assertions across goroutines.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.EventName() == name {
			n++
		}
	}
	return n
}

func newTestChannel(t *testing.T, srv *mocktesting.MockMarketplaceServer) (*Channel, *Dispatcher, *feast.TokenStore) {
	t.Helper()
	cfg := feast.Config{
		BaseURL:           srv.BaseURL(),
		ReconnectAttempts: 2,
		ReconnectDelay:    20 * time.Millisecond,
	}
	tokens := feast.NewTokenStore(feast.NewMemoryStorage(), zerolog.Nop())
	tokens.Set(feast.TokenPair{Access: srv.AccessToken(), Refresh: "refresh-token-1"})

	dispatcher := NewDispatcher(zerolog.Nop())
	ch := NewChannel(cfg, tokens, dispatcher, zerolog.Nop())
	t.Cleanup(ch.Disconnect)
	return ch, dispatcher, tokens
}

func waitForState(t *testing.T, ch *Channel, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return ch.State() == want },
		2*time.Second, 5*time.Millisecond, "channel never reached %s", want)
}

func TestChannelConnectAndDeliver(t *testing.T) {
	srv := mocktesting.NewMockMarketplaceServer()
	defer srv.Close()
	ch, dispatcher, _ := newTestChannel(t, srv)

	rec := &recorder{}
	dispatcher.On(EventConnected, rec.record)
	dispatcher.On(EventOrderStatusChanged, rec.record)

	require.NoError(t, ch.Connect(context.Background(), feast.RoleCustomer))
	waitForState(t, ch, StateOpen)
	assert.Equal(t, 1, srv.UpgradeCount("/ws/orders/"))
	assert.Equal(t, feast.RoleCustomer, ch.Role())

	require.NoError(t, srv.SendOrderStatusChanged(42, "on_way"))
	require.Eventually(t, func() bool { return rec.count(EventOrderStatusChanged) == 1 },
		2*time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	var status OrderStatusChanged
	for _, ev := range rec.events {
		if s, ok := ev.(OrderStatusChanged); ok {
			status = s
		}
	}
	rec.mu.Unlock()
	assert.Equal(t, int64(42), status.OrderID)
	assert.Equal(t, "on_way", status.Status)
	assert.Equal(t, 1, rec.count(EventConnected))
}

func TestChannelRoleEndpoints(t *testing.T) {
	tests := []struct {
		role feast.Role
		path string
	}{
		{feast.RoleCustomer, "/ws/orders/"},
		{feast.RoleRider, "/ws/orders/"},
		{feast.RoleVendor, "/ws/vendor/"},
		{feast.RoleAdmin, "/ws/admin/dashboard/"},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			srv := mocktesting.NewMockMarketplaceServer()
			defer srv.Close()
			ch, _, _ := newTestChannel(t, srv)

			require.NoError(t, ch.Connect(context.Background(), tt.role))
			waitForState(t, ch, StateOpen)
			assert.Equal(t, 1, srv.UpgradeCount(tt.path))
		})
	}
}

func TestChannelOpensAgainstSilentServer(t *testing.T) {
	srv := mocktesting.NewMockMarketplaceServer()
	defer srv.Close()
	srv.SetQuiet(true)
	ch, dispatcher, _ := newTestChannel(t, srv)

	rec := &recorder{}
	dispatcher.On(EventOrderStatusChanged, rec.record)

	// The server accepts and then sends nothing; the channel must still open
	// and hold the connection without any read deadline.
	require.NoError(t, ch.Connect(context.Background(), feast.RoleCustomer))
	waitForState(t, ch, StateOpen)

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, StateOpen, ch.State(), "a healthy but quiet connection must not be dropped")
	assert.Equal(t, 1, srv.TotalUpgrades())

	// And it is live: the first frame ever sent still arrives.
	require.NoError(t, srv.SendOrderStatusChanged(7, "accepted"))
	require.Eventually(t, func() bool { return rec.count(EventOrderStatusChanged) == 1 },
		2*time.Second, 5*time.Millisecond)
}

func TestChannelConcurrentSend(t *testing.T) {
	srv := mocktesting.NewMockMarketplaceServer()
	defer srv.Close()
	ch, _, _ := newTestChannel(t, srv)

	require.NoError(t, ch.Connect(context.Background(), feast.RoleCustomer))
	waitForState(t, ch, StateOpen)

	// Writes from many goroutines must be serialized onto the socket.
	const senders, perSender = 8, 200
	var wg sync.WaitGroup
	var failed atomic.Int32
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				if !ch.Send(map[string]int{"sender": i, "seq": j}) {
					failed.Add(1)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(0), failed.Load())
	assert.Equal(t, StateOpen, ch.State())
}

func TestChannelConnectIdempotent(t *testing.T) {
	srv := mocktesting.NewMockMarketplaceServer()
	defer srv.Close()
	ch, _, _ := newTestChannel(t, srv)

	require.NoError(t, ch.Connect(context.Background(), feast.RoleVendor))
	waitForState(t, ch, StateOpen)
	require.NoError(t, ch.Connect(context.Background(), feast.RoleVendor))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, srv.TotalUpgrades(), "one socket per session, ever")
	assert.Equal(t, 1, srv.ConnectionCount())
}

func TestChannelConnectGuards(t *testing.T) {
	srv := mocktesting.NewMockMarketplaceServer()
	defer srv.Close()
	ch, _, tokens := newTestChannel(t, srv)

	assert.ErrorIs(t, ch.Connect(context.Background(), feast.Role("ghost")), ErrUnknownRole)

	tokens.Clear()
	assert.ErrorIs(t, ch.Connect(context.Background(), feast.RoleCustomer), ErrNoCredentials)
	assert.Equal(t, StateDisconnected, ch.State())
}

func TestChannelSendRequiresOpen(t *testing.T) {
	srv := mocktesting.NewMockMarketplaceServer()
	defer srv.Close()
	ch, _, _ := newTestChannel(t, srv)

	assert.False(t, ch.Send(map[string]string{"type": "ping"}), "send in Disconnected reports false")

	require.NoError(t, ch.Connect(context.Background(), feast.RoleCustomer))
	waitForState(t, ch, StateOpen)
	assert.True(t, ch.Send(map[string]string{"type": "ping"}))

	ch.Disconnect()
	assert.False(t, ch.Send(map[string]string{"type": "ping"}))
}

func TestChannelAuthErrorDoesNotRetry(t *testing.T) {
	srv := mocktesting.NewMockMarketplaceServer()
	defer srv.Close()
	srv.SetRejectAuth(true)
	ch, dispatcher, _ := newTestChannel(t, srv)

	rec := &recorder{}
	dispatcher.On(EventAuthError, rec.record)
	dispatcher.On(EventDisconnected, rec.record)

	require.NoError(t, ch.Connect(context.Background(), feast.RoleCustomer))
	waitForState(t, ch, StateDisconnected)

	require.Eventually(t, func() bool { return rec.count(EventAuthError) == 1 },
		2*time.Second, 5*time.Millisecond)

	// Past several retry delays: rejection is terminal, no reconnect loop.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, srv.TotalUpgrades())
	assert.Equal(t, StateDisconnected, ch.State())
}

func TestChannelReconnectCeiling(t *testing.T) {
	srv := mocktesting.NewMockMarketplaceServer()
	defer srv.Close()
	srv.SetCloseOnConnect(true)
	ch, _, _ := newTestChannel(t, srv)

	require.NoError(t, ch.Connect(context.Background(), feast.RoleCustomer))

	// Initial dial plus ReconnectAttempts retries, then it settles.
	require.Eventually(t, func() bool {
		return srv.TotalUpgrades() == 3 && ch.State() == StateDisconnected
	}, 3*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 3, srv.TotalUpgrades(), "no dials after the ceiling")
	assert.Equal(t, StateDisconnected, ch.State())
}

func TestChannelReconnectsAfterServerDrop(t *testing.T) {
	srv := mocktesting.NewMockMarketplaceServer()
	defer srv.Close()
	ch, dispatcher, _ := newTestChannel(t, srv)

	rec := &recorder{}
	dispatcher.On(EventConnected, rec.record)
	dispatcher.On(EventDisconnected, rec.record)

	require.NoError(t, ch.Connect(context.Background(), feast.RoleVendor))
	waitForState(t, ch, StateOpen)

	srv.CloseAll()
	require.Eventually(t, func() bool {
		return ch.State() == StateOpen && srv.TotalUpgrades() == 2
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, 2, rec.count(EventConnected))
	assert.Equal(t, 1, rec.count(EventDisconnected), "loss of an open channel is surfaced once")
}

func TestChannelStaysDownAfterLogout(t *testing.T) {
	srv := mocktesting.NewMockMarketplaceServer()
	defer srv.Close()
	ch, _, tokens := newTestChannel(t, srv)

	require.NoError(t, ch.Connect(context.Background(), feast.RoleCustomer))
	waitForState(t, ch, StateOpen)

	// Credentials gone before the drop: the loss handler must not redial.
	tokens.Clear()
	srv.CloseAll()
	waitForState(t, ch, StateDisconnected)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, srv.TotalUpgrades())
}

func TestChannelDisconnectIdempotent(t *testing.T) {
	srv := mocktesting.NewMockMarketplaceServer()
	defer srv.Close()
	ch, dispatcher, _ := newTestChannel(t, srv)

	rec := &recorder{}
	dispatcher.On(EventDisconnected, rec.record)

	require.NoError(t, ch.Connect(context.Background(), feast.RoleCustomer))
	waitForState(t, ch, StateOpen)

	ch.Disconnect()
	ch.Disconnect()

	assert.Equal(t, StateDisconnected, ch.State())
	assert.Equal(t, 1, rec.count(EventDisconnected), "only the first teardown emits")

	require.Eventually(t, func() bool { return srv.ConnectionCount() == 0 },
		2*time.Second, 5*time.Millisecond)
}
