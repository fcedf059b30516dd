// Package session ties the token store, REST client and realtime channel into
// one login/logout lifecycle. The controller is the only writer of session
// state; everything else reads copies.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	feast "github.com/openfeast/feast-client/client"
	"github.com/openfeast/feast-client/client/realtime"
)

// Controller owns the session lifecycle: it logs in, binds the realtime
// channel to the user's role, and tears everything down in the right order on
// logout (channel first, credentials second, so no reconnect fires against a
// cleared store).
type Controller struct {
	api        *feast.Client
	tokens     *feast.TokenStore
	dispatcher *realtime.Dispatcher
	channel    *realtime.Channel
	notifier   feast.Notifier
	logger     zerolog.Logger
	cfg        feast.Config

	mu      sync.Mutex
	session feast.Session
	unsubs  []func()
}

// NewController wires the full client stack from one config. A nil notifier
// means notifications are dropped.
func NewController(cfg feast.Config, storage feast.Storage, notifier feast.Notifier, logger zerolog.Logger) *Controller {
	if notifier == nil {
		notifier = feast.NopNotifier{}
	}

	tokens := feast.NewTokenStore(storage, logger)
	dispatcher := realtime.NewDispatcher(logger)

	c := &Controller{
		api:        feast.NewClient(cfg, tokens, logger),
		tokens:     tokens,
		dispatcher: dispatcher,
		channel:    realtime.NewChannel(cfg, tokens, dispatcher, logger),
		notifier:   notifier,
		logger:     logger.With().Str("component", "session").Logger(),
		cfg:        cfg,
	}

	// A refresh that dead-ends in 401 means the session is over everywhere.
	c.api.SetUnauthenticatedHandler(c.ForceLogout)
	return c
}

// API exposes the REST client for direct resource calls.
func (c *Controller) API() *feast.Client { return c.api }

// Events exposes the dispatcher for view-level subscriptions.
func (c *Controller) Events() *realtime.Dispatcher { return c.dispatcher }

// Channel exposes the realtime channel, mainly for state inspection.
func (c *Controller) Channel() *realtime.Channel { return c.channel }

// Session returns a copy of the current session value.
func (c *Controller) Session() feast.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Login authenticates, resolves the user's identity and opens the realtime
// channel for their role. The profile endpoint failing is not fatal: identity
// falls back to the access token's claims, matching the original client's
// decode-the-JWT shortcut.
func (c *Controller) Login(ctx context.Context, username, password string) (feast.Session, error) {
	pair, err := c.api.Login(ctx, username, password)
	if err != nil {
		return feast.Session{}, fmt.Errorf("session: login: %w", err)
	}
	c.tokens.Set(pair)

	user, err := c.api.Me(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("profile fetch failed, using token claims")
		user, err = feast.UserFromToken(pair.Access)
		if err != nil {
			c.tokens.Clear()
			return feast.Session{}, fmt.Errorf("session: resolve identity: %w", err)
		}
	}
	role := feast.ParseRole(user.Role)

	c.mu.Lock()
	c.session = feast.Session{User: user, Tokens: &pair, Role: role}
	c.subscribeLocked(role)
	session := c.session
	c.mu.Unlock()

	c.logger.Info().Str("username", user.Username).Str("role", string(role)).Msg("logged in")

	if err := c.channel.Connect(ctx, role); err != nil {
		c.logger.Warn().Err(err).Msg("realtime channel unavailable, polling only")
	}
	return session, nil
}

// subscribeLocked installs the controller's own event handlers. Caller holds
// c.mu.
func (c *Controller) subscribeLocked(role feast.Role) {
	c.unsubs = append(c.unsubs, c.dispatcher.On(realtime.EventAuthError, func(realtime.Event) {
		c.logger.Warn().Msg("channel auth rejected, ending session")
		go c.ForceLogout()
	}))

	// New-order notifications are a vendor/admin concern; customers and riders
	// follow their own orders through the status stream instead.
	if role == feast.RoleVendor || role == feast.RoleAdmin {
		c.unsubs = append(c.unsubs, c.dispatcher.On(realtime.EventOrderCreated, func(realtime.Event) {
			c.notifier.Notify("New order", "A new order has been placed")
		}))
	}
}

// Logout ends the session. Teardown order matters: the channel closes first so
// its loss handler sees no credentials and stays down, then subscriptions go,
// then the stored pair.
func (c *Controller) Logout() {
	c.channel.Disconnect()

	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.session = feast.Session{}
	c.mu.Unlock()

	for _, off := range unsubs {
		off()
	}
	c.tokens.Clear()
	c.logger.Info().Msg("logged out")
}

// ForceLogout is the involuntary path: refresh dead-ended or the channel's
// credentials were rejected.
func (c *Controller) ForceLogout() {
	c.logger.Warn().Msg("session invalidated by server")
	c.Logout()
}

// UseRole rebinds the realtime channel to another role's endpoint. The channel
// never migrates in place; this is the explicit disconnect+connect the admin
// views use when impersonating a vendor dashboard.
func (c *Controller) UseRole(ctx context.Context, role feast.Role) error {
	c.mu.Lock()
	if !c.session.Authenticated() {
		c.mu.Unlock()
		return feast.ErrUnauthenticated
	}
	c.session.Role = role
	c.mu.Unlock()

	c.channel.Disconnect()
	return c.channel.Connect(ctx, role)
}

// StartOrderPolling runs the reconciliation loop over the session's order list
// and nudges it on every realtime order event, so a hint is followed by an
// authoritative snapshot within one debounced round trip. The returned stop
// function also removes the nudge subscriptions.
func (c *Controller) StartOrderPolling(ctx context.Context, interval time.Duration, onResult feast.ResultFunc) (stop func()) {
	if interval <= 0 {
		interval = c.cfg.PollInterval
	}

	poller := feast.StartPoller(ctx, interval, func(ctx context.Context) (any, error) {
		return c.api.ListOrders(ctx, nil)
	}, onResult, c.logger)

	nudge := func(realtime.Event) { poller.Nudge() }
	offs := []func(){
		c.dispatcher.On(realtime.EventOrderCreated, nudge),
		c.dispatcher.On(realtime.EventOrderUpdated, nudge),
		c.dispatcher.On(realtime.EventOrderStatusChanged, nudge),
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for _, off := range offs {
				off()
			}
			poller.Stop()
		})
	}
}
