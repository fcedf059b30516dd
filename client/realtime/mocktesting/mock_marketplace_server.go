// Package mocktesting provides an httptest-backed marketplace server for
// exercising the client end to end: the role-scoped channel endpoints plus the
// minimal REST surface (auth, profile, orders) the session controller needs.
package mocktesting

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MockMarketplaceServer mimics the marketplace backend: JSON text frames over
// role-scoped websocket routes, bearer-token REST under /api.
type MockMarketplaceServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu             sync.Mutex
	conns          map[*websocket.Conn]bool
	upgrades       map[string]int
	closedAt       map[*websocket.Conn]time.Time
	lastClosedAt   time.Time
	rejectAuth     bool
	closeOnConnect bool
	quiet          bool

	accessToken  string
	refreshToken string
	user         map[string]any
	orders       []map[string]any
	meFails      bool
	refreshFails bool
	refreshCalls int
	loginCalls   int
}

// NewMockMarketplaceServer starts the server with a default user and a valid
// signed-looking (but unverifiable) token pair.
func NewMockMarketplaceServer() *MockMarketplaceServer {
	m := &MockMarketplaceServer{
		conns:        make(map[*websocket.Conn]bool),
		upgrades:     make(map[string]int),
		closedAt:     make(map[*websocket.Conn]time.Time),
		accessToken:  TestJWT(map[string]any{"user_id": 1, "username": "vendor1", "role": "vendor", "exp": time.Now().Add(time.Hour).Unix()}),
		refreshToken: "refresh-token-1",
		user:         map[string]any{"id": 1, "username": "vendor1", "email": "vendor1@example.com", "role": "vendor"},
		upgrader:     websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/orders/", m.handleChannel)
	mux.HandleFunc("/ws/vendor/", m.handleChannel)
	mux.HandleFunc("/ws/admin/dashboard/", m.handleChannel)
	mux.HandleFunc("/api/auth/token/", m.handleLogin)
	mux.HandleFunc("/api/auth/refresh/", m.handleRefresh)
	mux.HandleFunc("/api/auth/me/", m.handleMe)
	mux.HandleFunc("/api/orders/", m.handleOrders)

	m.server = httptest.NewServer(mux)
	return m
}

// TestJWT builds an unsigned-signature JWT carrying the given claims; the
// client never verifies signatures, only decodes claims.
func TestJWT(claims map[string]any) string {
	header, _ := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	payload, _ := json.Marshal(claims)
	enc := base64.RawURLEncoding
	return enc.EncodeToString(header) + "." + enc.EncodeToString(payload) + ".testsig"
}

// BaseURL returns the http:// root; the client derives both its REST and
// websocket URLs from it.
func (m *MockMarketplaceServer) BaseURL() string { return m.server.URL }

// Close shuts down the server and every live channel connection.
func (m *MockMarketplaceServer) Close() {
	m.CloseAll()
	m.server.Close()
}

// Knobs

// SetRejectAuth makes the channel answer every auth frame with auth_error.
func (m *MockMarketplaceServer) SetRejectAuth(v bool) {
	m.mu.Lock()
	m.rejectAuth = v
	m.mu.Unlock()
}

// SetCloseOnConnect drops each channel connection right after the upgrade,
// before any auth exchange, to exercise the reconnect ceiling.
func (m *MockMarketplaceServer) SetCloseOnConnect(v bool) {
	m.mu.Lock()
	m.closeOnConnect = v
	m.mu.Unlock()
}

// SetQuiet suppresses the auth_ok frame, mimicking the production consumers
// that accept the channel and then say nothing until a domain event occurs.
func (m *MockMarketplaceServer) SetQuiet(v bool) {
	m.mu.Lock()
	m.quiet = v
	m.mu.Unlock()
}

// SetRefreshFails makes /api/auth/refresh/ reject with 401.
func (m *MockMarketplaceServer) SetRefreshFails(v bool) {
	m.mu.Lock()
	m.refreshFails = v
	m.mu.Unlock()
}

// SetMeFails makes /api/auth/me/ answer 500, forcing the claims fallback.
func (m *MockMarketplaceServer) SetMeFails(v bool) {
	m.mu.Lock()
	m.meFails = v
	m.mu.Unlock()
}

// SetUser replaces the profile served by /api/auth/me/.
func (m *MockMarketplaceServer) SetUser(user map[string]any) {
	m.mu.Lock()
	m.user = user
	m.mu.Unlock()
}

// SetOrders replaces the /api/orders/ snapshot.
func (m *MockMarketplaceServer) SetOrders(orders []map[string]any) {
	m.mu.Lock()
	m.orders = orders
	m.mu.Unlock()
}

// AccessToken returns the currently valid access token.
func (m *MockMarketplaceServer) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accessToken
}

// Counters

func (m *MockMarketplaceServer) UpgradeCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upgrades[path]
}

func (m *MockMarketplaceServer) TotalUpgrades() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.upgrades {
		total += n
	}
	return total
}

func (m *MockMarketplaceServer) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

func (m *MockMarketplaceServer) RefreshCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshCalls
}

func (m *MockMarketplaceServer) LoginCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loginCalls
}

// LastCloseTime reports when the most recent channel connection went away,
// for teardown-ordering assertions.
func (m *MockMarketplaceServer) LastCloseTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastClosedAt
}

// CloseAll severs every live channel connection, simulating server-side loss.
func (m *MockMarketplaceServer) CloseAll() {
	m.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(m.conns))
	for conn := range m.conns {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}

// Broadcast helpers; frames go to every open channel connection.

func (m *MockMarketplaceServer) SendOrderCreated(order map[string]any) error {
	return m.broadcast(map[string]any{"type": "order_created", "order": order})
}

func (m *MockMarketplaceServer) SendOrderUpdated(order map[string]any) error {
	return m.broadcast(map[string]any{"type": "order_updated", "order": order})
}

func (m *MockMarketplaceServer) SendOrderStatusChanged(orderID int64, status string) error {
	return m.broadcast(map[string]any{"type": "order_status_changed", "order_id": orderID, "status": status})
}

func (m *MockMarketplaceServer) SendAnalyticsUpdate(data map[string]any) error {
	return m.broadcast(map[string]any{"type": "analytics_update", "data": data})
}

// SendRaw pushes an arbitrary frame, for unknown-type and malformed cases.
func (m *MockMarketplaceServer) SendRaw(frame string) error {
	return m.broadcastBytes([]byte(frame))
}

func (m *MockMarketplaceServer) broadcast(frame map[string]any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return m.broadcastBytes(data)
}

func (m *MockMarketplaceServer) broadcastBytes(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.conns) == 0 {
		return fmt.Errorf("mocktesting: no channel connections")
	}
	for conn := range m.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return err
		}
	}
	return nil
}

// Handlers

func (m *MockMarketplaceServer) handleChannel(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	m.mu.Lock()
	m.upgrades[r.URL.Path]++
	closeNow := m.closeOnConnect
	reject := m.rejectAuth
	quiet := m.quiet
	valid := m.accessToken
	m.mu.Unlock()

	if closeNow {
		conn.Close()
		m.recordClose(conn)
		return
	}

	// First client frame must be {type: "auth", token}.
	var auth struct {
		Type  string `json:"type"`
		Token string `json:"token"`
	}
	if err := conn.ReadJSON(&auth); err != nil || auth.Type != "auth" {
		conn.Close()
		m.recordClose(conn)
		return
	}
	if reject || auth.Token != valid {
		conn.WriteJSON(map[string]string{"type": "auth_error", "detail": "invalid token"})
		conn.Close()
		m.recordClose(conn)
		return
	}

	if !quiet {
		conn.WriteJSON(map[string]string{"type": "auth_ok"})
	}

	m.mu.Lock()
	m.conns[conn] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.conns, conn)
		m.mu.Unlock()
		m.recordClose(conn)
	}()

	// Drain inbound frames until the client goes away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (m *MockMarketplaceServer) recordClose(conn *websocket.Conn) {
	m.mu.Lock()
	m.closedAt[conn] = time.Now()
	m.lastClosedAt = time.Now()
	m.mu.Unlock()
}

func (m *MockMarketplaceServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	m.mu.Lock()
	m.loginCalls++
	resp := map[string]string{"access": m.accessToken, "refresh": m.refreshToken}
	m.mu.Unlock()
	json.NewEncoder(w).Encode(resp)
}

func (m *MockMarketplaceServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	m.mu.Lock()
	m.refreshCalls++
	fails := m.refreshFails
	access := m.accessToken
	m.mu.Unlock()

	if fails {
		http.Error(w, `{"detail":"token invalid or expired"}`, http.StatusUnauthorized)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"access": access})
}

func (m *MockMarketplaceServer) handleMe(w http.ResponseWriter, r *http.Request) {
	if !m.authorized(r) {
		http.Error(w, `{"detail":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	m.mu.Lock()
	fails := m.meFails
	user := m.user
	m.mu.Unlock()
	if fails {
		http.Error(w, `{"detail":"internal error"}`, http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(user)
}

func (m *MockMarketplaceServer) handleOrders(w http.ResponseWriter, r *http.Request) {
	if !m.authorized(r) {
		http.Error(w, `{"detail":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	m.mu.Lock()
	orders := m.orders
	m.mu.Unlock()
	if orders == nil {
		orders = []map[string]any{}
	}
	json.NewEncoder(w).Encode(orders)
}

func (m *MockMarketplaceServer) authorized(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	m.mu.Lock()
	defer m.mu.Unlock()
	return strings.TrimPrefix(header, "Bearer ") == m.accessToken && header != ""
}
