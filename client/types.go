// Package feast is the client-side synchronization layer for the marketplace
// API: token persistence with transparent refresh, a typed REST surface, and
// the reconciliation poller that keeps local state authoritative while the
// realtime channel delivers low-latency hints.
package feast

import "encoding/json"

// Role selects the UI surface and the realtime endpoint a session binds to.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleVendor   Role = "vendor"
	RoleRider    Role = "rider"
	RoleAdmin    Role = "admin"
)

// ParseRole maps a wire role value onto a known Role, defaulting to customer
// the way the original front end does for unrecognized values.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleVendor, RoleRider, RoleAdmin:
		return Role(s)
	default:
		return RoleCustomer
	}
}

// TokenPair is the {access, refresh} credential pair issued by /auth/token/.
// Both fields present or the pair is absent; partial pairs are never stored.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

func (p TokenPair) complete() bool { return p.Access != "" && p.Refresh != "" }

// UserRecord mirrors the profile payload of /auth/me/ and the claim set
// embedded in the access token.
type UserRecord struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	Role        string `json:"role"`
	PhoneNumber string `json:"phone_number,omitempty"`
	IsVerified  bool   `json:"is_verified,omitempty"`
}

// Session is the single authenticated-state value the rest of the client
// branches on. Tokens != nil is necessary but not sufficient: role-scoped
// behavior additionally requires a populated User. Only the session controller
// mutates it; everyone else gets copies.
type Session struct {
	User   *UserRecord
	Tokens *TokenPair
	Role   Role
}

// Authenticated reports whether the session carries both credentials and an
// identity.
func (s Session) Authenticated() bool {
	return s.Tokens != nil && s.User != nil
}

// OrderItem is one line of an order.
type OrderItem struct {
	Product  int64 `json:"product"`
	Quantity int   `json:"quantity"`
}

// Order is the order resource as served by /orders/.
type Order struct {
	ID          int64       `json:"id"`
	Status      string      `json:"status"`
	Vendor      int64       `json:"vendor"`
	Customer    int64       `json:"customer,omitempty"`
	Rider       int64       `json:"rider,omitempty"`
	Items       []OrderItem `json:"items,omitempty"`
	DeliveryFee float64     `json:"delivery_fee,omitempty"`
	Total       float64     `json:"total,omitempty"`
	CreatedAt   string      `json:"created_at,omitempty"`
}

// NewOrder is the creation payload for POST /orders/.
type NewOrder struct {
	Vendor      int64       `json:"vendor"`
	Items       []OrderItem `json:"items"`
	DeliveryFee float64     `json:"delivery_fee,omitempty"`
}

// Product is the product resource of /products/ and /vendor/products/.
type Product struct {
	ID        int64   `json:"id"`
	Vendor    int64   `json:"vendor,omitempty"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Available bool    `json:"available,omitempty"`
	ImageURL  string  `json:"image_url,omitempty"`
}

// Vendor is the vendor resource of /vendors/.
type Vendor struct {
	ID              int64   `json:"id"`
	Name            string  `json:"name"`
	Approved        bool    `json:"approved"`
	CommissionRate  float64 `json:"commission_rate"`
	Rating          float64 `json:"rating"`
	RatingCount     int     `json:"rating_count"`
	DiscountPercent float64 `json:"discount_percent"`
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
	Owner           int64   `json:"owner"`
}

// Rider is the rider resource of /riders/.
type Rider struct {
	ID            int64      `json:"id"`
	Verified      bool       `json:"verified"`
	WalletBalance float64    `json:"wallet_balance"`
	User          UserRecord `json:"user"`
}

// Payment is the payment resource of /payments/.
type Payment struct {
	ID          int64   `json:"id"`
	Amount      float64 `json:"amount"`
	Status      string  `json:"status"`
	Provider    string  `json:"provider"`
	ProviderRef string  `json:"provider_ref"`
	Order       int64   `json:"order"`
}

// VendorAnalytics is the dashboard snapshot of /vendor/analytics/. The server
// evolves this payload freely, so unknown sections ride along raw.
type VendorAnalytics struct {
	TotalOrders   int             `json:"total_orders"`
	TotalRevenue  float64         `json:"total_revenue"`
	PendingOrders int             `json:"pending_orders"`
	Extra         json.RawMessage `json:"extra,omitempty"`
}
