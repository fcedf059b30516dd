// Package realtime maintains the per-role WebSocket channel and fans decoded
// server frames out to subscribers. The channel is a low-latency hint layer:
// the reconciliation poller, not the socket, is the source of truth.
package realtime

import (
	"encoding/json"
	"fmt"
)

// Server frame vocabulary. Frames are JSON text messages tagged with a "type"
// field; everything else is frame-type-specific and passed through unchanged.
const (
	EventOrderCreated       = "order_created"
	EventOrderUpdated       = "order_updated"
	EventOrderStatusChanged = "order_status_changed"
	EventAnalyticsUpdate    = "analytics_update"
	EventAuthError          = "auth_error"

	// Local lifecycle events emitted by the channel itself, never by the
	// server.
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
)

// Event is a decoded frame. The closed set of implementations below replaces
// the raw-JSON callbacks of the original client.
type Event interface {
	EventName() string
}

// OrderCreated carries the new order object untouched.
type OrderCreated struct {
	Order json.RawMessage `json:"order"`
}

func (OrderCreated) EventName() string { return EventOrderCreated }

// OrderUpdated carries the changed order object untouched.
type OrderUpdated struct {
	Order json.RawMessage `json:"order"`
}

func (OrderUpdated) EventName() string { return EventOrderUpdated }

// OrderStatusChanged is the compact status transition push.
type OrderStatusChanged struct {
	OrderID int64  `json:"order_id"`
	Status  string `json:"status"`
}

func (OrderStatusChanged) EventName() string { return EventOrderStatusChanged }

// AnalyticsUpdate carries the dashboard payload untouched.
type AnalyticsUpdate struct {
	Data json.RawMessage `json:"data"`
}

func (AnalyticsUpdate) EventName() string { return EventAnalyticsUpdate }

// AuthError is the server rejecting the channel's auth frame.
type AuthError struct {
	Detail string `json:"detail"`
}

func (AuthError) EventName() string { return EventAuthError }

// Connected signals the channel reached Open.
type Connected struct{}

func (Connected) EventName() string { return EventConnected }

// Disconnected signals the channel left Open; Reason is informational only.
type Disconnected struct {
	Reason string
}

func (Disconnected) EventName() string { return EventDisconnected }

// decodeFrame maps a wire frame onto the closed event set. Unknown or
// malformed frames return an error; the caller drops them with a diagnostic
// rather than letting them tear down the channel.
func decodeFrame(data []byte) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("realtime: malformed frame: %w", err)
	}

	switch head.Type {
	case EventOrderCreated:
		var ev OrderCreated
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("realtime: decode %s: %w", head.Type, err)
		}
		return ev, nil
	case EventOrderUpdated:
		var ev OrderUpdated
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("realtime: decode %s: %w", head.Type, err)
		}
		return ev, nil
	case EventOrderStatusChanged:
		var ev OrderStatusChanged
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("realtime: decode %s: %w", head.Type, err)
		}
		return ev, nil
	case EventAnalyticsUpdate:
		var ev AnalyticsUpdate
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("realtime: decode %s: %w", head.Type, err)
		}
		return ev, nil
	case EventAuthError:
		var ev AuthError
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("realtime: decode %s: %w", head.Type, err)
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("realtime: unknown frame type %q", head.Type)
	}
}
