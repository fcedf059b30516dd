package feast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// doJSON performs a request and decodes the response into out (skipped when
// out is nil or the body is empty, e.g. 204 from a delete).
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	respBody, err := c.Request(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("feast: decode %s %s response: %w", method, path, err)
	}
	return nil
}

func withQuery(path string, params url.Values) string {
	if len(params) == 0 {
		return path
	}
	return path + "?" + params.Encode()
}

// Login exchanges credentials for a token pair. Storing the pair is the
// session controller's job, not the client's.
func (c *Client) Login(ctx context.Context, username, password string) (TokenPair, error) {
	var pair TokenPair
	body := map[string]string{"username": username, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/auth/token/", body, &pair); err != nil {
		return TokenPair{}, err
	}
	if !pair.complete() {
		return TokenPair{}, fmt.Errorf("feast: login response missing tokens")
	}
	return pair, nil
}

// Me fetches the authenticated user's profile.
func (c *Client) Me(ctx context.Context) (*UserRecord, error) {
	var user UserRecord
	if err := c.doJSON(ctx, http.MethodGet, "/auth/me/", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Orders

func (c *Client) ListOrders(ctx context.Context, params url.Values) ([]Order, error) {
	var orders []Order
	err := c.doJSON(ctx, http.MethodGet, withQuery("/orders/", params), nil, &orders)
	return orders, err
}

func (c *Client) GetOrder(ctx context.Context, id int64) (*Order, error) {
	var order Order
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/orders/%d/", id), nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) CreateOrder(ctx context.Context, order NewOrder) (*Order, error) {
	var created Order
	if err := c.doJSON(ctx, http.MethodPost, "/orders/", order, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) SetOrderStatus(ctx context.Context, id int64, status string) (*Order, error) {
	var updated Order
	body := map[string]string{"status": status}
	path := fmt.Sprintf("/orders/%d/set-status/", id)
	if err := c.doJSON(ctx, http.MethodPost, path, body, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Products

func (c *Client) ListProducts(ctx context.Context, params url.Values) ([]Product, error) {
	var products []Product
	err := c.doJSON(ctx, http.MethodGet, withQuery("/products/", params), nil, &products)
	return products, err
}

func (c *Client) CreateProduct(ctx context.Context, product Product) (*Product, error) {
	var created Product
	if err := c.doJSON(ctx, http.MethodPost, "/products/", product, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateProduct(ctx context.Context, id int64, fields map[string]any) (*Product, error) {
	var updated Product
	path := fmt.Sprintf("/products/%d/", id)
	if err := c.doJSON(ctx, http.MethodPatch, path, fields, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *Client) DeleteProduct(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/products/%d/", id), nil, nil)
}

// Vendors

func (c *Client) ListVendors(ctx context.Context, params url.Values) ([]Vendor, error) {
	var vendors []Vendor
	err := c.doJSON(ctx, http.MethodGet, withQuery("/vendors/", params), nil, &vendors)
	return vendors, err
}

func (c *Client) GetVendor(ctx context.Context, id int64) (*Vendor, error) {
	var vendor Vendor
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/vendors/%d/", id), nil, &vendor); err != nil {
		return nil, err
	}
	return &vendor, nil
}

func (c *Client) CreateVendor(ctx context.Context, vendor Vendor) (*Vendor, error) {
	var created Vendor
	if err := c.doJSON(ctx, http.MethodPost, "/vendors/", vendor, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateVendor(ctx context.Context, id int64, fields map[string]any) (*Vendor, error) {
	var updated Vendor
	path := fmt.Sprintf("/vendors/%d/", id)
	if err := c.doJSON(ctx, http.MethodPatch, path, fields, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Riders

func (c *Client) ListRiders(ctx context.Context, params url.Values) ([]Rider, error) {
	var riders []Rider
	err := c.doJSON(ctx, http.MethodGet, withQuery("/riders/", params), nil, &riders)
	return riders, err
}

func (c *Client) CreateRider(ctx context.Context, rider Rider) (*Rider, error) {
	var created Rider
	if err := c.doJSON(ctx, http.MethodPost, "/riders/", rider, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateRider(ctx context.Context, id int64, fields map[string]any) (*Rider, error) {
	var updated Rider
	path := fmt.Sprintf("/riders/%d/", id)
	if err := c.doJSON(ctx, http.MethodPatch, path, fields, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Payments

func (c *Client) ListPayments(ctx context.Context, params url.Values) ([]Payment, error) {
	var payments []Payment
	err := c.doJSON(ctx, http.MethodGet, withQuery("/payments/", params), nil, &payments)
	return payments, err
}

// Users (admin)

func (c *Client) ListUsers(ctx context.Context) ([]UserRecord, error) {
	var users []UserRecord
	err := c.doJSON(ctx, http.MethodGet, "/users/", nil, &users)
	return users, err
}

func (c *Client) CreateUser(ctx context.Context, user UserRecord) (*UserRecord, error) {
	var created UserRecord
	if err := c.doJSON(ctx, http.MethodPost, "/users/", user, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateUser(ctx context.Context, id int64, fields map[string]any) (*UserRecord, error) {
	var updated UserRecord
	path := fmt.Sprintf("/users/%d/", id)
	if err := c.doJSON(ctx, http.MethodPatch, path, fields, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *Client) DeleteUser(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/users/%d/", id), nil, nil)
}

// Vendor-scoped views

func (c *Client) VendorOrders(ctx context.Context, params url.Values) ([]Order, error) {
	var orders []Order
	err := c.doJSON(ctx, http.MethodGet, withQuery("/vendor/orders/", params), nil, &orders)
	return orders, err
}

func (c *Client) VendorProducts(ctx context.Context, params url.Values) ([]Product, error) {
	var products []Product
	err := c.doJSON(ctx, http.MethodGet, withQuery("/vendor/products/", params), nil, &products)
	return products, err
}

func (c *Client) VendorAnalytics(ctx context.Context) (*VendorAnalytics, error) {
	var analytics VendorAnalytics
	if err := c.doJSON(ctx, http.MethodGet, "/vendor/analytics/", nil, &analytics); err != nil {
		return nil, err
	}
	return &analytics, nil
}

// Rider-scoped views

func (c *Client) RiderDeliveries(ctx context.Context, params url.Values) ([]Order, error) {
	var deliveries []Order
	err := c.doJSON(ctx, http.MethodGet, withQuery("/rider/deliveries/", params), nil, &deliveries)
	return deliveries, err
}
