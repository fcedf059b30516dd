package realtime

import feast "github.com/openfeast/feast-client/client"

// endpointPath maps a role onto its channel route. Customers and riders share
// the order stream; vendors and admins get their dashboard streams. A role
// change while connected requires disconnect+connect, the channel never
// migrates in place.
func endpointPath(role feast.Role) (string, bool) {
	switch role {
	case feast.RoleCustomer, feast.RoleRider:
		return "/ws/orders/", true
	case feast.RoleVendor:
		return "/ws/vendor/", true
	case feast.RoleAdmin:
		return "/ws/admin/dashboard/", true
	default:
		return "", false
	}
}
