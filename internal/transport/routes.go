package transport

import "strings"

// Route describes a payment network endpoint and whether its request
// and response bodies carry message-level encryption.
type Route struct {
	Path        string
	RequiresMLE bool
}

// DefaultRoutes is the route table for the payment network sandbox and
// production hosts. Path segments wrapped in braces match any single
// segment.
var DefaultRoutes = []Route{
	{Path: "/visadirect/fundstransfer/v1/pushfunds", RequiresMLE: true},
	{Path: "/visadirect/fundstransfer/v1/pullfunds", RequiresMLE: true},
	{Path: "/accountpayouts/v1/payout", RequiresMLE: true},
	{Path: "/walletpayouts/v1/payout", RequiresMLE: true},
	{Path: "/visapayouts/v3/payouts", RequiresMLE: false},
	{Path: "/visaaliasdirectory/v1/resolve", RequiresMLE: false},
	{Path: "/forexrates/v2/lock", RequiresMLE: false},
	{Path: "/transactions/v1/{transactionID}/status", RequiresMLE: false},
}

// RouteTable answers whether a request path needs envelope encryption.
type RouteTable struct {
	routes []Route
}

// NewRouteTable builds a table; nil routes means DefaultRoutes.
func NewRouteTable(routes []Route) *RouteTable {
	if routes == nil {
		routes = DefaultRoutes
	}
	return &RouteTable{routes: routes}
}

// RequiresMLE reports whether path matches a route flagged for
// message-level encryption. Unknown paths are sent in the clear.
func (t *RouteTable) RequiresMLE(path string) bool {
	for _, r := range t.routes {
		if matchPath(r.Path, path) {
			return r.RequiresMLE
		}
	}
	return false
}

// matchPath compares segment by segment; a {param} pattern segment
// matches any non-empty concrete segment.
func matchPath(pattern, path string) bool {
	ps := strings.Split(strings.Trim(pattern, "/"), "/")
	cs := strings.Split(strings.Trim(path, "/"), "/")
	if len(ps) != len(cs) {
		return false
	}
	for i, p := range ps {
		if strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}") {
			if cs[i] == "" {
				return false
			}
			continue
		}
		if p != cs[i] {
			return false
		}
	}
	return true
}
