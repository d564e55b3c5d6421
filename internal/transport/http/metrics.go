package httptransport

import "expvar"

var (
	metricSessionLookupsTotal    = expvar.NewInt("session_lookups_total")
	metricAdminUnauthorizedTotal = expvar.NewInt("admin_unauthorized_total")
)
