package reconnect

import "expvar"

var (
	metricReconnectPending       = expvar.NewInt("reconnect_pending")
	metricReconnectsTotal        = expvar.NewInt("reconnects_total")
	metricReconnectForfeitsTotal = expvar.NewInt("reconnect_forfeits_total")
	metricPausesTotal            = expvar.NewInt("pauses_total")
	metricAutoResumesTotal       = expvar.NewInt("auto_resumes_total")
)
