package conn

import "expvar"

var (
	metricConnectionsActive        = expvar.NewInt("connections_active")
	metricConnectionsTotal         = expvar.NewInt("connections_total")
	metricConnectionsRejectedTotal = expvar.NewInt("connections_rejected_total")
	metricConnectionsEvictedTotal  = expvar.NewInt("connections_evicted_total")
	metricHeartbeatLostTotal       = expvar.NewInt("heartbeat_lost_total")
	metricMessagesDroppedTotal     = expvar.NewInt("messages_dropped_total")
)
