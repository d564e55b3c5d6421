package backend

import "expvar"

var (
	metricBackendQueueLen       = expvar.NewInt("backend_queue_len")
	metricBackendSentTotal      = expvar.NewInt("backend_sent_total")
	metricBackendFailedTotal    = expvar.NewInt("backend_failed_total")
	metricBackendRetryTotal     = expvar.NewInt("backend_retry_total")
	metricBackendDroppedTotal   = expvar.NewMap("backend_dropped_total")
	metricResultsJournaledTotal = expvar.NewInt("results_journaled_total")
)
