package game

import "expvar"

var (
	metricSessionsCreatedTotal   = expvar.NewInt("sessions_created_total")
	metricSessionsActive         = expvar.NewInt("sessions_active")
	metricSessionsFinishedTotal  = expvar.NewInt("sessions_finished_total")
	metricSessionsCancelledTotal = expvar.NewInt("sessions_cancelled_total")
	metricSessionErrorsTotal     = expvar.NewInt("session_errors_total")
	metricInputsAcceptedTotal    = expvar.NewInt("inputs_accepted_total")
	metricInputsDropped          = expvar.NewMap("inputs_dropped_total")
	metricPaddleHitsTotal        = expvar.NewInt("paddle_hits_total")
	metricGoalsTotal             = expvar.NewMap("goals_total")
)
