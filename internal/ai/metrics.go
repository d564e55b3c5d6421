package ai

import "expvar"

var (
	metricAISessionsActive = expvar.NewInt("ai_sessions_active")
	metricAIDecisionsTotal = expvar.NewInt("ai_decisions_total")
)
