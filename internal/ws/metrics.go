package ws

import "expvar"

var (
	metricAuthFailuresTotal    = expvar.NewInt("ws_auth_failures_total")
	metricUpgradeFailuresTotal = expvar.NewInt("ws_upgrade_failures_total")
	metricInvalidPayloadTotal  = expvar.NewInt("ws_invalid_payload_total")
	metricMessagesTotal        = expvar.NewMap("ws_messages_total")
	metricHandlerErrorsTotal   = expvar.NewMap("ws_handler_errors_total")
)
