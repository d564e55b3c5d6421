package chat

import "expvar"

var (
	metricChatSentTotal      = expvar.NewInt("chat_sent_total")
	metricChatDeliveredTotal = expvar.NewInt("chat_delivered_total")
)
