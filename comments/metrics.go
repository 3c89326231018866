package comments

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	channelReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commentsync_channel_reconnects_total",
		Help: "Push channel reconnect attempts scheduled after an unexpected close.",
	})

	channelDroppedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commentsync_channel_dropped_messages_total",
		Help: "Inbound push messages dropped because they could not be parsed.",
	})

	mutationRollbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commentsync_mutation_rollbacks_total",
		Help: "Optimistic mutations rolled back after the remote call failed.",
	}, []string{"kind"})

	guardRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commentsync_guard_rejections_total",
		Help: "Submissions blocked locally before any network call.",
	}, []string{"reason"})

	pollFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commentsync_poll_failures_total",
		Help: "Full-state polls that failed.",
	})
)
