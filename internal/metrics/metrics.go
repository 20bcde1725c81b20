package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ContentCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ephemeral_content_created_total",
		Help: "Content items created, by kind.",
	}, []string{"kind"})

	ViewsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ephemeral_views_recorded_total",
		Help: "View record writes, by kind.",
	}, []string{"kind"})

	ViewsDebounced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ephemeral_views_debounced_total",
		Help: "View calls collapsed by the debounce window.",
	})

	ReplayRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ephemeral_replay_rejections_total",
		Help: "Snap views refused because the replay budget was exhausted.",
	})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ephemeral_notifications_sent_total",
		Help: "Owner notifications emitted, by event type.",
	}, []string{"event"})

	NotificationsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ephemeral_notifications_dropped_total",
		Help: "Owner notifications that could not be delivered, by event type.",
	}, []string{"event"})

	ContentPurged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ephemeral_content_purged_total",
		Help: "Content removed by the expiry sweeper, by kind.",
	}, []string{"kind"})
)

// Handler returns an http.Handler for Prometheus scraping
func Handler() http.Handler {
	return promhttp.Handler()
}
