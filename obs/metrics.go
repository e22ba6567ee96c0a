package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wsproxy_sessions_active", Help: "Currently open proxy sessions",
	})
	SessionsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wsproxy_sessions_finished_total", Help: "Sessions finished, by terminal reason",
	}, []string{"reason"})
	TargetFailoverTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wsproxy_target_failover_total", Help: "Handshake attempts that failed over to the next target",
	})
	GripActivatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wsproxy_grip_activated_total", Help: "Sessions that activated the GRIP control channel",
	})
	DetachTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wsproxy_detach_total", Help: "Sessions detached from their origin leg",
	})
	FramesForwardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wsproxy_frames_forwarded_total", Help: "Frames forwarded, by direction",
	}, []string{"direction"})
	FramesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wsproxy_frames_dropped_total", Help: "Frames dropped by GRIP routing or after detach, by reason",
	}, []string{"reason"})
	PendingFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wsproxy_pending_frames", Help: "Frames written but not yet acknowledged as flushed, by direction",
	}, []string{"direction"})
)
