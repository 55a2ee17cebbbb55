package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	DeviceScansRecorded prometheus.Counter
	CooldownsApplied    prometheus.Counter
	CooldownRejections  prometheus.Counter
	VelocityFlags       prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		DeviceScansRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "skern_abuse_device_scans_recorded_total",
			Help: "Total number of scan attempts counted against device windows",
		}),
		CooldownsApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "skern_abuse_cooldowns_applied_total",
			Help: "Total number of device cooldowns applied",
		}),
		CooldownRejections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "skern_abuse_cooldown_rejections_total",
			Help: "Total number of scans rejected by an active device cooldown",
		}),
		VelocityFlags: promauto.NewCounter(prometheus.CounterOpts{
			Name: "skern_abuse_velocity_flags_total",
			Help: "Total number of certificate velocity ceiling breaches flagged",
		}),
	}
}

func (m *Metrics) IncrementDeviceScans()        { m.DeviceScansRecorded.Inc() }
func (m *Metrics) IncrementCooldownsApplied()   { m.CooldownsApplied.Inc() }
func (m *Metrics) IncrementCooldownRejections() { m.CooldownRejections.Inc() }
func (m *Metrics) IncrementVelocityFlags()      { m.VelocityFlags.Inc() }
