package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/radio-control/apd/internal/adapter"
	"github.com/radio-control/apd/internal/bss"
	"github.com/radio-control/apd/internal/frame"
	"github.com/radio-control/apd/internal/radio"
)

const namespace = "apd"

// Recorder counts interface events. Register it with a prometheus
// registry and add it to the interface event fan-out.
type Recorder struct {
	state      *prometheus.GaugeVec
	rejections *prometheus.CounterVec
	switches   *prometheus.CounterVec
	radar      *prometheus.CounterVec
	driver     *prometheus.CounterVec
	faults     *prometheus.CounterVec
}

var (
	_ radio.Events         = (*Recorder)(nil)
	_ prometheus.Collector = (*Recorder)(nil)
)

// NewRecorder creates the event counters.
func NewRecorder() *Recorder {
	return &Recorder{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "interface_state",
			Help:      "Lifecycle state of the interface (0 uninitialized, 1 disabled, 2 country update, 3 ACS, 4 HT scan, 5 DFS, 6 enabled).",
		}, []string{"interface"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_rejections_total",
			Help:      "Authentication and association requests refused, by status code.",
		}, []string{"interface", "status"}),
		switches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_switches_total",
			Help:      "Channel switches by result.",
		}, []string{"interface", "result"}),
		radar: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "radar_events_total",
			Help:      "Radar detections reported by the driver.",
		}, []string{"interface"}),
		driver: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "driver_failures_total",
			Help:      "Failed driver calls by operation.",
		}, []string{"interface", "op"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faults_total",
			Help:      "Interface faults by kind.",
		}, []string{"interface", "kind"}),
	}
}

func (r *Recorder) collectors() []prometheus.Collector {
	return []prometheus.Collector{r.state, r.rejections, r.switches, r.radar, r.driver, r.faults}
}

// Describe implements prometheus.Collector.
func (r *Recorder) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range r.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (r *Recorder) Collect(ch chan<- prometheus.Metric) {
	for _, c := range r.collectors() {
		c.Collect(ch)
	}
}

func (r *Recorder) InterfaceStateChanged(iface string, _, to radio.State) {
	r.state.WithLabelValues(iface).Set(float64(to))
}

func (r *Recorder) StationJoined(string, frame.Addr, bss.Info) {}

func (r *Recorder) StationLeft(string, frame.Addr, bss.Info, frame.ReasonCode) {}

func (r *Recorder) StationRejected(iface string, _, _ frame.Addr, status frame.StatusCode) {
	r.rejections.WithLabelValues(iface, status.String()).Inc()
}

func (r *Recorder) ChannelSwitchCompleted(iface string, _, _ adapter.ChannelParams) {
	r.switches.WithLabelValues(iface, "completed").Inc()
}

func (r *Recorder) ChannelSwitchFailed(iface string, _ adapter.ChannelParams, _ error) {
	r.switches.WithLabelValues(iface, "failed").Inc()
}

func (r *Recorder) RadarDetected(iface string, _ int, _ bool) {
	r.radar.WithLabelValues(iface).Inc()
}

func (r *Recorder) DriverFailed(iface, op string, _ error) {
	r.driver.WithLabelValues(iface, op).Inc()
}

func (r *Recorder) Fault(iface string, err error) {
	r.faults.WithLabelValues(iface, faultKind(err)).Inc()
}
