package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/klog/v2"

	"github.com/radio-control/apd/internal/fault"
	"github.com/radio-control/apd/internal/radio"
)

// SnapshotProvider returns the current state of every interface.
type SnapshotProvider func(ctx context.Context) ([]radio.Snapshot, error)

var bssLabelNames = []string{"interface", "bssid", "ssid"}

// bssMetric is a per-BSS gauge derived from an interface snapshot.
type bssMetric struct {
	desc     *prometheus.Desc
	getValue func(s *radio.Snapshot, n int) float64
}

// SnapshotCollector implements prometheus.Collector over interface
// snapshots taken at scrape time.
type SnapshotCollector struct {
	provider SnapshotProvider
	timeout  time.Duration
	errors   prometheus.Gauge
	metrics  []bssMetric
}

// NewSnapshotCollector reads snapshots from provider, bounding each scrape
// by timeout.
func NewSnapshotCollector(provider SnapshotProvider, timeout time.Duration) *SnapshotCollector {
	return &SnapshotCollector{
		provider: provider,
		timeout:  timeout,
		errors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scrape_error",
			Help:      "1 if there was an error while reading interface snapshots, 0 otherwise.",
		}),
		metrics: []bssMetric{
			{
				desc: prometheus.NewDesc(namespace+"_stations_associated",
					"Stations associated with the BSS.", bssLabelNames, nil),
				getValue: func(s *radio.Snapshot, n int) float64 {
					return float64(s.BSS[n].Associated)
				},
			},
			{
				desc: prometheus.NewDesc(namespace+"_aid_in_use",
					"Association identifiers allocated in the BSS.", bssLabelNames, nil),
				getValue: func(s *radio.Snapshot, n int) float64 {
					used := 0
					for _, sta := range s.BSS[n].Stations {
						if sta.AID != 0 {
							used++
						}
					}
					return float64(used)
				},
			},
			{
				desc: prometheus.NewDesc(namespace+"_aid_capacity",
					"Association identifiers available to the BSS.", bssLabelNames, nil),
				getValue: func(s *radio.Snapshot, n int) float64 {
					return float64(s.BSS[n].AIDCapacity)
				},
			},
		},
	}
}

// Describe implements prometheus.Collector.
func (c *SnapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	c.errors.Describe(ch)
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

// Collect implements prometheus.Collector.
func (c *SnapshotCollector) Collect(ch chan<- prometheus.Metric) {
	c.errors.Set(0)
	c.collectSnapshots(ch)
	c.errors.Collect(ch)
}

func (c *SnapshotCollector) collectSnapshots(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	snaps, err := c.provider(ctx)
	if err != nil {
		c.errors.Set(1)
		klog.Warningf("metrics: couldn't read interface snapshots: %v", err)
		// Partial results are still exported.
	}

	for n := range snaps {
		s := &snaps[n]
		for b := range s.BSS {
			labels := []string{s.Name, s.BSS[b].BSSID.String(), s.BSS[b].SSID}
			for _, m := range c.metrics {
				ch <- prometheus.MustNewConstMetric(m.desc, prometheus.GaugeValue, m.getValue(s, b), labels...)
			}
		}
	}
}

// ManagerSnapshots adapts a radio.Manager to a SnapshotProvider.
func ManagerSnapshots(m *radio.Manager) SnapshotProvider {
	return func(ctx context.Context) ([]radio.Snapshot, error) {
		list, err := m.List(ctx)
		if list == nil {
			return nil, err
		}
		return list.Items, err
	}
}

func faultKind(err error) string {
	return fault.KindOf(err).String()
}
