package class

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes registry and allocator statistics to Prometheus.
type Collector struct {
	registry *Registry

	epoch            *prometheus.Desc
	classes          *prometheus.Desc
	capacity         *prometheus.Desc
	computations     *prometheus.Desc
	lockAcquisitions *prometheus.Desc
	failures         *prometheus.Desc
	finalizations    *prometheus.Desc
	bytesInUse       *prometheus.Desc
	reservations     *prometheus.Desc
	failedReserves   *prometheus.Desc
}

// NewCollector returns a collector reading r on every scrape.
func NewCollector(r *Registry) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("classrt", "", name), help, nil, nil)
	}
	return &Collector{
		registry:         r,
		epoch:            desc("epoch", "Current class initialization epoch."),
		classes:          desc("registered_classes", "Classes with call chains owned by the registry."),
		capacity:         desc("storage_capacity", "Slots in the registry storage."),
		computations:     desc("computations_total", "Call chain computations."),
		lockAcquisitions: desc("lock_acquisitions_total", "Initializations that took the registry lock."),
		failures:         desc("failures_total", "Initializations that failed."),
		finalizations:    desc("finalizations_total", "Calls to FinalizeAll."),
		bytesInUse:       desc("metadata_bytes_in_use", "Bytes reserved for class metadata."),
		reservations:     desc("metadata_reservations", "Live class metadata reservations."),
		failedReserves:   desc("metadata_failed_reservations_total", "Reservations refused by the memory limit."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.epoch
	ch <- c.classes
	ch <- c.capacity
	ch <- c.computations
	ch <- c.lockAcquisitions
	ch <- c.failures
	ch <- c.finalizations
	ch <- c.bytesInUse
	ch <- c.reservations
	ch <- c.failedReserves
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.registry.Stats()
	a := c.registry.Allocator().Stats()

	ch <- prometheus.MustNewConstMetric(c.epoch, prometheus.GaugeValue, float64(s.Epoch))
	ch <- prometheus.MustNewConstMetric(c.classes, prometheus.GaugeValue, float64(s.Classes))
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(s.Capacity))
	ch <- prometheus.MustNewConstMetric(c.computations, prometheus.CounterValue, float64(s.Computations))
	ch <- prometheus.MustNewConstMetric(c.lockAcquisitions, prometheus.CounterValue, float64(s.LockAcquisitions))
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(s.Failures))
	ch <- prometheus.MustNewConstMetric(c.finalizations, prometheus.CounterValue, float64(s.Finalizations))
	ch <- prometheus.MustNewConstMetric(c.bytesInUse, prometheus.GaugeValue, float64(a.BytesInUse))
	ch <- prometheus.MustNewConstMetric(c.reservations, prometheus.GaugeValue, float64(a.ActiveAllocations))
	ch <- prometheus.MustNewConstMetric(c.failedReserves, prometheus.CounterValue, float64(a.FailedCount))
}
