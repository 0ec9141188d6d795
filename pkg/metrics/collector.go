package metrics

import (
	"time"

	"github.com/cuemby/ldengine/pkg/storage"
	"github.com/cuemby/ldengine/pkg/types"
)

// Collector periodically samples gauge-style metrics (record counts by
// status, reservation counts by status) from the store. Counters and
// histograms are updated inline by the components that own those
// operations; this collector only fills in the "current state" gauges that
// no single operation is well-placed to maintain incrementally.
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a metrics collector backed by store.
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins periodic collection.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectRecordMetrics()
	c.collectReservationMetrics()
}

func (c *Collector) collectRecordMetrics() {
	statuses := []types.RecordStatus{
		types.RecordAvailable, types.RecordReserved, types.RecordAssigned,
		types.RecordInvalid, types.RecordArchived,
	}
	for _, collection := range types.Collections() {
		records, err := c.store.ListRecords(collection)
		if err != nil {
			continue
		}
		counts := make(map[types.RecordStatus]int, len(statuses))
		for _, r := range records {
			counts[r.Status]++
		}
		for _, status := range statuses {
			RecordsTotal.WithLabelValues(string(collection), string(status)).Set(float64(counts[status]))
		}
	}
}

func (c *Collector) collectReservationMetrics() {
	reservations, err := c.store.ListReservations()
	if err != nil {
		return
	}
	counts := make(map[types.ReservationStatus]int)
	for _, r := range reservations {
		counts[r.Status]++
	}
	for status, count := range counts {
		ReservationsTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}
