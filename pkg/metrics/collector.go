package metrics

import (
	"strconv"
	"time"

	"github.com/Firefox2100/dedi-gateway/pkg/storage"
	"github.com/Firefox2100/dedi-gateway/pkg/types"
)

// LinkCounter reports how many live transport loops are open. The
// connection manager satisfies this interface.
type LinkCounter interface {
	ActiveLinks() int
}

// Collector periodically samples gauge metrics from the database and
// the connection layer.
type Collector struct {
	db     storage.Database
	links  LinkCounter
	stopCh chan struct{}
}

// NewCollector creates a metrics collector. links may be nil when no
// connection manager is running.
func NewCollector(db storage.Database, links LinkCounter) *Collector {
	return &Collector{
		db:     db,
		links:  links,
		stopCh: make(chan struct{}),
	}
}

// sampleInterval paces the gauge sampling loop. Counters do not go
// through the collector, so a coarse interval costs nothing.
const sampleInterval = 15 * time.Second

// Start launches the sampling loop. The first sample is taken right
// away so the gauges are populated before the first scrape.
func (c *Collector) Start() {
	ticker := time.NewTicker(sampleInterval)
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

// Stop ends the sampling loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectNetworkMetrics()
	c.collectNodeMetrics()
	c.collectAdmissionMetrics()

	if c.links != nil {
		PeerLinks.Set(float64(c.links.ActiveLinks()))
	}
}

func (c *Collector) collectNetworkMetrics() {
	registered := true
	networks, err := c.db.Networks().Filter(storage.NetworkFilter{Registered: &registered})
	if err != nil {
		return
	}

	NetworksTotal.Set(float64(len(networks)))
}

func (c *Collector) collectNodeMetrics() {
	nodes, err := c.db.Nodes().Filter(nil)
	if err != nil {
		return
	}

	counts := make(map[bool]int)
	for _, node := range nodes {
		counts[node.Approved]++
	}

	for approved, count := range counts {
		NodesTotal.WithLabelValues(strconv.FormatBool(approved)).Set(float64(count))
	}
}

func (c *Collector) collectAdmissionMetrics() {
	pending := []types.MessageStatus{types.MessageStatusPending}

	for direction, sent := range map[string]bool{"sent": true, "received": false} {
		s := sent
		records, err := c.db.Messages().GetRequests(&s, pending)
		if err != nil {
			continue
		}
		AdmissionPending.WithLabelValues(direction).Set(float64(len(records)))
	}
}
