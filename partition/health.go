// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package partition

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erigontech/erigon-lib/log/v3"
	"github.com/erigontech/pqservice/pkg/common/mathutil"
	"github.com/erigontech/pqservice/pkg/kv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// HealthReport is the point-in-time snapshot a placement service polls
// to decide whether this replica is overloaded.
type HealthReport struct {
	Title             string
	PartitionID       uint64
	QueueLevel        mathutil.Level
	LeaseLevel        mathutil.Level
	ExpiredLevel      mathutil.Level
	QueueCount        uint64
	LeaseCount        uint64
	ExpiredCount      uint64
	CountPerSecond    float64
	AverageLatencyMs  float64
}

// LoadReport is the lighter-weight signal fed to an external placement
// service: requests per second and queue depth, nothing about
// capacity thresholds.
type LoadReport struct {
	Title         string
	PartitionID   uint64
	RequestsPerSec float64
	QueueLength    uint64
}

// healthCounters accumulates the running counters a HealthReport is
// built from. All fields are safe for concurrent use from Enqueue,
// Dequeue, Peek, Delete, ExtendLease and the periodic health task.
type healthCounters struct {
	ops           atomic.Uint64
	latencySumUs  atomic.Uint64
	latencyCount  atomic.Uint64
	sampler       *rate.Sometimes

	mu         sync.Mutex
	windowOps  uint64
	windowAt   time.Time

	opsGauge     prometheus.Gauge
	latencyGauge prometheus.Gauge
}

func newHealthCounters() *healthCounters {
	return &healthCounters{
		sampler:  &rate.Sometimes{Interval: time.Second},
		windowAt: time.Time{},
		opsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pqservice_partition_ops_per_second",
			Help: "Operations per second observed by this partition replica.",
		}),
		latencyGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pqservice_partition_operation_latency_ms",
			Help: "Average operation latency in milliseconds, trailing window.",
		}),
	}
}

// Collectors exposes the gauges backing this partition for registration
// against a prometheus.Registerer.
func (c *healthCounters) Collectors() []prometheus.Collector {
	return []prometheus.Collector{c.opsGauge, c.latencyGauge}
}

// RegisterMetrics registers this partition's gauges against reg. Safe
// to skip entirely; a caller with no Prometheus registry just never
// calls it.
func (p *Partition) RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range p.counters.Collectors() {
		if err := reg.Register(c); err != nil {
			return wrapErr(KindFatal, err, "register partition metrics")
		}
	}
	return nil
}

func (c *healthCounters) recordOps(n int) {
	if n <= 0 {
		return
	}
	c.ops.Add(uint64(n))
}

func (c *healthCounters) recordLatency(started time.Time) {
	us := uint64(time.Since(started).Microseconds())
	c.latencySumUs.Add(us)
	c.latencyCount.Add(1)
}

// countPerSecond derives a rate from the ops counter since the last
// call, resetting the window each time it is sampled. Health and Load
// both call it, from the health task and from HTTP health requests, so
// each call narrows the window the next one sees; c.mu serializes the
// callers.
func (c *healthCounters) countPerSecond(now time.Time) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.windowAt.IsZero() {
		c.windowAt = now
		return 0
	}
	elapsed := now.Sub(c.windowAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	total := c.ops.Load()
	delta := total - c.windowOps
	c.windowOps = total
	c.windowAt = now
	return float64(delta) / elapsed
}

func (c *healthCounters) averageLatencyMs() float64 {
	count := c.latencyCount.Load()
	if count == 0 {
		return 0
	}
	sumUs := c.latencySumUs.Load()
	return float64(sumUs) / float64(count) / 1000
}

// Health builds the current HealthReport for this partition, counting
// every collection in its own read transaction.
func (p *Partition) Health(ctx context.Context) (HealthReport, error) {
	queueCount, err := p.totalQueueCount(ctx)
	if err != nil {
		return HealthReport{}, err
	}
	leaseCount, err := p.mapCount(ctx, p.coll.lease)
	if err != nil {
		return HealthReport{}, err
	}
	expiredCount, err := p.mapCount(ctx, p.coll.expired)
	if err != nil {
		return HealthReport{}, err
	}

	now := time.Now()
	report := HealthReport{
		Title:            p.cfg.HealthReportTitle,
		PartitionID:      p.cfg.PartitionID,
		QueueCount:       queueCount,
		LeaseCount:       leaseCount,
		ExpiredCount:     expiredCount,
		QueueLevel:       mathutil.ThresholdLevel(queueCount, p.cfg.MaxQueueCapacityPerPartition, p.cfg.CapacityWarningPercent, p.cfg.CapacityErrorPercent),
		LeaseLevel:       mathutil.ThresholdLevel(leaseCount, p.cfg.MaxLeaseCapacityPerPartition, p.cfg.CapacityWarningPercent, p.cfg.CapacityErrorPercent),
		ExpiredLevel:     mathutil.ThresholdLevel(expiredCount, p.cfg.MaxExpiredCapacityPerPartition, p.cfg.CapacityWarningPercent, p.cfg.CapacityErrorPercent),
		CountPerSecond:   p.counters.countPerSecond(now),
		AverageLatencyMs: p.counters.averageLatencyMs(),
	}
	p.counters.sampler.Do(func() {
		p.counters.opsGauge.Set(report.CountPerSecond)
		p.counters.latencyGauge.Set(report.AverageLatencyMs)
	})
	return report, nil
}

// Load builds the lighter LoadReport an external placement service
// polls to rebalance partitions across replicas.
func (p *Partition) Load(ctx context.Context) (LoadReport, error) {
	queueCount, err := p.totalQueueCount(ctx)
	if err != nil {
		return LoadReport{}, err
	}
	return LoadReport{
		Title:          p.cfg.LoadReportTitle,
		PartitionID:    p.cfg.PartitionID,
		RequestsPerSec: p.counters.countPerSecond(time.Now()),
		QueueLength:    queueCount,
	}, nil
}

func (p *Partition) totalQueueCount(ctx context.Context) (uint64, error) {
	tx, cancel, err := p.beginTx(ctx, false)
	if err != nil {
		return 0, err
	}
	defer cancel()
	defer abort(tx)

	var total uint64
	for _, q := range p.coll.bands {
		n, err := q.Count(tx)
		if err != nil {
			return 0, classifyStoreErr(err, "count band")
		}
		total += n
	}
	return total, nil
}

func (p *Partition) mapCount(ctx context.Context, m kv.Map) (uint64, error) {
	tx, cancel, err := p.beginTx(ctx, false)
	if err != nil {
		return 0, err
	}
	defer cancel()
	defer abort(tx)
	n, err := m.Count(tx)
	if err != nil {
		return 0, classifyStoreErr(err, "count collection")
	}
	return n, nil
}

// runHealthLoop polls Health/Load on cfg.HealthCheckInterval and logs
// the report, until ctx is cancelled. RoleController starts and stops
// this for Primary and ActiveSecondary replicas.
func (p *Partition) runHealthLoop(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.cfg.HealthCheckStartDelay):
	}

	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			report, err := p.Health(ctx)
			if err != nil {
				log.Warn("[partition] health check failed", "partition", p.cfg.PartitionID, "err", err)
				continue
			}
			log.Info("[partition] health", "partition", p.cfg.PartitionID,
				"queue", report.QueueCount, "queueLevel", report.QueueLevel.String(),
				"lease", report.LeaseCount, "leaseLevel", report.LeaseLevel.String(),
				"expired", report.ExpiredCount, "expiredLevel", report.ExpiredLevel.String(),
				"opsPerSec", report.CountPerSecond, "avgLatencyMs", report.AverageLatencyMs)
		}
	}
}
