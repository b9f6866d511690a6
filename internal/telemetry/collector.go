/*
Package telemetry accumulates in-memory pipeline counters and periodically
persists them to SQLite: a sync.Map-of-atomics accumulator in front of a
periodic sqlitex flush loop, tracking captured responses and findings
counts per host, stage, and finding category.
*/
package telemetry

import (
	"sync"
	"sync/atomic"
)

// Collector accumulates pipeline counters in memory. All counters are
// monotonically increasing for the lifetime of the process; DB.Flush
// persists deltas.
type Collector struct {
	capturesTotal atomic.Int64
	findingsTotal atomic.Int64
	jsParseFailed atomic.Int64

	hostCaptures sync.Map // string -> *atomic.Int64
	stageEvents  sync.Map // string -> *atomic.Int64 (pipeline.StageID.String())
	findingKinds sync.Map // string -> *atomic.Int64 (finding label, e.g. "JWT", "VARS")
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// RecordCapture records one captured response arriving at the pipeline
// entry point, attributed to host.
func (c *Collector) RecordCapture(host string) {
	c.capturesTotal.Add(1)
	v, _ := c.hostCaptures.LoadOrStore(host, &atomic.Int64{})
	v.(*atomic.Int64).Add(1) //nolint:errcheck // type guaranteed by LoadOrStore
}

// RecordStageEvent records that a pipeline stage processed one event.
func (c *Collector) RecordStageEvent(stage string) {
	v, _ := c.stageEvents.LoadOrStore(stage, &atomic.Int64{})
	v.(*atomic.Int64).Add(1) //nolint:errcheck // type guaranteed by LoadOrStore
}

// RecordFinding records one emitted finding (secret-scan category, VARS,
// or CALLS) under label.
func (c *Collector) RecordFinding(label string) {
	c.findingsTotal.Add(1)
	v, _ := c.findingKinds.LoadOrStore(label, &atomic.Int64{})
	v.(*atomic.Int64).Add(1) //nolint:errcheck // type guaranteed by LoadOrStore
}

// RecordJSParseFailure records that the JS analysis stage failed to parse
// a body.
func (c *Collector) RecordJSParseFailure() {
	c.jsParseFailed.Add(1)
}

// CapturesTotal returns the cumulative number of captured responses seen.
func (c *Collector) CapturesTotal() int64 { return c.capturesTotal.Load() }

// FindingsTotal returns the cumulative number of findings emitted.
func (c *Collector) FindingsTotal() int64 { return c.findingsTotal.Load() }

// JSParseFailures returns the cumulative number of JS parse failures.
func (c *Collector) JSParseFailures() int64 { return c.jsParseFailed.Load() }

// HostCount pairs a host with a counter value.
type HostCount struct {
	Host  string `json:"host"`
	Count int64  `json:"count"`
}

// SnapshotHosts returns current per-host capture counts.
func (c *Collector) SnapshotHosts() []HostCount {
	var out []HostCount
	c.hostCaptures.Range(func(key, value any) bool {
		host, _ := key.(string)             //nolint:errcheck // type guaranteed
		counter, _ := value.(*atomic.Int64) //nolint:errcheck // type guaranteed
		out = append(out, HostCount{Host: host, Count: counter.Load()})
		return true
	})
	return out
}

// LabelCount pairs a label (stage name or finding category) with a
// counter value.
type LabelCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// SnapshotStages returns current per-stage processed-event counts.
func (c *Collector) SnapshotStages() []LabelCount {
	return snapshotMap(&c.stageEvents)
}

// SnapshotFindingKinds returns current per-category finding counts.
func (c *Collector) SnapshotFindingKinds() []LabelCount {
	return snapshotMap(&c.findingKinds)
}

func snapshotMap(m *sync.Map) []LabelCount {
	var out []LabelCount
	m.Range(func(key, value any) bool {
		label, _ := key.(string)            //nolint:errcheck // type guaranteed
		counter, _ := value.(*atomic.Int64) //nolint:errcheck // type guaranteed
		out = append(out, LabelCount{Label: label, Count: counter.Load()})
		return true
	})
	return out
}
