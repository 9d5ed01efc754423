package stats

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Strategy string

const (
	StrategyNone   Strategy = ""
	StrategyDirect Strategy = "direct"
	StrategyBundle Strategy = "bundle"
)

type EventType string

const (
	EventTypeScanned      EventType = "scanned"
	EventTypeFiltered     EventType = "filtered"
	EventTypeSkipped      EventType = "skipped"
	EventTypeSucceeded    EventType = "succeeded"
	EventTypeFailed       EventType = "failed"
	EventTypeRouteFailed  EventType = "route_failed"
	EventTypeRouteRetried EventType = "route_retried"
)

type Event struct {
	Strategy  Strategy
	Type      EventType
	MessageID string
	Err       error
	Detail    string
}

type Summary struct {
	Scanned       int
	Filtered      int
	Skipped       int
	Direct        int
	Bundle        int
	Succeeded     int
	Failed        int
	RouteFailures int
	RouteRetries  int
	LastError     error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"scanned", s.Scanned,
		"filtered", s.Filtered,
		"skipped", s.Skipped,
		"direct", s.Direct,
		"bundle", s.Bundle,
		"succeeded", s.Succeeded,
		"failed", s.Failed,
		"routeFailures", s.RouteFailures,
		"routeRetries", s.RouteRetries,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

// Collector aggregates events for one cycle.
type Collector struct {
	mu      sync.Mutex
	summary Summary
	started time.Time
}

func NewCollector() *Collector {
	return &Collector{started: time.Now()}
}

func (c *Collector) Record(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeFiltered:
		c.summary.Filtered++
	case EventTypeSkipped:
		c.summary.Skipped++
	case EventTypeSucceeded:
		c.summary.Succeeded++
		c.countStrategy(evt.Strategy)
	case EventTypeFailed:
		c.summary.Failed++
		c.countStrategy(evt.Strategy)
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	case EventTypeRouteFailed:
		c.summary.RouteFailures++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	case EventTypeRouteRetried:
		c.summary.RouteRetries++
	}
}

func (c *Collector) countStrategy(s Strategy) {
	switch s {
	case StrategyDirect:
		c.summary.Direct++
	case StrategyBundle:
		c.summary.Bundle++
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

// Report logs the cycle summary at info level.
func (c *Collector) Report(logger *slog.Logger) {
	if logger == nil {
		return
	}
	attrs := append(c.Snapshot().LogAttrs(), "duration", time.Since(c.started))
	logger.Info("cycle summary", attrs...)
}

// PrettyPrintTop prints the top N most frequent items in a map.
func PrettyPrintTop(w io.Writer, m map[string]int, limit int) {
	type pair struct {
		Key   string
		Value int
	}

	var pairs []pair
	for k, v := range m {
		pairs = append(pairs, pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value == pairs[j].Value {
			return pairs[i].Key < pairs[j].Key
		}
		return pairs[i].Value > pairs[j].Value
	})

	for i := 0; i < limit && i < len(pairs); i++ {
		fmt.Fprintf(w, "%d. %s (%d)\n", i+1, pairs[i].Key, pairs[i].Value)
	}
}
