package stats

import (
	"fmt"
	"sort"
	"sync"
)

// Summary aggregates what happened to one polling cycle (or one backfill
// pass).
type Summary struct {
	Listed      int
	Skipped     int
	Fetched     int
	Processed   int
	Duplicates  int
	ParseErrors int
	PdfsRouted  int
	Errors      int
	LastError   error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"listed", s.Listed,
		"skipped", s.Skipped,
		"fetched", s.Fetched,
		"processed", s.Processed,
		"duplicates", s.Duplicates,
		"parseErrors", s.ParseErrors,
		"pdfsRouted", s.PdfsRouted,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

// Collector accumulates a Summary. The pipeline and scheduler call it
// synchronously; the mutex only guards against a future second caller.
type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Listed(n int) {
	c.mu.Lock()
	c.summary.Listed += n
	c.mu.Unlock()
}

func (c *Collector) Skipped() {
	c.mu.Lock()
	c.summary.Skipped++
	c.mu.Unlock()
}

func (c *Collector) Fetched() {
	c.mu.Lock()
	c.summary.Fetched++
	c.mu.Unlock()
}

func (c *Collector) Processed() {
	c.mu.Lock()
	c.summary.Processed++
	c.mu.Unlock()
}

func (c *Collector) Duplicate() {
	c.mu.Lock()
	c.summary.Duplicates++
	c.mu.Unlock()
}

func (c *Collector) ParseError() {
	c.mu.Lock()
	c.summary.ParseErrors++
	c.mu.Unlock()
}

func (c *Collector) PdfRouted() {
	c.mu.Lock()
	c.summary.PdfsRouted++
	c.mu.Unlock()
}

func (c *Collector) Error(err error) {
	c.mu.Lock()
	c.summary.Errors++
	if err != nil {
		c.summary.LastError = err
	}
	c.mu.Unlock()
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

// Reset clears the counters between cycles.
func (c *Collector) Reset() {
	c.mu.Lock()
	c.summary = Summary{}
	c.mu.Unlock()
}

// PrettyPrintTop prints the top N most frequent items in a map.
func PrettyPrintTop(m map[string]int, limit int) {
	type pair struct {
		Key   string
		Value int
	}

	var pairs []pair
	for k, v := range m {
		pairs = append(pairs, pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].Value > pairs[j].Value
	})

	for i := 0; i < limit && i < len(pairs); i++ {
		fmt.Printf("%d. %s (%d)\n", i+1, pairs[i].Key, pairs[i].Value)
	}
}
