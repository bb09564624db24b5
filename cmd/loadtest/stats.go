package main

import (
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"
)

// Stats accumulates request outcomes per operation.
type Stats struct {
	mu  sync.Mutex
	ops map[string]*opStats
}

type opStats struct {
	errors      int64
	latencies   []time.Duration
	statusCodes map[int]int64
}

// Summary is the digest of one operation.
type Summary struct {
	Operation   string
	Total       int64
	Errors      int64
	Min, Max    time.Duration
	Avg, StdDev time.Duration
	P50, P90    time.Duration
	P95, P99    time.Duration
	StatusCodes map[int]int64
}

func NewStats() *Stats {
	return &Stats{ops: make(map[string]*opStats)}
}

// Record stores one request. err covers transport failures; any status
// outside 2xx also counts as an error.
func (s *Stats) Record(op string, d time.Duration, status int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.ops[op]
	if !ok {
		o = &opStats{statusCodes: make(map[int]int64)}
		s.ops[op] = o
	}
	if err != nil {
		o.errors++
		o.statusCodes[0]++
		return
	}
	if status < 200 || status >= 300 {
		o.errors++
	}
	o.statusCodes[status]++
	o.latencies = append(o.latencies, d)
}

// Summaries returns one Summary per operation, sorted by name.
func (s *Stats) Summaries() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Summary, 0, len(s.ops))
	for name, o := range s.ops {
		sum := Summary{Operation: name, Errors: o.errors, StatusCodes: make(map[int]int64, len(o.statusCodes))}
		for code, n := range o.statusCodes {
			sum.StatusCodes[code] = n
			sum.Total += n
		}
		latencies := append([]time.Duration(nil), o.latencies...)
		if len(latencies) > 0 {
			sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
			var total time.Duration
			for _, l := range latencies {
				total += l
			}
			sum.Avg = total / time.Duration(len(latencies))
			var sq float64
			for _, l := range latencies {
				diff := float64(l - sum.Avg)
				sq += diff * diff
			}
			sum.StdDev = time.Duration(math.Sqrt(sq / float64(len(latencies))))
			sum.Min = latencies[0]
			sum.Max = latencies[len(latencies)-1]
			sum.P50 = percentile(latencies, 50)
			sum.P90 = percentile(latencies, 90)
			sum.P95 = percentile(latencies, 95)
			sum.P99 = percentile(latencies, 99)
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}

func printReport(w io.Writer, summaries []Summary, elapsed time.Duration) {
	for _, s := range summaries {
		fmt.Fprintf(w, "=== %s ===\n", s.Operation)
		fmt.Fprintf(w, "Requests:     %d (%.2f/s)\n", s.Total, float64(s.Total)/elapsed.Seconds())
		if s.Total > 0 {
			fmt.Fprintf(w, "Errors:       %d (%.2f%%)\n", s.Errors, float64(s.Errors)/float64(s.Total)*100)
		}
		fmt.Fprintf(w, "Latency:      min %s  avg %s  max %s  stddev %s\n", s.Min, s.Avg, s.Max, s.StdDev)
		fmt.Fprintf(w, "Percentiles:  p50 %s  p90 %s  p95 %s  p99 %s\n", s.P50, s.P90, s.P95, s.P99)
		codes := make([]int, 0, len(s.StatusCodes))
		for code := range s.StatusCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		for _, code := range codes {
			label := fmt.Sprint(code)
			if code == 0 {
				label = "transport error"
			}
			fmt.Fprintf(w, "  %s: %d\n", label, s.StatusCodes[code])
		}
		fmt.Fprintln(w)
	}
}

// percentile expects sorted input and uses the nearest-rank method.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
