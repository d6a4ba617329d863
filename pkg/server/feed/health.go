package feed

import (
	"fmt"
	"time"
)

// Stats returns the aggregate request counters.
func (m *Manager) Stats() Stats {
	requests := m.requests.Load()
	hits := m.cacheHits.Load()
	fetches := m.fetches.Load()

	rate := 0.0
	if requests > 0 {
		rate = float64(hits) / float64(requests)
	}

	var avg time.Duration
	if fetches > 0 {
		avg = time.Duration(m.latencyNs.Load() / fetches)
	}

	return Stats{
		Requests:       requests,
		CacheHits:      hits,
		CacheHitRate:   rate,
		FetchCycles:    fetches,
		AverageLatency: avg,
	}
}

// SystemHealth summarizes every configured feed's state. A feed that has
// never been fetched counts as unknown and is reported but not held against
// the health percentage denominator.
func (m *Manager) SystemHealth() SystemHealth {
	symbols := m.Symbols()

	var healthy, judged int
	var issues []string

	for _, symbol := range symbols {
		switch state := m.FeedStatus(symbol); state {
		case StateHealthy:
			healthy++
			judged++
		case StateDegraded:
			judged++
			issues = append(issues, fmt.Sprintf("%s: degraded", symbol))
		case StateFailed:
			judged++
			issues = append(issues, fmt.Sprintf("%s: failed", symbol))
		case StateFetching:
			judged++
		default:
			issues = append(issues, fmt.Sprintf("%s: not yet fetched", symbol))
		}
	}

	pct := 100.0
	if judged > 0 {
		pct = float64(healthy) / float64(judged) * 100
	}

	overall := "healthy"
	switch {
	case judged > 0 && pct < 50:
		overall = "critical"
	case pct < 100:
		overall = "degraded"
	}

	return SystemHealth{
		Overall:        overall,
		PercentHealthy: pct,
		Issues:         issues,
	}
}
