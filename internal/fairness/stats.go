package fairness

import (
	"strconv"
)

// EntryStatistics describes one pool entry's odds.
type EntryStatistics struct {
	ID               string  `json:"id"`
	Weight           int64   `json:"weight"`
	Probability      float64 `json:"probability"`
	Percentage       string  `json:"percentage"`
	ExpectedPerMille float64 `json:"expected_per_thousand"`
}

// PoolStatistics is the published odds table for a pool.
type PoolStatistics struct {
	TotalWeight int64             `json:"total_weight"`
	Entries     []EntryStatistics `json:"entries"`
}

// Statistics computes the odds table for pool.
func Statistics[T any](pool []Entry[T]) (PoolStatistics, error) {
	total, err := TotalWeight(pool)
	if err != nil {
		return PoolStatistics{}, err
	}
	stats := PoolStatistics{TotalWeight: total, Entries: make([]EntryStatistics, 0, len(pool))}
	for _, e := range pool {
		p := float64(e.Weight) / float64(total)
		stats.Entries = append(stats.Entries, EntryStatistics{
			ID:               e.ID,
			Weight:           e.Weight,
			Probability:      p,
			Percentage:       strconv.FormatFloat(p*100, 'f', 2, 64) + "%",
			ExpectedPerMille: p * 1000,
		})
	}
	return stats, nil
}

// SimulationResult counts how often each entry was selected.
type SimulationResult struct {
	Draws  int            `json:"draws"`
	Counts map[string]int `json:"counts"`
}

// Share returns the observed fraction for id.
func (r SimulationResult) Share(id string) float64 {
	if r.Draws == 0 {
		return 0
	}
	return float64(r.Counts[id]) / float64(r.Draws)
}

// Simulate runs n draws with seeds "{seedPrefix}:{i}" at a fixed timestamp
// and tallies the selected entries. Used for odds audits, never for
// settlement.
func Simulate[T any](g *Generator, pool []Entry[T], n int, seedPrefix string, timestampMillis int64) (SimulationResult, error) {
	if _, err := TotalWeight(pool); err != nil {
		return SimulationResult{}, err
	}
	res := SimulationResult{Draws: n, Counts: make(map[string]int, len(pool))}
	for i := 0; i < n; i++ {
		d := g.GenerateAt(seedPrefix+":"+strconv.Itoa(i), timestampMillis)
		sel, err := Select(d.Value, pool)
		if err != nil {
			return SimulationResult{}, err
		}
		res.Counts[sel.Entry.ID]++
	}
	return res, nil
}
