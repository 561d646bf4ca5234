package fairness

import (
	"math"

	"LootLedger/internal/failure"
)

// Entry is one weighted candidate in a pool.
type Entry[T any] struct {
	ID      string
	Weight  int64
	Payload T
}

// Selection is the resolved entry for a draw value.
type Selection[T any] struct {
	Entry       Entry[T]
	Index       int
	Probability float64
}

// TotalWeight sums pool weights, rejecting empty pools, non-positive
// weights and sums that overflow int64.
func TotalWeight[T any](pool []Entry[T]) (int64, error) {
	if len(pool) == 0 {
		return 0, failure.New(failure.InputMalformed, "pool is empty")
	}
	var total int64
	for i, e := range pool {
		if e.Weight <= 0 {
			return 0, failure.New(failure.InputMalformed, "entry %d (%s) has non-positive weight %d", i, e.ID, e.Weight)
		}
		if total > math.MaxInt64-e.Weight {
			return 0, failure.New(failure.ArithmeticOverflow, "pool weight overflows at entry %d", i)
		}
		total += e.Weight
	}
	return total, nil
}

// Select walks the pool accumulating weight/total and returns the first
// entry whose cumulative share exceeds value. Float accumulation can leave
// the final cumulative just under 1, so the last entry is the fallback.
// The result depends only on (value, pool).
func Select[T any](value float64, pool []Entry[T]) (Selection[T], error) {
	if math.IsNaN(value) || value < 0 || value >= 1 {
		return Selection[T]{}, failure.New(failure.InputMalformed, "draw value %v outside [0, 1)", value)
	}
	total, err := TotalWeight(pool)
	if err != nil {
		return Selection[T]{}, err
	}

	fTotal := float64(total)
	cumulative := 0.0
	for i, e := range pool {
		share := float64(e.Weight) / fTotal
		cumulative += share
		if value < cumulative {
			return Selection[T]{Entry: e, Index: i, Probability: share}, nil
		}
	}

	last := len(pool) - 1
	return Selection[T]{
		Entry:       pool[last],
		Index:       last,
		Probability: float64(pool[last].Weight) / fTotal,
	}, nil
}
