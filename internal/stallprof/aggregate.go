package stallprof

import (
	"math"
	"sort"
)

const (
	// promptPercentage is the minimum share of the capture window the
	// dominant contributor must hold to warrant an operator prompt.
	promptPercentage = 99
	// promptFloor is the minimum absolute cost in microseconds for the
	// dominant contributor to warrant an operator prompt.
	promptFloor = 5_000_000
)

// Aggregate reduces a profile into a ranked summary.
//
// Samples are merged by contributor ID, each merged slice gets a
// percentage of the capture duration (rounded half away from zero), and
// Top is the slice with the strictly highest percentage; on ties the
// lexicographically smallest ID wins. The reduction is deterministic for
// a given set of samples regardless of their input order.
//
// It reports false when the capture has no samples, mismatched
// ids/deltas, or a non-positive duration. Callers treat that as "nothing
// to report", not as an error.
func Aggregate(p Profile) (Summary, bool) {
	duration := p.Duration()
	if duration <= 0 || len(p.IDs) == 0 || len(p.IDs) != len(p.Deltas) {
		return Summary{}, false
	}

	candidates := make([]Slice, len(p.IDs))
	for i, id := range p.IDs {
		candidates[i] = Slice{ID: id, Total: p.Deltas[i]}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].ID < candidates[j].ID
	})

	// Merge adjacent equal IDs, summing into the first occurrence.
	merged := candidates[:1]
	for _, c := range candidates[1:] {
		if last := &merged[len(merged)-1]; last.ID == c.ID {
			last.Total += c.Total
		} else {
			merged = append(merged, c)
		}
	}

	for i := range merged {
		merged[i].Percentage = int(math.Round(float64(merged[i].Total) * 100 / float64(duration)))
	}

	// Strict > keeps the first maximum in ascending-ID order.
	top := merged[0]
	for _, s := range merged[1:] {
		if s.Percentage > top.Percentage {
			top = s
		}
	}

	return Summary{
		Slices:          merged,
		Top:             top,
		Duration:        duration,
		PromptWarranted: top.Percentage >= promptPercentage && top.Total >= promptFloor,
	}, true
}
