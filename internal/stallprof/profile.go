// Package stallprof reduces raw stall captures into ranked per-contributor
// summaries. The reduction is pure: no I/O, no logging, no shared state.
package stallprof

// Profile is the raw result of one profiling capture.
//
// IDs and Deltas are index-aligned: IDs[i] contributed Deltas[i]
// microseconds of cost. StartTime and EndTime are microsecond timestamps
// with EndTime >= StartTime. Payload carries the opaque raw capture bytes
// for later persistence; aggregation never inspects it.
type Profile struct {
	IDs       []string
	Deltas    []int64
	StartTime int64
	EndTime   int64
	Payload   []byte
}

// Duration returns the capture window length in microseconds.
func (p Profile) Duration() int64 {
	return p.EndTime - p.StartTime
}

// Slice is one merged per-contributor record. Total is the summed cost in
// microseconds; Percentage is Total relative to the capture duration.
type Slice struct {
	ID         string `json:"id"`
	Total      int64  `json:"total"`
	Percentage int    `json:"percentage"`
}

// Summary ranks the contributors of one capture. Slices is ordered by
// ascending ID; Top is the dominant contributor.
type Summary struct {
	Slices          []Slice
	Top             Slice
	Duration        int64
	PromptWarranted bool
}
