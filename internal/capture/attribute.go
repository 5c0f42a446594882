package capture

import (
	"fmt"
	"strings"

	"github.com/google/pprof/profile"

	"github.com/stallscope/stallscope/internal/stallprof"
)

// unknownContributor labels samples whose leaf frame carries no function
// information, such as truncated or stripped stacks.
const unknownContributor = "unknown"

// FromPprof parses a raw pprof payload (gzip or plain) and reduces it to
// the index-aligned sample form the aggregator consumes. Timestamps and
// cost deltas are converted from nanoseconds to microseconds. The raw
// bytes are carried through untouched as the persistence payload.
func FromPprof(data []byte) (stallprof.Profile, error) {
	prof, err := profile.ParseData(data)
	if err != nil {
		return stallprof.Profile{}, fmt.Errorf("parse pprof payload: %w", err)
	}
	return fromParsed(prof, data), nil
}

func fromParsed(prof *profile.Profile, raw []byte) stallprof.Profile {
	valueIdx := cpuValueIndex(prof)

	out := stallprof.Profile{
		StartTime: prof.TimeNanos / 1000,
		EndTime:   (prof.TimeNanos + prof.DurationNanos) / 1000,
		Payload:   raw,
	}

	for _, s := range prof.Sample {
		if valueIdx >= len(s.Value) {
			continue
		}
		cost := s.Value[valueIdx]
		if cost == 0 {
			continue
		}
		out.IDs = append(out.IDs, contributorID(leafFunction(s)))
		out.Deltas = append(out.Deltas, cost/1000)
	}
	return out
}

// cpuValueIndex locates the cpu/nanoseconds sample value. CPU profiles
// written by the Go runtime carry [samples/count, cpu/nanoseconds]; when
// the typed lookup misses, the last value is the conventional default.
func cpuValueIndex(prof *profile.Profile) int {
	for i, st := range prof.SampleType {
		if st.Type == "cpu" && st.Unit == "nanoseconds" {
			return i
		}
	}
	return len(prof.SampleType) - 1
}

// leafFunction returns the innermost function name of a sample's stack.
// Location[0] is the leaf; within a location, Line[0] is the deepest
// inlined frame.
func leafFunction(s *profile.Sample) string {
	for _, loc := range s.Location {
		for _, line := range loc.Line {
			if line.Function != nil && line.Function.Name != "" {
				return line.Function.Name
			}
		}
	}
	return ""
}

// contributorID maps a fully qualified function name to the package import
// path that owns it, the identity stalls are attributed to. Examples:
//
//	runtime.mallocgc                          -> runtime
//	net/http.(*conn).serve                    -> net/http
//	github.com/acme/app/internal/db.(*Tx).Get -> github.com/acme/app/internal/db
func contributorID(funcName string) string {
	if funcName == "" {
		return unknownContributor
	}

	// The package path ends at the first dot after the last slash.
	slash := strings.LastIndex(funcName, "/")
	dot := strings.Index(funcName[slash+1:], ".")
	if dot < 0 {
		return funcName
	}
	return funcName[:slash+1+dot]
}
