package vitals

import (
	"bytes"
	"errors"
	"runtime/pprof"
	"sync"
)

var (
	// ErrProfileActive is returned when a CPU profile is already being
	// captured, either by this monitor or by anything else in the
	// process that holds the runtime profiler.
	ErrProfileActive = errors.New("cpu profiling already active")

	// ErrNoProfile is returned by Stop when no capture is in progress.
	ErrNoProfile = errors.New("no active cpu profile")
)

// cpuProfiler serializes access to the process-wide runtime CPU
// profiler and buffers the capture in memory.
type cpuProfiler struct {
	mu     sync.Mutex
	active bool
	buf    bytes.Buffer
}

func (p *cpuProfiler) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active {
		return ErrProfileActive
	}

	p.buf.Reset()
	if err := pprof.StartCPUProfile(&p.buf); err != nil {
		// The runtime profiler is singular per process; somebody else
		// already holds it.
		return ErrProfileActive
	}

	p.active = true
	return nil
}

func (p *cpuProfiler) Stop() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		return nil, ErrNoProfile
	}

	pprof.StopCPUProfile()
	p.active = false

	return append([]byte(nil), p.buf.Bytes()...), nil
}
