// Package profdev implements the /dev profiling device (defs.D_PROF):
// the scheduler records a tick sample for whichever process a hart is
// running, and a read of the device serializes the accumulated counts as
// a pprof wire-format profile.
package profdev

import (
	"bytes"
	"sort"
	"sync"

	"github.com/google/pprof/profile"

	"defs"
)

// / Profdev_t accumulates per-process scheduling-tick sample counts and
// renders them as a pprof CPU-like profile on demand.
type Profdev_t struct {
	mu     sync.Mutex
	counts map[defs.Pid_t]int64
	names  map[defs.Pid_t]string
}

// / MkProfdev returns an empty profiling device.
func MkProfdev() *Profdev_t {
	return &Profdev_t{counts: map[defs.Pid_t]int64{}, names: map[defs.Pid_t]string{}}
}

// / Tick records one scheduling quantum charged to pid, running under
// name (the process's argv[0] or similar). Called by the scheduler's
// RunHart loop each time it dispatches a process onto a hart.
func (pd *Profdev_t) Tick(pid defs.Pid_t, name string) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	pd.counts[pid]++
	pd.names[pid] = name
}

// / Read renders the accumulated counts as a serialized pprof profile
// (one sample location per process, valued in scheduler ticks) and
// returns it as the bytes a read of the device would yield.
func (pd *Profdev_t) Read() ([]byte, defs.Err_t) {
	pd.mu.Lock()
	pids := make([]defs.Pid_t, 0, len(pd.counts))
	for pid := range pd.counts {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })

	prof := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "samples", Unit: "count"}},
		PeriodType: &profile.ValueType{Type: "tick", Unit: "count"},
		Period:     1,
	}
	for i, pid := range pids {
		fn := &profile.Function{ID: uint64(i + 1), Name: pd.names[pid]}
		loc := &profile.Location{ID: uint64(i + 1), Line: []profile.Line{{Function: fn, Line: 0}}}
		prof.Function = append(prof.Function, fn)
		prof.Location = append(prof.Location, loc)
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{pd.counts[pid]},
			Label:    map[string][]string{"pid": {pidString(pid)}},
		})
	}
	pd.mu.Unlock()

	var buf bytes.Buffer
	if err := prof.Write(&buf); err != nil {
		return nil, defs.EBadAddress
	}
	return buf.Bytes(), 0
}

func pidString(pid defs.Pid_t) string {
	if pid == 0 {
		return "0"
	}
	neg := pid < 0
	if neg {
		pid = -pid
	}
	var b [20]byte
	i := len(b)
	for pid > 0 {
		i--
		b[i] = byte('0' + pid%10)
		pid /= 10
	}
	if neg {
		i--
		b[i] = '-'
	}
	return string(b[i:])
}
