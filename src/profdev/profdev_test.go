package profdev

import (
	"bytes"
	"testing"

	"github.com/google/pprof/profile"

	"defs"
)

func TestReadProducesParsableProfile(t *testing.T) {
	pd := MkProfdev()
	pd.Tick(defs.Pid_t(1), "init")
	pd.Tick(defs.Pid_t(1), "init")
	pd.Tick(defs.Pid_t(2), "shell")

	raw, err := pd.Read()
	if err != 0 {
		t.Fatalf("Read: %v", err)
	}
	prof, perr := profile.Parse(bytes.NewReader(raw))
	if perr != nil {
		t.Fatalf("profile.Parse: %v", perr)
	}
	if len(prof.Sample) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(prof.Sample))
	}
}
