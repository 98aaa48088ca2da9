package proc

import "testing"

func TestPushcliPopcliNesting(t *testing.T) {
	c := mkCpu(0)
	bindHart(c)
	defer unbindHart()

	c.IntrOn()
	c.Pushcli()
	c.Pushcli()
	if c.IntrEnabled() {
		t.Fatal("interrupts should be disabled while nested")
	}
	c.Popcli()
	if c.IntrEnabled() {
		t.Fatal("interrupts should stay disabled until the outermost Popcli")
	}
	c.Popcli()
	if !c.IntrEnabled() {
		t.Fatal("interrupts should be restored once nesting unwinds to zero")
	}
}

func TestPopcliWithoutPushcliPanics(t *testing.T) {
	c := mkCpu(0)
	bindHart(c)
	defer unbindHart()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on unbalanced Popcli")
		}
	}()
	c.Popcli()
}

func TestCurrentHartPanicsWithoutBinding(t *testing.T) {
	panicked := make(chan bool, 1)
	go func() {
		defer func() { panicked <- recover() != nil }()
		currentHart()
	}()
	if !<-panicked {
		t.Fatal("expected panic calling currentHart from an unbound goroutine")
	}
}
