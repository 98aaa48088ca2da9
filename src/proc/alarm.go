package proc

// SetAlarm arms a one-shot alarm: after ticks timer interrupts, the
// next trap return delivers handler instead of resuming p's regular
// execution point, stashing the trap frame in place at that moment so
// a later AlarmReturn can restore it (SPEC_FULL.md §16, supplemented
// from the original_source alarm syscall). ticks <= 0 disarms any
// pending alarm.
func (p *Proc_t) SetAlarm(ticks int, handler uint64) {
	p.lock()
	defer p.unlock()
	if ticks <= 0 {
		p.Alarm = AlarmState_t{}
		return
	}
	p.Alarm.TicksLeft = ticks
	p.Alarm.Handler = handler
	p.Alarm.Pending = false
}

// Tick is called once per timer interrupt delivered to p while it is
// running; it decrements the alarm countdown and, on reaching zero,
// snapshots the current trap frame and marks the alarm pending so the
// trap-dispatch loop can redirect execution to the handler.
func (p *Proc_t) Tick() {
	p.lock()
	defer p.unlock()
	if p.Alarm.TicksLeft <= 0 || p.Alarm.Pending {
		return
	}
	p.Alarm.TicksLeft--
	if p.Alarm.TicksLeft == 0 {
		saved := *p.Tf
		p.Alarm.Saved = &saved
		p.Alarm.Pending = true
	}
}

// DeliverAlarm redirects p's trap frame to the alarm handler if one is
// pending, returning true if it did so. Called from the trap-return
// path before the frame is restored to the user.
func (p *Proc_t) DeliverAlarm() bool {
	p.lock()
	defer p.unlock()
	if !p.Alarm.Pending {
		return false
	}
	p.Alarm.Pending = false
	p.Tf.Epc = p.Alarm.Handler
	return true
}

// AlarmReturn restores the trap frame saved at the moment the alarm
// fired, completing the handler's sigreturn-style syscall.
func (p *Proc_t) AlarmReturn() {
	p.lock()
	defer p.unlock()
	if p.Alarm.Saved != nil {
		*p.Tf = *p.Alarm.Saved
		p.Alarm.Saved = nil
	}
}
