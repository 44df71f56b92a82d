package dispatch

// Stats holds counters for the lifetime of a Dispatcher.
type Stats struct {
	Submitted  uint64 // Every Submit that passed validation, rejected ones included
	Observed   uint64
	Expired    uint64
	Unobserved uint64
	Rejected   uint64
	Lines      uint64 // Lines read while running
	Pending    int    // Requests currently in the active set
}

// Resolved returns the number of requests that reached a terminal outcome.
func (s Stats) Resolved() uint64 {
	return s.Observed + s.Expired + s.Unobserved + s.Rejected
}

// Stats returns a snapshot of the dispatcher's counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.stats
	s.Pending = len(d.active)
	return s
}
