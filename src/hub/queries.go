package hub

// Stats is a point-in-time view of the registry.
type Stats struct {
	Subscribers int    `json:"subscribers"`
	Delivered   uint64 `json:"delivered"`
	Panics      uint64 `json:"panics"`
}

// Len returns the number of registered handlers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Stats returns delivery counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Subscribers: h.Len(),
		Delivered:   h.delivered.Load(),
		Panics:      h.panics.Load(),
	}
}
