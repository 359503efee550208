package device

import "sync/atomic"

// Hardware is the availability of the audio subsystem shared by every
// device. While offline, opening a device fails with a transient error.
type Hardware struct {
	offline atomic.Bool
}

// SetOnline records a subsystem transition and reports whether it changed.
func (h *Hardware) SetOnline(online bool) bool {
	return h.offline.Swap(!online) == online
}

// Online reports the current availability.
func (h *Hardware) Online() bool {
	return !h.offline.Load()
}
