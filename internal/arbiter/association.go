package arbiter

import (
	"slices"

	"github.com/tphakala/audiorm/internal/device"
	"github.com/tphakala/audiorm/internal/logger"
)

// Association is one (device, stream) routing pair.
type Association struct {
	Device device.ID
	Stream Stream
}

// associationTable is the bipartite set of active pairs. Insertion order is
// preserved on both sides.
type associationTable struct {
	byDevice map[device.ID][]Stream
	byStream map[Stream][]device.ID
	order    []Association
}

func newAssociationTable() *associationTable {
	return &associationTable{
		byDevice: make(map[device.ID][]Stream),
		byStream: make(map[Stream][]device.ID),
	}
}

func (t *associationTable) has(id device.ID, s Stream) bool {
	return slices.Contains(t.byStream[s], id)
}

func (t *associationTable) register(id device.ID, s Stream) bool {
	if t.has(id, s) {
		return false
	}
	t.byDevice[id] = append(t.byDevice[id], s)
	t.byStream[s] = append(t.byStream[s], id)
	t.order = append(t.order, Association{Device: id, Stream: s})
	return true
}

func (t *associationTable) deregister(id device.ID, s Stream) bool {
	if !t.has(id, s) {
		return false
	}
	t.byDevice[id] = slices.DeleteFunc(t.byDevice[id], func(x Stream) bool { return x == s })
	if len(t.byDevice[id]) == 0 {
		delete(t.byDevice, id)
	}
	t.byStream[s] = slices.DeleteFunc(t.byStream[s], func(x device.ID) bool { return x == id })
	if len(t.byStream[s]) == 0 {
		delete(t.byStream, s)
	}
	t.order = slices.DeleteFunc(t.order, func(a Association) bool { return a.Device == id && a.Stream == s })
	return true
}

func (t *associationTable) streamsOn(id device.ID) []Stream {
	return slices.Clone(t.byDevice[id])
}

func (t *associationTable) devicesOf(s Stream) []device.ID {
	return slices.Clone(t.byStream[s])
}

func (t *associationTable) len() int {
	return len(t.order)
}

func (t *associationTable) all() []Association {
	return slices.Clone(t.order)
}

// RegisterDevice records that s is routed through d. A duplicate pair is
// ignored.
func (rm *ResourceManager) RegisterDevice(d *device.Device, s Stream) {
	rm.mu.Lock()
	added := rm.table.register(d.ID(), s)
	n := rm.table.len()
	rm.mu.Unlock()

	if !added {
		rm.logger.Debug("duplicate association ignored",
			logger.String("device", string(d.ID())),
			logger.String("stream", s.Handle()))
		return
	}
	rm.metrics.SetAssociations(n)
	rm.syncECRefs()
}

// DeregisterDevice removes the (d, s) pair.
func (rm *ResourceManager) DeregisterDevice(d *device.Device, s Stream) {
	rm.mu.Lock()
	removed := rm.table.deregister(d.ID(), s)
	n := rm.table.len()
	rm.mu.Unlock()

	if !removed {
		return
	}
	rm.metrics.SetAssociations(n)
	rm.syncECRefs()
}

// GetActiveStreams returns the streams routed through id, or every
// associated stream when id is empty.
func (rm *ResourceManager) GetActiveStreams(id device.ID) []Stream {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if id != "" {
		return rm.table.streamsOn(id)
	}
	var out []Stream
	for _, a := range rm.table.order {
		if !slices.Contains(out, a.Stream) {
			out = append(out, a.Stream)
		}
	}
	return out
}

// Associations returns every pair in insertion order.
func (rm *ResourceManager) Associations() []Association {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.table.all()
}

// IsAssociated reports whether s is routed through id.
func (rm *ResourceManager) IsAssociated(id device.ID, s Stream) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.table.has(id, s)
}

func (rm *ResourceManager) devicesOf(s Stream) []device.ID {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.table.devicesOf(s)
}
