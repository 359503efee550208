package arbiter

import (
	"context"
	"slices"
	"time"

	"github.com/tphakala/audiorm/internal/device"
	"github.com/tphakala/audiorm/internal/errors"
	"github.com/tphakala/audiorm/internal/logger"
)

// suspendRecord is what suspend changed on one stream, so resume can undo
// exactly that.
type suspendRecord struct {
	device          device.ID
	volume          float64
	mutedBySuspend  bool
	pausedBySuspend bool
	combo           bool // stream kept another device and was not silenced
}

func (rm *ResourceManager) accessoryInfo(id device.ID) (device.Info, error) {
	info, ok := rm.infos[id]
	if !ok {
		return device.Info{}, errors.Newf("unknown device %q", id).
			Category(errors.CategoryNotFound).
			Context("device", string(id)).
			Build()
	}
	if !info.Accessory {
		return device.Info{}, errors.Newf("device %s is not an accessory", id).
			Category(errors.CategoryValidation).
			Context("device", string(id)).
			Build()
	}
	return info, nil
}

// fallbackFor picks where streams leaving an accessory go: the first
// device in the fallback list that already carries streams, else the
// platform default.
func (rm *ResourceManager) fallbackFor(dir device.Direction) device.ID {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	for _, name := range rm.platform.FallbackPriority {
		id := device.ID(name)
		info, ok := rm.infos[id]
		if !ok || info.Direction != dir || info.Accessory {
			continue
		}
		if len(rm.table.byDevice[id]) > 0 {
			return id
		}
	}
	return rm.DefaultDevice(dir)
}

// drainDuration scales the pipeline latency into the wait between muting
// and rerouting.
func (rm *ResourceManager) drainDuration(latency time.Duration) time.Duration {
	factor := rm.arbiter.SuspendDrainFactor
	if factor <= 0 {
		factor = 1
	}
	d := time.Duration(float64(latency) * factor)
	if lo := rm.arbiter.SuspendDrainMin; d < lo {
		d = lo
	}
	if hi := rm.arbiter.SuspendDrainMax; hi > 0 && d > hi {
		d = hi
	}
	return d
}

// SuspendAccessory moves every stream off accessory id. Streams that keep
// another device only remember the accessory; the rest are muted, and
// paused when their kind needs strict sequencing, before the drain wait
// and the switch to the fallback device.
func (rm *ResourceManager) SuspendAccessory(ctx context.Context, id device.ID) error {
	info, err := rm.accessoryInfo(id)
	if err != nil {
		return err
	}
	dev, err := rm.GetInstance(id)
	if err != nil {
		return err
	}

	rm.switchMu.Lock()
	defer rm.switchMu.Unlock()

	dev.MarkSuspended(true)
	streams := rm.GetActiveStreams(id)
	if len(streams) == 0 {
		rm.logger.Debug("accessory suspended with no streams", logger.String("device", string(id)))
		return nil
	}
	fallback := rm.fallbackFor(info.Direction)

	var moves []move
	silenced := 0
	for _, s := range streams {
		var others []device.ID
		for _, other := range rm.devicesOf(s) {
			if other != id && !rm.infos[other].Accessory {
				others = append(others, other)
			}
		}
		rec := &suspendRecord{device: id}
		history := []device.ID{id}
		if len(others) > 0 {
			// a combo stream keeps its built-in devices as its history
			rec.combo = true
			history = others
			moves = append(moves, move{stream: s, targets: others})
		} else {
			s.Lock()
			rec.volume = s.Volume()
			if !s.Muted() {
				if err := s.MuteLocked(true); err != nil {
					rm.logger.Warn("mute on suspend failed", logger.String("stream", s.Handle()), logger.Error(err))
				} else {
					rec.mutedBySuspend = true
				}
			}
			if rm.traits(s).StrictSequencing && s.IsActive() && !s.Paused() {
				if err := s.PauseLocked(); err != nil {
					rm.logger.Warn("pause on suspend failed", logger.String("stream", s.Handle()), logger.Error(err))
				} else {
					rec.pausedBySuspend = true
				}
			}
			s.Unlock()
			silenced++
			moves = append(moves, move{stream: s, targets: []device.ID{fallback}})
		}
		s.SetSuspendedDeviceIDs(history)
		rm.recMu.Lock()
		rm.records[s] = rec
		rm.recMu.Unlock()
	}

	rm.logger.Info("accessory suspended",
		logger.String("device", string(id)),
		logger.String("fallback", string(fallback)),
		logger.Int("streams", len(streams)),
		logger.Int("silenced", silenced))

	if silenced > 0 {
		if err := rm.sleep(ctx, rm.drainDuration(info.Latency)); err != nil {
			return errors.New(err).
				Category(errors.CategoryCancellation).
				Context("device", string(id)).
				Context("operation", "suspend-drain").
				Build()
		}
	}

	pl, err := rm.planMovesLocked(moves, nil)
	if err != nil {
		return err
	}
	res := rm.switchLocked(ctx, pl)
	if err := res.firstError(); err != nil {
		rm.logger.Warn("suspend switch incomplete", logger.String("device", string(id)), logger.Error(err))
		return err
	}
	return nil
}

// ResumeAccessory moves streams whose suspend history names id back to it
// and undoes what suspend did to them. Streams that fail to move keep
// their history for the next attempt.
func (rm *ResourceManager) ResumeAccessory(ctx context.Context, id device.ID) error {
	if _, err := rm.accessoryInfo(id); err != nil {
		return err
	}
	dev, err := rm.GetInstance(id)
	if err != nil {
		return err
	}

	rm.switchMu.Lock()
	defer rm.switchMu.Unlock()

	dev.MarkSuspended(false)
	if !dev.IsReady() {
		return errors.Newf("accessory %s not ready", id).
			Category(errors.CategoryNotReady).
			Context("device", string(id)).
			Build()
	}

	candidates := rm.resumeCandidates(id)
	if len(candidates) == 0 {
		rm.logger.Debug("accessory resumed with no history", logger.String("device", string(id)))
		return nil
	}

	moves := make([]move, 0, len(candidates))
	for _, c := range candidates {
		targets := []device.ID{id}
		if c.rec != nil && c.rec.combo {
			targets = append(rm.devicesOf(c.stream), id)
		}
		moves = append(moves, move{stream: c.stream, targets: targets})
	}
	pl, err := rm.planMovesLocked(moves, nil)
	if err != nil {
		return err
	}
	res := rm.switchLocked(ctx, pl)
	if res.abort != nil {
		return res.abort
	}

	restored := 0
	for _, c := range candidates {
		if err := res.errFor(c.stream); err != nil {
			rm.logger.Warn("stream not restored",
				logger.String("stream", c.stream.Handle()),
				logger.String("device", string(id)),
				logger.Error(err))
			continue
		}
		rm.restore(c.stream, c.rec)
		restored++
	}
	rm.logger.Info("accessory resumed",
		logger.String("device", string(id)),
		logger.Int("candidates", len(candidates)),
		logger.Int("restored", restored))
	if err := res.firstError(); err != nil && !errors.IsTransient(err) {
		return err
	}
	return nil
}

type resumeCandidate struct {
	stream Stream
	rec    *suspendRecord
}

func (rm *ResourceManager) resumeCandidates(id device.ID) []resumeCandidate {
	var out []resumeCandidate
	for _, s := range rm.openStreams() {
		rm.recMu.Lock()
		rec := rm.records[s]
		orphan := slices.Contains(rm.orphans[s], id)
		rm.recMu.Unlock()
		switch {
		case rec != nil && rec.device == id:
		case slices.Contains(s.SuspendedDeviceIDs(), id), orphan:
			rec = nil
		default:
			continue
		}
		out = append(out, resumeCandidate{stream: s, rec: rec})
	}
	return out
}

// restore undoes suspend on s: volume first, then resume, then unmute.
func (rm *ResourceManager) restore(s Stream, rec *suspendRecord) {
	if rec != nil && !rec.combo {
		s.Lock()
		if err := s.SetVolumeLocked(rec.volume); err != nil {
			rm.logger.Warn("volume restore failed", logger.String("stream", s.Handle()), logger.Error(err))
		}
		if rec.pausedBySuspend {
			if err := s.ResumeLocked(); err != nil {
				rm.logger.Warn("resume after suspend failed", logger.String("stream", s.Handle()), logger.Error(err))
			}
		}
		if rec.mutedBySuspend {
			if err := s.MuteLocked(false); err != nil {
				rm.logger.Warn("unmute after suspend failed", logger.String("stream", s.Handle()), logger.Error(err))
			}
		}
		s.Unlock()
	}
	s.SetSuspendedDeviceIDs(nil)
	rm.recMu.Lock()
	delete(rm.records, s)
	rm.recMu.Unlock()
}

// NoteUserMute records a client mute change so resume leaves it alone.
func (rm *ResourceManager) NoteUserMute(s Stream) {
	rm.recMu.Lock()
	defer rm.recMu.Unlock()
	if rec := rm.records[s]; rec != nil {
		rec.mutedBySuspend = false
	}
}

// NoteUserPause records a client pause or resume so resume leaves it alone.
func (rm *ResourceManager) NoteUserPause(s Stream) {
	rm.recMu.Lock()
	defer rm.recMu.Unlock()
	if rec := rm.records[s]; rec != nil {
		rec.pausedBySuspend = false
	}
}

// SuspendedBy reports the accessory whose suspend currently holds s.
func (rm *ResourceManager) SuspendedBy(s Stream) (device.ID, bool) {
	rm.recMu.Lock()
	defer rm.recMu.Unlock()
	if rec := rm.records[s]; rec != nil {
		return rec.device, true
	}
	return "", false
}

// RetryOrphans reconnects streams whose connect failed while the hardware
// was unavailable.
func (rm *ResourceManager) RetryOrphans(ctx context.Context) {
	orphans := rm.Orphans()
	if len(orphans) == 0 {
		return
	}
	rm.switchMu.Lock()
	defer rm.switchMu.Unlock()

	var moves []move
	for _, s := range rm.openStreams() {
		ids, ok := orphans[s]
		if !ok {
			continue
		}
		targets := rm.devicesOf(s)
		for _, id := range ids {
			if !slices.Contains(targets, id) {
				targets = append(targets, id)
			}
		}
		moves = append(moves, move{stream: s, targets: targets})
	}
	pl, err := rm.planMovesLocked(moves, nil)
	if err != nil {
		rm.logger.Warn("orphan retry plan failed", logger.Error(err))
		return
	}
	res := rm.switchLocked(ctx, pl)
	for _, m := range moves {
		if res.errFor(m.stream) != nil {
			continue
		}
		rm.recMu.Lock()
		rec := rm.records[m.stream]
		rm.recMu.Unlock()
		if rec != nil && slices.Contains(m.targets, rec.device) {
			rm.restore(m.stream, rec)
		}
	}
	rm.logger.Info("orphan streams retried",
		logger.Int("streams", len(moves)),
		logger.Int("remaining", len(res.orphaned)))
}

// SetHardwareOnline records subsystem availability. Coming back online
// retries orphaned streams.
func (rm *ResourceManager) SetHardwareOnline(ctx context.Context, online bool) {
	if !rm.hw.SetOnline(online) {
		return
	}
	rm.logger.Info("audio hardware availability changed", logger.Bool("online", online))
	if online {
		rm.RetryOrphans(ctx)
	}
}
