package arbiter

import (
	"context"
	"slices"
	"time"

	"github.com/tphakala/audiorm/internal/device"
	"github.com/tphakala/audiorm/internal/errors"
	"github.com/tphakala/audiorm/internal/logger"
	"github.com/tphakala/audiorm/internal/observability/metrics"
)

// move routes one stream to targets. Devices of the same direction that
// are not listed are dropped; dropAll drops every current device.
type move struct {
	stream  Stream
	targets []device.ID
	dropAll bool
}

type pair struct {
	stream Stream
	id     device.ID
}

type connectStep struct {
	stream   Stream
	attrs    device.Attributes
	priority int
}

// plan is one device-switch transaction.
type plan struct {
	disconnects []pair
	connects    []connectStep
	updates     []connectStep // idle devices whose negotiated attributes changed
	streams     []Stream      // unique touched set, enumeration order
}

func (p *plan) empty() bool {
	return len(p.disconnects) == 0 && len(p.connects) == 0 && len(p.updates) == 0
}

func (p *plan) touch(s Stream) {
	if !slices.Contains(p.streams, s) {
		p.streams = append(p.streams, s)
	}
}

func (p *plan) disconnect(s Stream, id device.ID) {
	if slices.ContainsFunc(p.disconnects, func(x pair) bool { return x.stream == s && x.id == id }) {
		return
	}
	p.disconnects = append(p.disconnects, pair{stream: s, id: id})
	p.touch(s)
}

func (p *plan) connect(s Stream, attrs device.Attributes, priority int) {
	if slices.ContainsFunc(p.connects, func(x connectStep) bool { return x.stream == s && x.attrs.ID == attrs.ID }) {
		return
	}
	p.connects = append(p.connects, connectStep{stream: s, attrs: attrs, priority: priority})
	p.touch(s)
}

// switchResult collects per-stream outcomes of a transaction.
type switchResult struct {
	abort    error
	errs     map[Stream]error
	orphaned map[Stream][]device.ID
}

func (r *switchResult) fail(s Stream, err error) {
	if r.errs == nil {
		r.errs = make(map[Stream]error)
	}
	if _, ok := r.errs[s]; !ok {
		r.errs[s] = err
	}
}

func (r *switchResult) orphan(s Stream, id device.ID) {
	if r.orphaned == nil {
		r.orphaned = make(map[Stream][]device.ID)
	}
	r.orphaned[s] = append(r.orphaned[s], id)
}

// errFor returns the error the caller touching s should see.
func (r *switchResult) errFor(s Stream) error {
	if r.abort != nil {
		return r.abort
	}
	if err, ok := r.errs[s]; ok {
		return err
	}
	if ids, ok := r.orphaned[s]; ok {
		return errors.Newf("stream %s left without %v", s.Handle(), ids).
			Category(errors.CategoryTransient).
			Build()
	}
	return nil
}

func (r *switchResult) firstError() error {
	if r.abort != nil {
		return r.abort
	}
	for _, err := range r.errs {
		return err
	}
	return nil
}

func (rm *ResourceManager) validateTargets(s Stream, targets []device.ID) error {
	if s == nil {
		return errors.Newf("stream is required").
			Category(errors.CategoryValidation).
			Build()
	}
	if !rm.isOpen(s) {
		return errors.Newf("stream %s is not open", s.Handle()).
			Category(errors.CategoryState).
			Build()
	}
	t := rm.traits(s)
	for _, id := range targets {
		info, ok := rm.infos[id]
		if !ok {
			return errors.Newf("unknown device %q", id).
				Category(errors.CategoryNotFound).
				Context("device", string(id)).
				Build()
		}
		if !t.Duplex && info.Direction != t.Direction {
			return errors.Newf("device %s cannot carry %s stream %s", id, t.Direction, s.Handle()).
				Category(errors.CategoryValidation).
				Context("device", string(id)).
				Build()
		}
	}
	return nil
}

// planMovesLocked turns moves into a transaction. Every backend touched by
// the moves, by extraBackends, or sharing a group with them is
// renegotiated; devices whose configuration changes have their remaining
// streams reconnected. Caller holds switchMu.
func (rm *ResourceManager) planMovesLocked(moves []move, extraBackends []string) (plan, error) {
	var pl plan

	rm.mu.Lock()
	current := make(map[Stream][]device.ID)
	routed := make(map[device.ID][]Stream)
	for _, a := range rm.table.all() {
		current[a.Stream] = append(current[a.Stream], a.Device)
		routed[a.Device] = append(routed[a.Device], a.Stream)
	}
	rm.mu.Unlock()

	future := make(map[device.ID][]Stream, len(routed))
	for id, ss := range routed {
		future[id] = slices.Clone(ss)
	}

	affected := make(map[string]bool)
	for _, b := range extraBackends {
		if b != "" {
			affected[b] = true
		}
	}
	added := make(map[pair]bool)

	for _, m := range moves {
		s := m.stream
		var dirs []device.Direction
		for _, id := range m.targets {
			info, ok := rm.infos[id]
			if !ok {
				return plan{}, errors.Newf("unknown device %q", id).
					Category(errors.CategoryNotFound).
					Context("device", string(id)).
					Build()
			}
			if !slices.Contains(dirs, info.Direction) {
				dirs = append(dirs, info.Direction)
			}
			affected[info.Backend] = true
		}
		for _, id := range current[s] {
			info := rm.infos[id]
			drop := m.dropAll || (slices.Contains(dirs, info.Direction) && !slices.Contains(m.targets, id))
			if !drop {
				continue
			}
			future[id] = slices.DeleteFunc(future[id], func(x Stream) bool { return x == s })
			affected[info.Backend] = true
			pl.disconnect(s, id)
		}
		if m.dropAll {
			continue
		}
		for _, id := range m.targets {
			if slices.Contains(future[id], s) {
				continue
			}
			future[id] = append(future[id], s)
			added[pair{stream: s, id: id}] = true
		}
	}

	for _, g := range rm.groups {
		touched := false
		for _, id := range g.Devices {
			if affected[rm.infos[device.ID(id)].Backend] {
				touched = true
				break
			}
		}
		if !touched {
			continue
		}
		for _, id := range g.Devices {
			affected[rm.infos[device.ID(id)].Backend] = true
		}
	}

	backends := make([]string, 0, len(affected))
	for b := range affected {
		backends = append(backends, b)
	}
	slices.Sort(backends)

	profile := rm.ActiveCaptureProfile()
	for _, backend := range backends {
		neg := rm.negotiateBackend(backend, future, profile)
		for _, id := range rm.backendDevices[backend] {
			streams := future[id]
			if rm.infos[id].Accessory {
				for _, s := range streams {
					if added[pair{stream: s, id: id}] {
						dev, err := rm.GetInstance(id)
						if err != nil {
							return plan{}, err
						}
						pl.connect(s, dev.Attributes(), dev.Priority())
					}
				}
				continue
			}
			na, ok := neg[id]
			if !ok {
				continue
			}
			dev := rm.lookup(id)
			if dev == nil && len(streams) == 0 {
				continue
			}
			if dev == nil {
				var err error
				if dev, err = rm.GetInstance(id); err != nil {
					return plan{}, err
				}
			}
			changed := dev.Attributes() != na.attrs
			for _, s := range streams {
				switch {
				case added[pair{stream: s, id: id}]:
					pl.connect(s, na.attrs, na.priority)
				case changed:
					pl.disconnect(s, id)
					pl.connect(s, na.attrs, na.priority)
				}
			}
			if changed && len(streams) == 0 {
				pl.updates = append(pl.updates, connectStep{attrs: na.attrs, priority: na.priority})
			}
		}
	}
	return pl, nil
}

// switchLocked executes pl. Disconnects all complete before the first
// connect. Caller holds switchMu.
func (rm *ResourceManager) switchLocked(ctx context.Context, pl plan) switchResult {
	var res switchResult
	if pl.empty() {
		rm.metrics.RecordTransaction(metrics.ResultNoop, 0, 0)
		return res
	}
	started := time.Now()

	if err := rm.guardPlan(pl); err != nil {
		res.abort = err
		rm.metrics.RecordTransaction(metrics.ResultNotReady, len(pl.streams), time.Since(started).Seconds())
		rm.logger.Warn("device switch aborted", logger.Error(err))
		return res
	}

	rm.inTransaction.Store(true)
	for _, s := range pl.streams {
		s.Lock()
	}
	defer func() {
		for _, s := range slices.Backward(pl.streams) {
			s.Unlock()
		}
		rm.inTransaction.Store(false)
	}()

	ctx = logger.WithTransaction(ctx, rm.transactions.Add(1))
	log := rm.logger.WithContext(ctx)
	for _, p := range pl.disconnects {
		if !rm.IsAssociated(p.id, p.stream) {
			continue
		}
		if err := p.stream.DisconnectDevice(ctx, p.id); err != nil {
			log.Warn("disconnect failed",
				logger.String("stream", p.stream.Handle()),
				logger.String("device", string(p.id)),
				logger.Error(err))
			continue
		}
		rm.disconnects.Add(1)
	}

	for _, u := range pl.updates {
		if dev := rm.lookup(u.attrs.ID); dev != nil {
			dev.SetAttributes(u.attrs, u.priority)
		}
	}
	for _, c := range pl.connects {
		if dev := rm.lookup(c.attrs.ID); dev != nil {
			dev.SetAttributes(c.attrs, c.priority)
		}
	}

	connected := 0
	for i, c := range pl.connects {
		if !rm.isOpen(c.stream) {
			continue
		}
		err := c.stream.ConnectDevice(ctx, c.attrs)
		if err == nil {
			connected++
			rm.connects.Add(1)
			rm.clearOrphan(c.stream, c.attrs.ID)
			continue
		}
		rm.metrics.RecordConnectError(string(c.attrs.ID), string(errors.CategoryOf(err)))
		if errors.IsTransient(err) {
			log.Info("connect deferred, stream orphaned",
				logger.String("stream", c.stream.Handle()),
				logger.String("device", string(c.attrs.ID)),
				logger.Error(err))
			res.orphan(c.stream, c.attrs.ID)
			rm.recordOrphan(c.stream, c.attrs.ID)
			continue
		}
		log.Error("connect failed, remaining connects skipped",
			logger.String("stream", c.stream.Handle()),
			logger.String("device", string(c.attrs.ID)),
			logger.Int("skipped", len(pl.connects)-i-1),
			logger.Error(err))
		res.fail(c.stream, err)
		rm.skipConnects(pl.connects[i+1:], c.attrs.ID, err, &res)
		break
	}

	result := metrics.ResultSuccess
	switch {
	case len(res.errs) > 0 && connected == 0:
		result = metrics.ResultFailed
	case len(res.errs) > 0 || len(res.orphaned) > 0:
		result = metrics.ResultPartial
	}
	elapsed := time.Since(started)
	rm.metrics.RecordTransaction(result, len(pl.streams), elapsed.Seconds())
	log.Debug("device switch complete",
		logger.String("result", result),
		logger.Int("streams", len(pl.streams)),
		logger.Int("disconnects", len(pl.disconnects)),
		logger.Int("connects", connected),
		logger.Duration("elapsed", elapsed))
	return res
}

// skipConnects records the connects left undone after a connect to failed
// broke off the transaction. Their streams were already disconnected, so
// each is orphaned for the next retry and told why.
func (rm *ResourceManager) skipConnects(steps []connectStep, failed device.ID, cause error, res *switchResult) {
	for _, c := range steps {
		if !rm.isOpen(c.stream) {
			continue
		}
		res.orphan(c.stream, c.attrs.ID)
		rm.recordOrphan(c.stream, c.attrs.ID)
		res.fail(c.stream, errors.Newf("connect of stream %s to %s skipped after %s failed: %w",
			c.stream.Handle(), c.attrs.ID, failed, cause).
			Category(errors.CategoryTransient).
			Context("device", string(c.attrs.ID)).
			Build())
	}
}

// guardPlan rejects a transaction in which a stream's only new device is
// an accessory that cannot carry audio.
func (rm *ResourceManager) guardPlan(pl plan) error {
	targets := make(map[Stream][]device.ID)
	for _, c := range pl.connects {
		targets[c.stream] = append(targets[c.stream], c.attrs.ID)
	}
	for _, s := range pl.streams {
		ids := targets[s]
		if len(ids) != 1 || !rm.infos[ids[0]].Accessory {
			continue
		}
		dev, err := rm.GetInstance(ids[0])
		if err != nil {
			return err
		}
		if !dev.IsReady() {
			return errors.Newf("accessory %s not ready", ids[0]).
				Category(errors.CategoryNotReady).
				Context("device", string(ids[0])).
				Context("stream", s.Handle()).
				Build()
		}
	}
	return nil
}

func (rm *ResourceManager) recordOrphan(s Stream, id device.ID) {
	rm.recMu.Lock()
	if !slices.Contains(rm.orphans[s], id) {
		rm.orphans[s] = append(rm.orphans[s], id)
	}
	n := len(rm.orphans)
	rm.recMu.Unlock()
	rm.metrics.SetOrphanStreams(n)
}

func (rm *ResourceManager) clearOrphan(s Stream, id device.ID) {
	rm.recMu.Lock()
	ids, ok := rm.orphans[s]
	if !ok {
		rm.recMu.Unlock()
		return
	}
	ids = slices.DeleteFunc(ids, func(x device.ID) bool { return x == id })
	if len(ids) == 0 {
		delete(rm.orphans, s)
	} else {
		rm.orphans[s] = ids
	}
	n := len(rm.orphans)
	rm.recMu.Unlock()
	rm.metrics.SetOrphanStreams(n)
}

// Orphans returns the streams waiting for a connect retry and the devices
// they lost.
func (rm *ResourceManager) Orphans() map[Stream][]device.ID {
	rm.recMu.Lock()
	defer rm.recMu.Unlock()
	out := make(map[Stream][]device.ID, len(rm.orphans))
	for s, ids := range rm.orphans {
		out[s] = slices.Clone(ids)
	}
	return out
}

// Associate routes s to targets, renegotiating every backend involved. The
// returned error is the outcome for s only.
func (rm *ResourceManager) Associate(ctx context.Context, s Stream, targets []device.ID) error {
	if err := rm.validateTargets(s, targets); err != nil {
		return err
	}
	if len(targets) == 0 {
		return errors.Newf("no target devices for stream %s", s.Handle()).
			Category(errors.CategoryValidation).
			Build()
	}
	return rm.SwitchDevices(ctx, []Stream{s}, [][]device.ID{targets})[0]
}

// Deassociate drops every device of s.
func (rm *ResourceManager) Deassociate(ctx context.Context, s Stream) error {
	if s == nil {
		return errors.Newf("stream is required").
			Category(errors.CategoryValidation).
			Build()
	}
	rm.switchMu.Lock()
	defer rm.switchMu.Unlock()
	pl, err := rm.planMovesLocked([]move{{stream: s, dropAll: true}}, nil)
	if err != nil {
		return err
	}
	res := rm.switchLocked(ctx, pl)
	return res.errFor(s)
}

// SwitchDevices moves several streams in one transaction; streams[i] goes
// to targets[i]. It returns one result per stream.
func (rm *ResourceManager) SwitchDevices(ctx context.Context, streams []Stream, targets [][]device.ID) []error {
	out := make([]error, len(streams))
	if len(streams) != len(targets) {
		err := errors.Newf("%d streams but %d target sets", len(streams), len(targets)).
			Category(errors.CategoryValidation).
			Build()
		for i := range out {
			out[i] = err
		}
		return out
	}

	moves := make([]move, 0, len(streams))
	for i, s := range streams {
		if err := rm.validateTargets(s, targets[i]); err != nil {
			out[i] = err
			continue
		}
		moves = append(moves, move{stream: s, targets: slices.Clone(targets[i])})
	}
	if len(moves) == 0 {
		return out
	}

	rm.switchMu.Lock()
	defer rm.switchMu.Unlock()
	pl, err := rm.planMovesLocked(moves, nil)
	if err != nil {
		for i := range out {
			if out[i] == nil {
				out[i] = err
			}
		}
		return out
	}
	res := rm.switchLocked(ctx, pl)
	for i, s := range streams {
		if out[i] == nil {
			out[i] = res.errFor(s)
		}
	}
	return out
}
