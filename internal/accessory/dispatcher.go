package accessory

import (
	"context"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/tphakala/audiorm/internal/logger"
)

type notifyKind uint8

const (
	notifyBitrate notifyKind = iota
	notifyMTU
)

func (k notifyKind) String() string {
	if k == notifyMTU {
		return "mtu"
	}
	return "bitrate"
}

type notification struct {
	kind   notifyKind
	cookie uint64
	value  uint32
}

// DefaultDispatchQueue is the notification backlog per dispatcher.
const DefaultDispatchQueue = 32

// Plugin callbacks arrive on foreign threads with only an opaque cookie.
// owners maps the cookie to the dispatcher that registered it.
var (
	nextCookie atomic.Uint64
	owners     = xsync.NewMapOf[uint64, *Dispatcher]()
)

// Dispatcher moves plugin notifications off the plugin's thread and
// delivers them, in order, from a single goroutine.
type Dispatcher struct {
	queue   chan notification
	routes  *xsync.MapOf[uint64, Callbacks]
	dropped atomic.Uint64
	logger  logger.Logger
}

// NewDispatcher creates a dispatcher with the given queue size.
func NewDispatcher(queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultDispatchQueue
	}
	return &Dispatcher{
		queue:  make(chan notification, queueSize),
		routes: xsync.NewMapOf[uint64, Callbacks](),
		logger: GetLogger().Module("dispatch"),
	}
}

// Register installs callbacks and returns the cookie the plugin must
// pass back with every notification.
func (d *Dispatcher) Register(cb Callbacks) uint64 {
	cookie := nextCookie.Add(1)
	d.routes.Store(cookie, cb)
	owners.Store(cookie, d)
	return cookie
}

// Update replaces the callbacks behind an existing cookie.
func (d *Dispatcher) Update(cookie uint64, cb Callbacks) bool {
	if _, ok := d.routes.Load(cookie); !ok {
		return false
	}
	d.routes.Store(cookie, cb)
	return true
}

// Unregister drops a cookie; late notifications for it are discarded.
func (d *Dispatcher) Unregister(cookie uint64) {
	d.routes.Delete(cookie)
	owners.Delete(cookie)
}

// Dropped reports notifications discarded because the queue was full.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Run delivers queued notifications until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-d.queue:
			d.dispatch(n)
		}
	}
}

// enqueue never blocks; it runs on the plugin's thread.
func (d *Dispatcher) enqueue(n notification) bool {
	select {
	case d.queue <- n:
		return true
	default:
		d.dropped.Add(1)
		return false
	}
}

func (d *Dispatcher) dispatch(n notification) {
	cb, ok := d.routes.Load(n.cookie)
	if !ok {
		d.logger.Debug("notification for unknown cookie",
			logger.String("kind", n.kind.String()),
			logger.Int64("cookie", int64(n.cookie))) //nolint:gosec // cookies are small counters
		return
	}
	switch n.kind {
	case notifyBitrate:
		if cb.OnBitrate != nil {
			cb.OnBitrate(n.value)
		}
	case notifyMTU:
		if cb.OnMTU != nil {
			cb.OnMTU(n.value)
		}
	}
}

// route is the common landing point of the native trampolines.
func route(kind notifyKind, cookie uint64, value uint32) {
	if d, ok := owners.Load(cookie); ok {
		d.enqueue(notification{kind: kind, cookie: cookie, value: value})
	}
}
