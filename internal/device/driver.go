package device

import (
	"context"
	"sync"
)

// Driver programs the hardware behind a device. Calls are serialised by
// the owning Device.
type Driver interface {
	Open(ctx context.Context, attrs Attributes) error
	Start(ctx context.Context) error
	Stop() error
	Close() error
	IsReady() bool
}

// Suspender is implemented by drivers whose link can be paused in place.
type Suspender interface {
	Suspend(suspend bool) error
}

// LinkConfigurer is implemented by drivers whose running configuration is
// dictated by the link rather than by negotiation.
type LinkConfigurer interface {
	LinkConfig() (Config, error)
}

// LinkReporter is implemented by drivers with asynchronous link
// notifications.
type LinkReporter interface {
	SetLinkHandler(h func(p Param, value uint32))
}

// ECRefSetter is implemented by drivers that can route an echo reference
// from a render device.
type ECRefSetter interface {
	SetECRef(render ID, enable bool) error
}

// Nop is a driver for endpoints with no programmable hardware. It records
// the calls it receives.
type Nop struct {
	mu    sync.Mutex
	calls []string
	ready bool
}

// NewNop returns a ready Nop driver.
func NewNop() *Nop {
	return &Nop{ready: true}
}

func (n *Nop) record(c string) {
	n.mu.Lock()
	n.calls = append(n.calls, c)
	n.mu.Unlock()
}

func (n *Nop) Open(ctx context.Context, _ Attributes) error {
	n.record("open")
	return ctx.Err()
}

func (n *Nop) Start(ctx context.Context) error {
	n.record("start")
	return ctx.Err()
}

func (n *Nop) Stop() error  { n.record("stop"); return nil }
func (n *Nop) Close() error { n.record("close"); return nil }

func (n *Nop) IsReady() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ready
}

// SetReady flips readiness.
func (n *Nop) SetReady(ready bool) {
	n.mu.Lock()
	n.ready = ready
	n.mu.Unlock()
}

// Calls returns the recorded call sequence.
func (n *Nop) Calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...)
}

// Factory creates the driver for a device.
type Factory func(info Info) Driver

// NopFactory gives every device a Nop driver.
func NopFactory(Info) Driver { return NewNop() }
