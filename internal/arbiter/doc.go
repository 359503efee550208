// Package arbiter arbitrates shared audio backends among concurrently
// open streams.
//
// A single ResourceManager owns every table:
//
//   - the device instance cache (one *device.Device per id)
//   - the association table of (device, stream) pairs
//   - the echo reference map keyed by (capture device, render device)
//   - the capture profile arbiter for trigger detection streams, with the
//     deferred LPI/NLPI latch
//   - the device switch transaction engine and attribute negotiation
//   - the accessory suspend/resume migrator
//
// Lock order, outermost first:
//
//	switchMu  admission; one transaction, suspend or resume at a time
//	stream    Stream.Lock, in touched-set order
//	activeMu  open stream list, trigger lists, power latch
//	ecMu      echo reference map
//	mu        device cache, association table
//	leaf      device and stream state locks
//
// Streams never hold their own lock while calling into the manager except
// from ConnectDevice and DisconnectDevice, which the engine invokes with
// the lock held and which only call GetInstance, RegisterDevice and
// DeregisterDevice.
package arbiter
