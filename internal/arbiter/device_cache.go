package arbiter

import (
	"github.com/tphakala/audiorm/internal/device"
	"github.com/tphakala/audiorm/internal/errors"
)

// GetInstance returns the shared device for id, creating it on first use.
// Unknown ids yield a not-found error; callers cannot route there.
func (rm *ResourceManager) GetInstance(id device.ID) (*device.Device, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.getInstanceLocked(id)
}

func (rm *ResourceManager) getInstanceLocked(id device.ID) (*device.Device, error) {
	if d, ok := rm.devices[id]; ok {
		return d, nil
	}
	info, ok := rm.infos[id]
	if !ok {
		return nil, errors.Newf("unknown device %q", id).
			Category(errors.CategoryNotFound).
			Context("device", string(id)).
			Build()
	}
	d := device.New(info, rm.driverFactory(info), rm.hw, rm.publisher)
	rm.devices[id] = d
	return d, nil
}

// lookup returns an existing instance without creating one.
func (rm *ResourceManager) lookup(id device.ID) *device.Device {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.devices[id]
}

// GetDeviceAttributes returns the negotiated attributes of id.
func (rm *ResourceManager) GetDeviceAttributes(id device.ID) (device.Attributes, error) {
	d, err := rm.GetInstance(id)
	if err != nil {
		return device.Attributes{}, err
	}
	return d.Attributes(), nil
}

// SetDeviceAttributes overwrites the negotiated attributes of id. Every
// stream holding the device observes the change.
func (rm *ResourceManager) SetDeviceAttributes(id device.ID, attrs device.Attributes) error {
	d, err := rm.GetInstance(id)
	if err != nil {
		return err
	}
	d.SetAttributes(attrs, d.Priority())
	return nil
}
