//go:build darwin || (linux && (amd64 || arm64))

package accessory

import (
	"sync"

	"github.com/ebitengine/purego"
)

func dlopen(path string) (uintptr, error) {
	return purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
}

func dlsym(handle uintptr, name string) (uintptr, error) {
	return purego.Dlsym(handle, name)
}

func dlclose(handle uintptr) error {
	return purego.Dlclose(handle)
}

// bind resolves every entry point before registering any, so a missing
// symbol leaves p untouched.
func bind(lib *Library, p *NativePlugin) error {
	targets := []struct {
		name string
		fptr any
	}{
		{symOpen, &p.open},
		{symClose, &p.close},
		{symStart, &p.start},
		{symStop, &p.stop},
		{symSuspend, &p.suspend},
		{symGetCodecConfig, &p.getCodecConfig},
		{symIsReady, &p.isReady},
		{symRegisterCallbacks, &p.registerCallbacks},
	}
	addrs := make([]uintptr, len(targets))
	for i, t := range targets {
		sym, err := lib.Symbol(t.name)
		if err != nil {
			return err
		}
		addrs[i] = sym
	}
	for i, t := range targets {
		purego.RegisterFunc(t.fptr, addrs[i])
	}
	return nil
}

// purego callbacks are never freed, so one pair serves every plugin.
var (
	trampolineOnce sync.Once
	bitrateTramp   uintptr
	mtuTramp       uintptr
)

func trampolines() (bitrate, mtu uintptr) {
	trampolineOnce.Do(func() {
		bitrateTramp = purego.NewCallback(func(cookie uint64, value uint32) {
			route(notifyBitrate, cookie, value)
		})
		mtuTramp = purego.NewCallback(func(cookie uint64, value uint32) {
			route(notifyMTU, cookie, value)
		})
	})
	return bitrateTramp, mtuTramp
}
