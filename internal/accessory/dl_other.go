//go:build !(darwin || (linux && (amd64 || arm64)))

package accessory

import (
	"runtime"

	"github.com/tphakala/audiorm/internal/errors"
)

func unsupported() error {
	return errors.Newf("native plugins are not supported on %s/%s", runtime.GOOS, runtime.GOARCH).
		Category(errors.CategoryPlugin).
		Build()
}

func dlopen(string) (uintptr, error) { return 0, unsupported() }
func dlsym(uintptr, string) (uintptr, error) { return 0, unsupported() }
func dlclose(uintptr) error { return nil }
func bind(*Library, *NativePlugin) error { return unsupported() }
func trampolines() (bitrate, mtu uintptr) { return 0, 0 }
