//go:build govips && cgo

package pipeline

import (
	"runtime"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

// Backend names the lossy encoder compiled into this binary.
const Backend = "govips"

var vipsRuntime struct {
	once    sync.Once
	mu      sync.Mutex
	running bool
}

// Startup boots libvips once per process. Later calls, including calls after
// Shutdown, are no-ops.
func Startup() error {
	vipsRuntime.once.Do(func() {
		vips.LoggingSettings(nil, vips.LogLevelWarning)
		vips.Startup(&vips.Config{
			ConcurrencyLevel: runtime.NumCPU(),
			MaxCacheFiles:    0,
			MaxCacheMem:      64 << 20,
			MaxCacheSize:     50,
		})

		vipsRuntime.mu.Lock()
		vipsRuntime.running = true
		vipsRuntime.mu.Unlock()
	})
	return nil
}

func Shutdown() {
	vipsRuntime.mu.Lock()
	defer vipsRuntime.mu.Unlock()
	if vipsRuntime.running {
		vips.Shutdown()
		vipsRuntime.running = false
	}
}

func newLossyEncoder() (lossyEncoder, error) {
	if err := Startup(); err != nil {
		return nil, err
	}
	return govipsLossy{}, nil
}
