//go:build !govips || !cgo

package pipeline

// Backend names the lossy encoder compiled into this binary.
const Backend = "stdlib"

// Startup and Shutdown exist so callers can bracket the process the same way
// in every build.
func Startup() error { return nil }

func Shutdown() {}

func newLossyEncoder() (lossyEncoder, error) {
	return stdlibLossy{}, nil
}
