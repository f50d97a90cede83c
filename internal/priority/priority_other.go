//go:build !linux

package priority

// Raise is a no-op outside Linux.
func Raise() error {
	return ErrUnsupported
}
