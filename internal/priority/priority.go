// Package priority raises the scheduling priority of the supervisor process.
// The worker inherits both the CPU niceness and the I/O class, so raising
// them once before the first launch covers every relaunch.
package priority

import "errors"

// ErrUnsupported is returned on platforms without priority control.
var ErrUnsupported = errors.New("process priority adjustment is only supported on linux")
