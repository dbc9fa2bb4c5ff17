//go:build unix

package fsx

import (
	"errors"
	"syscall"
)

// isEXDEV 识别裸 Errno 以及 *os.LinkError / *os.PathError 包装后的 EXDEV。
func isEXDEV(err error) bool {
	var errno syscall.Errno
	return errors.As(err, &errno) && errno == syscall.EXDEV
}
