//go:build linux || darwin || freebsd || netbsd || openbsd

package terminal

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Cbreak switches f to unbuffered, no-echo input so single key presses reach
// the reader without Enter. Signal keys and output processing stay on. When f
// is not a terminal nothing changes and the returned restore is a no-op.
func Cbreak(f *os.File) (restore func() error, err error) {
	fd := int(f.Fd())
	old, err := unix.IoctlGetTermios(fd, ioctlReadTermios)
	if err != nil {
		if errors.Is(err, unix.ENOTTY) || errors.Is(err, unix.EINVAL) {
			return noop, nil
		}
		return nil, fmt.Errorf("read termios: %w", err)
	}

	t := *old
	t.Lflag &^= unix.ICANON | unix.ECHO
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, ioctlWriteTermios, &t); err != nil {
		return nil, fmt.Errorf("enable cbreak: %w", err)
	}
	return func() error {
		return unix.IoctlSetTermios(fd, ioctlWriteTermios, old)
	}, nil
}
