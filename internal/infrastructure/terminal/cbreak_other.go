//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package terminal

import "os"

// Cbreak is unsupported here; input stays line buffered.
func Cbreak(f *os.File) (restore func() error, err error) {
	return noop, nil
}
