//go:build unix

package snapshot

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

func dirWritable(dir string) (bool, error) {
	err := unix.Access(dir, unix.W_OK|unix.X_OK)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EROFS), errors.Is(err, unix.EPERM):
		return false, nil
	default:
		return false, fmt.Errorf("%w: access %s: %w", ErrPersistence, dir, err)
	}
}
