//go:build !unix

package snapshot

import (
	"errors"
	"os"
)

// dirWritable probes by creating and removing a temporary file.
func dirWritable(dir string) (bool, error) {
	f, err := os.CreateTemp(dir, ".surveysync-probe-*")
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return false, nil
		}
		return false, err
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true, nil
}
