package catalogue

import (
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// Lock takes the advisory run lock for the catalogue at path, polling until
// timeout. The returned func releases it.
func Lock(path string, timeout time.Duration) (func(), error) {
	lockPath := path + ".lock"
	l := flock.New(lockPath)
	deadline := time.Now().Add(timeout)
	for {
		locked, err := l.TryLock()
		if err != nil {
			return func() {}, fmt.Errorf("cannot acquire catalogue lock: %w", err)
		}
		if locked {
			return func() { _ = l.Unlock() }, nil
		}
		if time.Now().After(deadline) {
			return func() {}, fmt.Errorf("%w (lock: %s)", ErrLocked, lockPath)
		}
		time.Sleep(200 * time.Millisecond)
	}
}
