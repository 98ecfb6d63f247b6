package common

import (
	"runtime"
	"syscall"

	"go.uber.org/zap"
)

// backupNiceness is the lowest scheduling priority.
const backupNiceness = 19

// runLowPriority runs fn on a dedicated OS thread reniced to backupNiceness.
// The thread stays locked, so the runtime retires it with the goroutine and
// no other goroutine ever runs at the lowered priority.
func runLowPriority(logger *zap.Logger, fn func() (BackupResult, error)) (BackupResult, error) {
	type result struct {
		res BackupResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		runtime.LockOSThread()
		if err := syscall.Setpriority(syscall.PRIO_PROCESS, syscall.Gettid(), backupNiceness); err != nil {
			logger.Debug("could not lower backup priority", zap.Error(err))
		}
		res, err := fn()
		done <- result{res: res, err: err}
	}()
	r := <-done
	return r.res, r.err
}
