//go:build !linux

package common

import "go.uber.org/zap"

// runLowPriority runs fn unchanged; only Linux can renice a single thread.
func runLowPriority(_ *zap.Logger, fn func() (BackupResult, error)) (BackupResult, error) {
	return fn()
}
