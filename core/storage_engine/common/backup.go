// Package common holds storage helpers shared by the index tools.
package common

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// chunkSize: size of each read/write chunk
const chunkSize = 4 * 1024 * 1024 // 4 MiB

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, chunkSize)
		return &b
	},
}

// BackupResult describes a finished copy.
type BackupResult struct {
	Bytes    int64
	SHA256   []byte // set when the copy was verified
	Duration time.Duration
}

// CopyThrottled copies srcPath to dstPath at no more than rateBytesPerSec
// (0 means unlimited). The copy is written next to dstPath and renamed into
// place once synced. With verify set, the written file is read back and its
// SHA-256 compared with the source stream. The copy runs at the lowest CPU
// priority where the platform can confine that to the copying thread.
func CopyThrottled(ctx context.Context, logger *zap.Logger, srcPath, dstPath string, rateBytesPerSec int64, verify bool) (BackupResult, error) {
	if rateBytesPerSec < 0 {
		return BackupResult{}, fmt.Errorf("%w: %d", ErrInvalidRate, rateBytesPerSec)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return runLowPriority(logger, func() (BackupResult, error) {
		return copyThrottled(ctx, logger, srcPath, dstPath, rateBytesPerSec, verify)
	})
}

func copyThrottled(ctx context.Context, logger *zap.Logger, srcPath, dstPath string, rateBytesPerSec int64, verify bool) (BackupResult, error) {
	start := time.Now()

	src, err := os.Open(srcPath)
	if err != nil {
		return BackupResult{}, fmt.Errorf("open src: %w", err)
	}
	defer src.Close()

	tmpPath := dstPath + ".tmp"
	dst, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return BackupResult{}, fmt.Errorf("open dst: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = dst.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	// burst = chunkSize so a full chunk can always be admitted
	var limiter *rate.Limiter
	if rateBytesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(rateBytesPerSec), chunkSize)
	}

	var srcSum hash.Hash
	if verify {
		srcSum = sha256.New()
	}

	var readOff int64
	for {
		bp := bufPool.Get().(*[]byte)
		buf := *bp
		n, rerr := src.ReadAt(buf[:chunkSize], readOff)
		if n > 0 {
			if limiter != nil {
				if err := limiter.WaitN(ctx, n); err != nil {
					bufPool.Put(bp)
					return BackupResult{}, fmt.Errorf("rate limiter error: %w", err)
				}
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				bufPool.Put(bp)
				return BackupResult{}, fmt.Errorf("write error: %w", werr)
			}
			if srcSum != nil {
				srcSum.Write(buf[:n])
			}
			readOff += int64(n)
		}
		bufPool.Put(bp)

		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			return BackupResult{}, fmt.Errorf("read error: %w", rerr)
		}
		if err := ctx.Err(); err != nil {
			return BackupResult{}, err
		}
	}

	if err := dst.Sync(); err != nil {
		return BackupResult{}, fmt.Errorf("sync error: %w", err)
	}
	if err := dst.Close(); err != nil {
		return BackupResult{}, fmt.Errorf("close error: %w", err)
	}

	res := BackupResult{Bytes: readOff}
	if verify {
		want := srcSum.Sum(nil)
		got, err := fileSHA256(tmpPath)
		if err != nil {
			return BackupResult{}, err
		}
		if !bytes.Equal(want, got) {
			return BackupResult{}, fmt.Errorf("%w: source %x, copy %x", ErrChecksumMismatch, want, got)
		}
		res.SHA256 = got
	}

	if err := os.Rename(tmpPath, dstPath); err != nil {
		return BackupResult{}, fmt.Errorf("rename: %w", err)
	}
	committed = true
	res.Duration = time.Since(start)

	logger.Info("backup complete",
		zap.String("src", srcPath),
		zap.String("dst", dstPath),
		zap.Int64("bytes", res.Bytes),
		zap.Duration("duration", res.Duration),
		zap.Bool("verified", verify),
	)
	return res, nil
}

func fileSHA256(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open for verify: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("read for verify: %w", err)
	}
	return h.Sum(nil), nil
}
