package indexmanager

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/bpindex/core/indexing/bptree"
	"go.uber.org/zap"
)

const benchWorkers = 16

func benchManager(b *testing.B, order int) *BPTreeIndexManager[int64, int64] {
	b.Helper()
	m, err := Create(filepath.Join(b.TempDir(), "bench.bpx"), order, bptree.Int64Serializer(), Options{Logger: zap.NewNop()})
	require.NoError(b, err)
	return m
}

// runBounded spreads n calls of fn over at most benchWorkers goroutines.
func runBounded(n int, fn func(i int)) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, benchWorkers)
	for i := 0; i < n; i++ {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			fn(i)
		}()
	}
	wg.Wait()
}

func BenchmarkPutConcurrent(b *testing.B) {
	for _, order := range []int{4, 32, 128} {
		b.Run(fmt.Sprintf("order=%d", order), func(b *testing.B) {
			m := benchManager(b, order)
			ctx := context.Background()
			b.ResetTimer()
			runBounded(b.N, func(i int) {
				if err := m.Put(ctx, int64(i), int64(i)); err != nil {
					b.Error(err)
				}
			})
		})
	}
}

func BenchmarkGetConcurrent(b *testing.B) {
	m := benchManager(b, 32)
	ctx := context.Background()
	const preload = 100_000
	_, err := m.InsertBatch(ctx, entries(0, preload))
	require.NoError(b, err)

	b.ResetTimer()
	runBounded(b.N, func(i int) {
		k := int64(i % preload)
		v, found := m.Get(ctx, k)
		if !found || v != k*100 {
			b.Errorf("key %d: got %d, %t", k, v, found)
		}
	})
}

func BenchmarkGetRange(b *testing.B) {
	m := benchManager(b, 32)
	ctx := context.Background()
	_, err := m.InsertBatch(ctx, entries(0, 100_000))
	require.NoError(b, err)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		lo := int64(i % 90_000)
		if _, err := m.GetRange(ctx, lo, lo+1000, 0); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSave(b *testing.B) {
	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "snappy"
		}
		b.Run(name, func(b *testing.B) {
			m, err := Create(filepath.Join(b.TempDir(), "bench.bpx"), 64, bptree.Int64Serializer(),
				Options{Logger: zap.NewNop(), Compress: compress})
			require.NoError(b, err)
			_, err = m.InsertBatch(context.Background(), entries(0, 50_000))
			require.NoError(b, err)

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := m.Save(context.Background()); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

