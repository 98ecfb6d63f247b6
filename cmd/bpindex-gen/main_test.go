package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sushant-115/bpindex/pkg/records"
)

func TestGenerate(t *testing.T) {
	recs, deletes, err := generate(200, 10, 50, 0.5)
	require.NoError(t, err)
	require.Len(t, recs, 200)

	inserted := make(map[int64]bool)
	for _, r := range recs {
		assert.GreaterOrEqual(t, r.Key, int64(10))
		assert.Less(t, r.Key, int64(50))
		inserted[r.Key] = true
	}
	require.Len(t, deletes, 100+11)
	for _, k := range deletes[:100] {
		assert.True(t, inserted[k], "key %d was inserted", k)
	}
	for _, k := range deletes[100:] {
		assert.False(t, inserted[k], "key %d was never inserted", k)
	}
}

func TestGenerate_Rejects(t *testing.T) {
	_, _, err := generate(10, 5, 5, 0.1)
	require.Error(t, err)
	_, _, err = generate(10, 0, 5, 1.5)
	require.Error(t, err)
}

func TestWriteCSV(t *testing.T) {
	recs, deletes, err := generate(20, 0, 1000, 0.25)
	require.NoError(t, err)
	dir := t.TempDir()
	ins := filepath.Join(dir, "insert.csv")
	del := filepath.Join(dir, "delete.csv")
	require.NoError(t, writeCSV(ins, func(f *os.File) error { return records.Write(f, recs) }))
	require.NoError(t, writeCSV(del, func(f *os.File) error { return records.WriteKeys(f, deletes) }))

	f, err := os.Open(ins)
	require.NoError(t, err)
	defer f.Close()
	got, err := records.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, recs, got)

	g, err := os.Open(del)
	require.NoError(t, err)
	defer g.Close()
	keys, err := records.ReadKeys(g)
	require.NoError(t, err)
	assert.Equal(t, deletes, keys)
}
