package packarchive_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/grailbio/testutil/assert"

	"github.com/dataloom/packarchive"
)

// writeArchive builds an archive at a fresh temp path with the given
// (key, value) pairs, in order, and returns it for reading.
func writeArchive(t *testing.T, kvs []packarchive.KeyValue) string {
	t.Helper()
	path := tempArchivePath(t)
	w, err := packarchive.Create(path, 0, 4096)
	assert.NoError(t, err)
	for _, kv := range kvs {
		assert.NoError(t, w.Write(context.Background(), kv.Key, kv.Value))
	}
	assert.NoError(t, w.Close())
	return path
}

func drain(t *testing.T, it *packarchive.Iterator) []packarchive.KeyValue {
	t.Helper()
	var out []packarchive.KeyValue
	for {
		kv, ok, err := it.Next()
		assert.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, kv)
	}
}

func tenEntryPairs(n int, valueLen int) []packarchive.KeyValue {
	kvs := make([]packarchive.KeyValue, n)
	for i := range kvs {
		kvs[i] = packarchive.KeyValue{
			Key:   fmt.Sprintf("key-%03d", i),
			Value: make([]byte, valueLen),
		}
		for j := range kvs[i].Value {
			kvs[i].Value[j] = byte(i)
		}
	}
	return kvs
}

func TestReaderByCountOneYieldsEveryEntryInOrder(t *testing.T) {
	kvs := tenEntryPairs(20, 4)
	path := writeArchive(t, kvs)
	r, err := packarchive.Open(path)
	assert.NoError(t, err)
	defer r.Close() // nolint: errcheck

	got := drain(t, r.ByCount(1).Iter())
	assert.EQ(t, len(got), len(kvs))
	for i := range kvs {
		assert.EQ(t, got[i].Key, kvs[i].Key)
		assert.EQ(t, string(got[i].Value), string(kvs[i].Value))
	}
}

func TestReaderBySizeOverManySmallEntries(t *testing.T) {
	kvs := tenEntryPairs(100, 10)
	path := writeArchive(t, kvs)
	r, err := packarchive.Open(path)
	assert.NoError(t, err)
	defer r.Close() // nolint: errcheck

	got := drain(t, r.BySize(35).Iter())
	assert.EQ(t, len(got), len(kvs))
	for i := range kvs {
		assert.EQ(t, got[i].Key, kvs[i].Key)
	}
}

func TestReaderShardingCoversEveryEntryExactlyOnce(t *testing.T) {
	kvs := tenEntryPairs(21, 3)
	path := writeArchive(t, kvs)

	const worldSize = 3
	seen := make(map[string]int)
	for rank := 0; rank < worldSize; rank++ {
		r, err := packarchive.Open(path)
		assert.NoError(t, err)
		r.ByCount(7)
		r, err = r.WithSharding(rank, worldSize)
		assert.NoError(t, err)
		for _, kv := range drain(t, r.Iter()) {
			seen[kv.Key]++
		}
		assert.NoError(t, r.Close())
	}
	assert.EQ(t, len(seen), len(kvs))
	for key, count := range seen {
		if count != 1 {
			t.Fatalf("key %q seen %d times, want 1", key, count)
		}
	}
}

func TestReaderShufflePreservesMultiset(t *testing.T) {
	kvs := tenEntryPairs(30, 5)
	path := writeArchive(t, kvs)
	r, err := packarchive.Open(path)
	assert.NoError(t, err)
	defer r.Close() // nolint: errcheck

	got := drain(t, r.ByCount(4).WithShufflingSeed(7).Iter())
	assert.EQ(t, len(got), len(kvs))

	want := make(map[string]bool, len(kvs))
	for _, kv := range kvs {
		want[kv.Key] = true
	}
	seen := make(map[string]bool, len(got))
	for _, kv := range got {
		seen[kv.Key] = true
	}
	assert.EQ(t, len(seen), len(want))
	for key := range want {
		if !seen[key] {
			t.Fatalf("shuffled iteration dropped key %q", key)
		}
	}
}

func TestReaderOpenMissingFile(t *testing.T) {
	_, err := packarchive.Open(tempArchivePath(t))
	assert.NotNil(t, err)
}
