package packarchive_test

import (
	"testing"

	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"

	"github.com/dataloom/packarchive"
)

// memSource is an in-memory packarchive.Source, used to exercise Block and
// Collector without touching the filesystem.
type memSource []byte

func (m memSource) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, m[off:])
	if n != len(p) {
		return n, assertShortRead
	}
	return n, nil
}

func (m memSource) Size() (int64, error) { return int64(len(m)), nil }

var assertShortRead = packarchiveShortReadError{}

type packarchiveShortReadError struct{}

func (packarchiveShortReadError) Error() string { return "short read" }

func buildHeaderAndData(t *testing.T, values [][]byte) (*packarchive.Header, []byte) {
	t.Helper()
	h, err := packarchive.NewHeader(4096)
	assert.NoError(t, err)
	var data []byte
	for i, v := range values {
		_, err := h.Insert(keyFor(i), uint64(len(v)))
		assert.NoError(t, err)
		data = append(data, v...)
	}
	return h, data
}

func TestCollectorBySize(t *testing.T) {
	values := [][]byte{
		make([]byte, 10), make([]byte, 10), make([]byte, 10),
		make([]byte, 10), make([]byte, 10), make([]byte, 10),
		make([]byte, 10), make([]byte, 10), make([]byte, 10),
		make([]byte, 10),
	}
	h, _ := buildHeaderAndData(t, values)
	blocks, err := packarchive.BySize(35).Collect(h)
	assert.NoError(t, err)

	total := 0
	for _, b := range blocks {
		total += b.NumEntries()
		expect.True(t, b.NumEntries() > 0)
	}
	assert.EQ(t, total, h.Count())
}

func TestCollectorByCount(t *testing.T) {
	values := make([][]byte, 10)
	for i := range values {
		values[i] = []byte{byte(i)}
	}
	h, _ := buildHeaderAndData(t, values)
	blocks, err := packarchive.ByCount(3).Collect(h)
	assert.NoError(t, err)
	assert.EQ(t, len(blocks), 4) // 3,3,3,1
	assert.EQ(t, blocks[3].NumEntries(), 1)
}

func TestCollectorPartition(t *testing.T) {
	values := make([][]byte, 17)
	for i := range values {
		values[i] = []byte{byte(i), byte(i)}
	}
	h, _ := buildHeaderAndData(t, values)
	blocks, err := packarchive.BySize(5).Collect(h)
	assert.NoError(t, err)
	pos := 0
	for _, b := range blocks {
		expect.True(t, b.NumEntries() > 0)
		pos += b.NumEntries()
	}
	assert.EQ(t, pos, h.Count())
}

func TestBlockReadAndToSlice(t *testing.T) {
	values := [][]byte{[]byte("foo"), []byte("barbaz"), []byte("q")}
	h, data := buildHeaderAndData(t, values)
	source := memSource(append(make([]byte, 8+h.MaxSize()), data...))

	blocks, err := packarchive.ByCount(3).Collect(h)
	assert.NoError(t, err)
	assert.EQ(t, len(blocks), 1)

	buf, err := blocks[0].Read(source, 8+h.MaxSize())
	assert.NoError(t, err)
	kvs := blocks[0].ToSlice(buf)
	assert.EQ(t, len(kvs), 3)
	assert.EQ(t, string(kvs[0].Value), "foo")
	assert.EQ(t, string(kvs[1].Value), "barbaz")
	assert.EQ(t, string(kvs[2].Value), "q")
	assert.EQ(t, kvs[0].Key, "a")
	assert.EQ(t, kvs[1].Key, "b")
	assert.EQ(t, kvs[2].Key, "c")
}

func TestShardingDisjointness(t *testing.T) {
	values := make([][]byte, 100)
	for i := range values {
		values[i] = []byte{byte(i)}
	}
	h, _ := buildHeaderAndData(t, values)

	const worldSize = 3
	seen := make(map[string]int)
	total := 0
	for rank := 0; rank < worldSize; rank++ {
		c, err := packarchive.ByCount(7).WithSharding(rank, worldSize)
		assert.NoError(t, err)
		blocks, err := c.Order(h)
		assert.NoError(t, err)
		for _, b := range blocks {
			for _, key := range b.Keys() {
				seen[key]++
				total++
			}
		}
	}
	assert.EQ(t, total, len(values))
	assert.EQ(t, len(seen), len(values))
	for key, count := range seen {
		if count != 1 {
			t.Fatalf("key %q assigned to %d shards, want exactly 1", key, count)
		}
	}
}

func TestShuffleDeterministicWithSeed(t *testing.T) {
	values := make([][]byte, 50)
	for i := range values {
		values[i] = []byte{byte(i)}
	}
	h, _ := buildHeaderAndData(t, values)

	c1 := packarchive.ByCount(3).WithShufflingSeed(42)
	order1, err := c1.Order(h)
	assert.NoError(t, err)

	c2 := packarchive.ByCount(3).WithShufflingSeed(42)
	order2, err := c2.Order(h)
	assert.NoError(t, err)

	assert.EQ(t, len(order1), len(order2))
	for i := range order1 {
		start1, end1 := order1[i].ByteRange(0)
		start2, end2 := order2[i].ByteRange(0)
		assert.EQ(t, start1, start2)
		assert.EQ(t, end1, end2)
	}
}

func TestCollectorEmptyHeader(t *testing.T) {
	h, err := packarchive.NewHeader(1024)
	assert.NoError(t, err)
	blocks, err := packarchive.BySize(10).Collect(h)
	assert.NoError(t, err)
	assert.EQ(t, len(blocks), 0)

	blocks, err = packarchive.ByCount(10).Collect(h)
	assert.NoError(t, err)
	assert.EQ(t, len(blocks), 0)
}
