package packarchive

import (
	"github.com/dataloom/packarchive/log"
)

// DefaultBlockSize is the default Size criterion threshold used when a
// Reader is not otherwise configured, tuned for the larger end of typical
// data-loader record sizes.
const DefaultBlockSize = 100 << 10

// Reader is the configuration surface and iterator factory for reading an
// archive: it holds a parsed Header and a Source, plus a Collector built up
// through its builder-style methods. A Reader is exclusively owned by one
// consumer; it is not safe for concurrent use, though distinct Readers may
// share an underlying archive file read-only.
type Reader struct {
	source     Source
	header     *Header
	headerSize uint64
	collector  *Collector
}

// Open opens the local archive at path and parses its header.
func Open(path string) (*Reader, error) {
	source, err := OpenLocalSource(path)
	if err != nil {
		return nil, err
	}
	return OpenSource(source)
}

// OpenSource parses the header of an archive already available through an
// arbitrary Source (for example, one backed by package s3source).
func OpenSource(source Source) (*Reader, error) {
	header, err := ReadHeader(source)
	if err != nil {
		return nil, err
	}
	return &Reader{
		source:     source,
		header:     header,
		headerSize: capacityPrefixBytes + header.MaxSize(),
		collector:  BySize(DefaultBlockSize),
	}, nil
}

// Header returns the Reader's parsed Header.
func (r *Reader) Header() *Header { return r.header }

// Close releases the Reader's underlying Source, if it implements
// io.Closer (as LocalSource does). Sources without a Close method, such as
// s3source.Source, are left untouched.
func (r *Reader) Close() error {
	if c, ok := r.source.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// BySize configures the Reader to group entries into blocks by cumulative
// payload size, greedily extending each block up to threshold bytes.
func (r *Reader) BySize(threshold uint64) *Reader {
	r.collector = BySize(threshold)
	return r
}

// ByCount configures the Reader to group a fixed count of entries per
// block.
func (r *Reader) ByCount(count int) *Reader {
	r.collector = ByCount(count)
	return r
}

// WithShuffling enables a non-deterministic (time-seeded) shuffle of block
// order.
func (r *Reader) WithShuffling() *Reader {
	r.collector.WithShuffling()
	return r
}

// WithShufflingSeed enables a reproducible, seeded shuffle of block order.
func (r *Reader) WithShufflingSeed(seed int64) *Reader {
	r.collector.WithShufflingSeed(seed)
	return r
}

// WithSharding restricts iteration to one shard of worldSize. It requires
// 0 <= rank < worldSize.
func (r *Reader) WithSharding(rank, worldSize int) (*Reader, error) {
	if _, err := r.collector.WithSharding(rank, worldSize); err != nil {
		return nil, err
	}
	return r, nil
}

// Iterator yields (key, value) pairs, one block read at a time, in the
// order determined by the Reader's configured Collector.
type Iterator struct {
	reader *Reader
	blocks []Block
	pos    int
	buf    []KeyValue
	bufPos int
	err    error

	// queue, when non-nil, drives the iterator from PrefetchIter instead
	// of reading blocks synchronously from reader.source.
	queue *prefetchQueue
}

// Iter builds a fresh Iterator over the Reader's current configuration.
// Calling Iter again (e.g. after exhausting a shuffled iterator) produces a
// new shuffled order if shuffling is enabled without an explicit seed.
func (r *Reader) Iter() *Iterator {
	blocks, err := r.collector.Order(r.header)
	if err != nil {
		return &Iterator{err: err}
	}
	log.Debug.Printf("packarchive: iterating %d blocks", len(blocks))
	return &Iterator{reader: r, blocks: blocks}
}

// Next advances the iterator and returns the next (key, value) pair. It
// returns ok=false, err=nil at end of iteration, and ok=false with a
// non-nil err if a block read failed.
func (it *Iterator) Next() (kv KeyValue, ok bool, err error) {
	if it.err != nil {
		return KeyValue{}, false, it.err
	}
	for it.bufPos >= len(it.buf) {
		if it.queue != nil {
			res, ok := it.queue.dequeue()
			if !ok {
				return KeyValue{}, false, nil
			}
			if res.err != nil {
				it.err = res.err
				return KeyValue{}, false, res.err
			}
			it.buf = res.kvs
			it.bufPos = 0
			continue
		}
		if it.pos >= len(it.blocks) {
			return KeyValue{}, false, nil
		}
		block := it.blocks[it.pos]
		it.pos++
		buf, err := block.Read(it.reader.source, it.reader.headerSize)
		if err != nil {
			it.err = err
			return KeyValue{}, false, err
		}
		log.Debug.Printf("packarchive: read block of %d entries", block.NumEntries())
		it.buf = block.ToSlice(buf)
		it.bufPos = 0
	}
	kv = it.buf[it.bufPos]
	it.bufPos++
	return kv, true, nil
}
