package packarchive

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dataloom/packarchive/errors"
	"github.com/dataloom/packarchive/log"
)

// DefaultPrefetchWindow is the default number of block reads kept in
// flight by PrefetchIter.
const DefaultPrefetchWindow = 8

// blockResult is one block's read-and-slice outcome, keyed by its position
// in the iteration order so prefetchQueue can restore that order on
// dequeue.
type blockResult struct {
	kvs []KeyValue
	err error
}

// prefetchQueue accepts blockResults out of order, keyed by sequence
// index, and dequeues them strictly in order, blocking an insert that
// would overfill the queue unless it is the next value due out. This is
// the same approach as a bounded order-restoring queue built on a
// sync.Cond: at most maxSize results are held pending at any time.
type prefetchQueue struct {
	nextIdx int
	maxSize int
	pending map[int]blockResult
	cond    *sync.Cond
	closed  bool
}

func newPrefetchQueue(maxSize int) *prefetchQueue {
	return &prefetchQueue{
		maxSize: maxSize,
		pending: make(map[int]blockResult),
		cond:    sync.NewCond(&sync.Mutex{}),
	}
}

func (q *prefetchQueue) insert(index int, value blockResult) {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	_, haveNext := q.pending[q.nextIdx]
	for (haveNext && len(q.pending) == q.maxSize) ||
		(!haveNext && index != q.nextIdx && len(q.pending) == q.maxSize-1) {
		q.cond.Wait()
		_, haveNext = q.pending[q.nextIdx]
	}
	q.pending[index] = value
	if index == q.nextIdx {
		q.cond.Broadcast()
	}
}

func (q *prefetchQueue) closeQueue() {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// dequeue blocks until the next result in sequence is available, or the
// queue is closed with no more results pending.
func (q *prefetchQueue) dequeue() (blockResult, bool) {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	value, found := q.pending[q.nextIdx]
	for !found && !q.closed {
		q.cond.Wait()
		value, found = q.pending[q.nextIdx]
	}
	if !found {
		return blockResult{}, false
	}
	delete(q.pending, q.nextIdx)
	q.nextIdx++
	q.cond.Broadcast()
	return value, true
}

// PrefetchIter builds an Iterator backed by a bounded-concurrency worker
// pool: up to window block reads are in flight at once, but results are
// yielded in the same order Iter would yield them in. It is intended for
// data sources with high per-read latency (e.g. package s3source); for
// local files the synchronous Iter path is normally preferable.
func (r *Reader) PrefetchIter(ctx context.Context, window int) *Iterator {
	if window < 1 {
		return &Iterator{err: errors.E(errors.Invalid, "prefetch window must be at least 1")}
	}
	blocks, err := r.collector.Order(r.header)
	if err != nil {
		return &Iterator{err: err}
	}
	queue := newPrefetchQueue(window)
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, window)
	go func() {
		for i, block := range blocks {
			i, block := i, block
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				queue.insert(i, blockResult{err: errors.E(errors.Canceled, "prefetch canceled", gctx.Err())})
				continue
			}
			g.Go(func() error {
				defer func() { <-sem }()
				res := readBlock(gctx, r, block)
				queue.insert(i, res)
				if res.err != nil {
					log.Error.Printf("packarchive: prefetch block read failed: %v", res.err)
					return res.err
				}
				return nil
			})
		}
		_ = g.Wait()
		queue.closeQueue()
	}()
	log.Debug.Printf("packarchive: prefetching %d blocks with window %d", len(blocks), window)
	return &Iterator{reader: r, queue: queue}
}

// readBlock reads and slices one block, wrapping any error into a
// blockResult so prefetchQueue can carry it through to the consumer in
// order. It reads through ReadContext so that a read already dispatched to
// a ContextSource (e.g. package s3source) aborts promptly on ctx
// cancellation, rather than only gating reads not yet started.
func readBlock(ctx context.Context, r *Reader, block Block) blockResult {
	buf, err := block.ReadContext(ctx, r.source, r.headerSize)
	if err != nil {
		return blockResult{err: err}
	}
	return blockResult{kvs: block.ToSlice(buf)}
}
