package packarchive

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/dataloom/packarchive/errors"
)

// criterion groups header positions into I/O units. Given a header and a
// starting position, it returns the exclusive end of the next block.
type criterion interface {
	next(h *Header, start int) (hi int, err error)
}

// sizeCriterion groups entries greedily: starting at a position, it
// extends the block while the cumulative payload length stays at or below
// threshold, always including at least one entry.
type sizeCriterion struct {
	threshold uint64
}

func (c sizeCriterion) next(h *Header, start int) (int, error) {
	n := h.Count()
	if start < 0 || start >= n {
		return 0, errors.E(errors.IndexOutOfBounds, fmt.Sprintf(
			"collector: start position %d out of range [0, %d)", start, n))
	}
	var cumulative uint64
	hi := start
	for hi < n {
		length := h.entries[hi].Length
		if hi > start && cumulative+length > c.threshold {
			break
		}
		cumulative += length
		hi++
	}
	return hi, nil
}

// countCriterion groups a fixed number of entries per block, except
// possibly the last, which may be shorter.
type countCriterion struct {
	count int
}

func (c countCriterion) next(h *Header, start int) (int, error) {
	n := h.Count()
	if start < 0 || start >= n {
		return 0, errors.E(errors.IndexOutOfBounds, fmt.Sprintf(
			"collector: start position %d out of range [0, %d)", start, n))
	}
	hi := start + c.count
	if hi > n {
		hi = n
	}
	return hi, nil
}

// Collector partitions a Header into Blocks according to a size or count
// criterion, then optionally shuffles and shards the resulting block
// order.
type Collector struct {
	crit     criterion
	shuffle  bool
	hasSeed  bool
	seed     int64
	hasShard bool
	rank     int
	worldSz  int
}

// BySize returns a Collector that groups entries by cumulative payload
// size, greedily extending each block while its running length stays at
// or below threshold (always including at least one entry).
func BySize(threshold uint64) *Collector {
	return &Collector{crit: sizeCriterion{threshold: threshold}}
}

// ByCount returns a Collector that groups a fixed count entries per block.
func ByCount(count int) *Collector {
	return &Collector{crit: countCriterion{count: count}}
}

// WithShuffling enables a Fisher-Yates shuffle of the block order, seeded
// from the current time. Iteration order is thus non-deterministic; use
// WithShufflingSeed for reproducible orderings.
func (c *Collector) WithShuffling() *Collector {
	c.shuffle = true
	c.hasSeed = false
	return c
}

// WithShufflingSeed enables a Fisher-Yates shuffle of the block order using
// the given seed, producing a reproducible order for a given header and
// block partition.
func (c *Collector) WithShufflingSeed(seed int64) *Collector {
	c.shuffle = true
	c.hasSeed = true
	c.seed = seed
	return c
}

// WithSharding restricts iteration to blocks whose index in the unshuffled
// block list is congruent to rank modulo worldSize. The filter is applied
// after any shuffle and preserves the shuffled relative order of retained
// blocks. It requires 0 <= rank < worldSize.
func (c *Collector) WithSharding(rank, worldSize int) (*Collector, error) {
	if worldSize <= 0 {
		return nil, errors.E(errors.Invalid, "collector: world size must be greater than zero")
	}
	if rank < 0 || rank >= worldSize {
		return nil, errors.E(errors.Invalid, fmt.Sprintf(
			"collector: rank %d out of range [0, %d)", rank, worldSize))
	}
	c.hasShard = true
	c.rank = rank
	c.worldSz = worldSize
	return c, nil
}

// Collect partitions h's entries into the full list of Blocks, in header
// (unshuffled, unsharded) order: repeatedly applying the criterion from
// position 0, advancing by the size of the last block, until every
// position is covered.
func (c *Collector) Collect(h *Header) ([]Block, error) {
	n := h.Count()
	blocks := make([]Block, 0, n)
	for start := 0; start < n; {
		hi, err := c.crit.next(h, start)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, Block{header: h, lo: start, hi: hi})
		start = hi
	}
	return blocks, nil
}

// Order returns the blocks of h in this Collector's final iteration order:
// partitioned by the configured criterion, then shuffled and sharded per
// the configured options.
func (c *Collector) Order(h *Header) ([]Block, error) {
	blocks, err := c.Collect(h)
	if err != nil {
		return nil, err
	}
	perm := make([]int, len(blocks))
	for i := range perm {
		perm[i] = i
	}
	if c.shuffle {
		seed := c.seed
		if !c.hasSeed {
			seed = time.Now().UnixNano()
		}
		shuffleInPlace(perm, rand.New(rand.NewSource(seed)))
	}
	if c.hasShard {
		kept := perm[:0:0]
		for _, i := range perm {
			if i%c.worldSz == c.rank {
				kept = append(kept, i)
			}
		}
		perm = kept
	}
	ordered := make([]Block, len(perm))
	for i, idx := range perm {
		ordered[i] = blocks[idx]
	}
	return ordered, nil
}

// shuffleInPlace performs a Fisher-Yates shuffle of perm using rng.
func shuffleInPlace(perm []int, rng *rand.Rand) {
	for i := len(perm) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		perm[i], perm[j] = perm[j], perm[i]
	}
}
