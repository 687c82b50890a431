package reconcile

import (
	"sort"
	"time"

	"github.com/renlav/payledger/internal/platform/ledger"
)

// blockActivity collects everything the ledger reports for a single block:
// TXOs received in it and TXOs whose spend landed in it. A single activity
// item can contribute to two different blocks.
type blockActivity struct {
	index    uint64
	received []ledger.ActivityItem
	spent    []ledger.ActivityItem
}

// timestamp returns the ledger-reported timestamp of the block, if any item
// carries one.
func (b *blockActivity) timestamp() *time.Time {
	for _, item := range b.received {
		if item.ReceivedBlock.Index == b.index && item.ReceivedBlock.Timestamp != nil {
			return item.ReceivedBlock.Timestamp
		}
	}
	for _, item := range b.spent {
		if item.SpentBlock != nil && item.SpentBlock.Index == b.index && item.SpentBlock.Timestamp != nil {
			return item.SpentBlock.Timestamp
		}
	}
	return nil
}

// groupByBlock buckets activity items into per-block activity, ascending by
// block index. Zero-value items must already be filtered out by the caller.
func groupByBlock(items []ledger.ActivityItem) []*blockActivity {
	byIndex := make(map[uint64]*blockActivity)
	get := func(index uint64) *blockActivity {
		block, ok := byIndex[index]
		if !ok {
			block = &blockActivity{index: index}
			byIndex[index] = block
		}
		return block
	}
	for _, item := range items {
		received := get(item.ReceivedBlock.Index)
		received.received = append(received.received, item)
		if item.SpentBlock != nil {
			spent := get(item.SpentBlock.Index)
			spent.spent = append(spent.spent, item)
		}
	}

	blocks := make([]*blockActivity, 0, len(byIndex))
	for _, block := range byIndex {
		blocks = append(blocks, block)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].index < blocks[j].index })
	return blocks
}

// guessTimestamps derives a timestamp for every block the ledger reports
// without one. The guess stays strictly before every later block with a known
// timestamp, keeping record ordering consistent with block ordering. Blocks
// with no later known timestamp get the current time.
func guessTimestamps(blocks []*blockActivity, now time.Time) map[uint64]time.Time {
	guesses := make(map[uint64]time.Time)
	var next *time.Time
	for i := len(blocks) - 1; i >= 0; i-- {
		block := blocks[i]
		if ts := block.timestamp(); ts != nil {
			if next == nil || ts.Before(*next) {
				next = ts
			}
			continue
		}
		var guess time.Time
		if next != nil {
			guess = next.Add(-time.Millisecond)
		} else {
			guess = now
		}
		guesses[block.index] = guess
		next = &guess
	}
	return guesses
}
