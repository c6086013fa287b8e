// Package snowflake generates 63-bit, time-ordered message ids. Because the
// millisecond timestamp occupies the high bits, ascending id order is
// ascending creation order, which the store relies on for backfill cursors.
package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	nodeBits  = 10
	stepBits  = 12
	nodeMax   = -1 ^ (-1 << nodeBits)
	stepMask  = -1 ^ (-1 << stepBits)
	timeShift = nodeBits + stepBits
	nodeShift = stepBits

	// Custom epoch: 2025-01-01 00:00:00 UTC.
	epoch int64 = 1735689600000
)

type Node struct {
	mu   sync.Mutex
	last int64
	node int64
	step int64
}

func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, errors.New("node number must be between 0 and 1023")
	}
	return &Node{node: node}, nil
}

func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now().UnixMilli()

	if now < n.last {
		// Clock moved backwards, hold the last observed time.
		now = n.last
	}

	if n.last == now {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			for now <= n.last {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		n.step = 0
	}

	n.last = now

	return ((now - epoch) << timeShift) | (n.node << nodeShift) | n.step
}

// Time recovers the creation instant embedded in an id.
func Time(id int64) time.Time {
	ms := (id >> timeShift) + epoch
	return time.UnixMilli(ms).UTC()
}
