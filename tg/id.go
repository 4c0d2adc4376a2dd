package tg

import (
	"strconv"
	"sync/atomic"
)

// NodeID is a process-unique identifier for a graph node, independent of its address.
type NodeID uint64

// InvalidNodeID is never allocated.
const InvalidNodeID NodeID = 0

var lastNodeID uint64

// NextNodeID returns a new, never before allocated node ID.  Safe for concurrent use.
func NextNodeID() NodeID {
	return NodeID(atomic.AddUint64(&lastNodeID, 1))
}

// ReserveNodeID makes sure later calls to NextNodeID return values above id, e.g.,
// after loading IDs from persisted state.
func ReserveNodeID(id NodeID) {
	for {
		cur := atomic.LoadUint64(&lastNodeID)
		if uint64(id) <= cur {
			return
		}
		if atomic.CompareAndSwapUint64(&lastNodeID, cur, uint64(id)) {
			return
		}
	}
}

func (id NodeID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseNodeID parses the decimal form produced by NodeID.String.
func ParseNodeID(s string) (NodeID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return InvalidNodeID, err
	}
	return NodeID(n), nil
}
