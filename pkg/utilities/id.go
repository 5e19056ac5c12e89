package utilities

import (
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

// NewSnowflakeID generates a snowflake ID string. The node ID comes from
// SNOWFLAKE_NODE (default 1) and is read once per process; if the node
// cannot be initialized a KSUID string is returned instead.
func NewSnowflakeID() string {
	n := snowflakeNode()
	if n == nil {
		return NewKSUID()
	}
	return n.Generate().String()
}

// the node must be shared: a fresh node restarts its sequence at zero and
// would hand out duplicates within the same millisecond
func snowflakeNode() *snowflake.Node {
	nodeOnce.Do(func() {
		nodeID := int64(1)
		if v := os.Getenv("SNOWFLAKE_NODE"); v != "" {
			if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
				nodeID = parsed
			}
		}
		n, err := snowflake.NewNode(nodeID)
		if err != nil {
			return
		}
		node = n
	})
	return node
}
