package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

// Node ids per process role. Every running process needs a distinct
// node id or generated ids can collide.
const (
	NodeServer int64 = 1
	NodeWorker int64 = 2
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init configures the process-wide snowflake node. Repeat calls are
// no-ops, so test setup can call it without coordination.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New returns a time-ordered id unique across processes.
func New() int64 {
	return node.Generate().Int64()
}
