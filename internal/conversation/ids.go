package conversation

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// idGenerator hands out time-ordered snowflake ids. Within one node the ids
// are strictly increasing, which gives messages a stable order even when two
// share a millisecond.
type idGenerator struct {
	node *snowflake.Node
}

func newIDGenerator(nodeID int64) (*idGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("create snowflake node %d: %w", nodeID, err)
	}
	return &idGenerator{node: node}, nil
}

// next returns the id, its numeric sequence and the creation time encoded in it.
func (g *idGenerator) next() (string, int64, time.Time) {
	id := g.node.Generate()
	return id.String(), id.Int64(), time.UnixMilli(id.Time())
}
