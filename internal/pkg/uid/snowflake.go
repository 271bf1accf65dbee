package uid

import (
	"crypto/sha256"
	"os"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// Snowflake generates sortable 64-bit IDs using github.com/bwmarrin/snowflake.
type Snowflake struct {
	node *snowflake.Node
}

// NewSnowflake creates a Snowflake generator whose node number is derived from
// a stable machine identity so replicas do not collide.
func NewSnowflake() (*Snowflake, error) {
	node, err := snowflake.NewNode(nodeNumber())
	if err != nil {
		return nil, err
	}
	return &Snowflake{node: node}, nil
}

// Generate returns a new snowflake ID.
func (s *Snowflake) Generate() int64 {
	return s.node.Generate().Int64()
}

func nodeNumber() int64 {
	src := ""
	if b, err := os.ReadFile("/etc/machine-id"); err == nil {
		src = strings.TrimSpace(string(b))
	}
	if src == "" {
		if h, err := os.Hostname(); err == nil {
			src = strings.TrimSpace(h)
		}
	}
	if src == "" {
		return int64(os.Getpid()) % 1024
	}

	sum := sha256.Sum256([]byte(src))
	return int64(uint16(sum[0])<<8|uint16(sum[1])) % 1024
}
