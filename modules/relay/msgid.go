package relay

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	nanoid "github.com/jaevor/go-nanoid"
)

// Message id prefixes. Direct and room messages use separate id spaces.
const (
	DirectIDPrefix = "msg"
	RoomIDPrefix   = "room"
)

const (
	idAlphabet     = "0123456789abcdefghijklmnopqrstuvwxyz"
	idSuffixLength = 9
)

// IDGenerator assigns message ids of the form <prefix>-<unixMillis>-<seq><random>.
// The sequence makes ids unique within the process even when the clock
// stalls; the random suffix keeps them unguessable across restarts.
type IDGenerator struct {
	seq atomic.Uint64
	now func() time.Time

	mu     sync.Mutex
	suffix func() string
}

// NewIDGenerator creates a generator backed by a nanoid random source.
func NewIDGenerator() (*IDGenerator, error) {
	suffix, err := nanoid.CustomASCII(idAlphabet, idSuffixLength)
	if err != nil {
		return nil, fmt.Errorf("failed to create id generator: %w", err)
	}
	return &IDGenerator{
		now:    time.Now,
		suffix: suffix,
	}, nil
}

// Direct returns a fresh id for a direct message.
func (g *IDGenerator) Direct() string {
	return g.next(DirectIDPrefix)
}

// Room returns a fresh id for a room message.
func (g *IDGenerator) Room() string {
	return g.next(RoomIDPrefix)
}

func (g *IDGenerator) next(prefix string) string {
	seq := g.seq.Add(1)

	g.mu.Lock()
	random := g.suffix()
	g.mu.Unlock()

	return prefix + "-" + strconv.FormatInt(g.now().UnixMilli(), 10) + "-" +
		strconv.FormatUint(seq, 36) + random
}
