package chat

import (
	"strconv"
	"sync"
	"time"
)

// IDGenerator hands out chat ids derived from the current time in milliseconds.
// Ids are strictly increasing within a process: a collision bumps to the next millisecond.
type IDGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

// Next returns the next id and the time it encodes.
func (g *IDGenerator) Next() (string, time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms

	return strconv.FormatInt(ms, 10), time.UnixMilli(ms).UTC()
}
