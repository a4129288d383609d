// Package assistant simulates the legal assistant: a canned reply written to the
// chat after a fixed delay.
package assistant

import (
	"math/rand/v2"
	"sync"
)

// Responder picks one of a fixed set of replies uniformly at random.
type Responder struct {
	responses []string

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewResponder panics on an empty response list.
func NewResponder(responses []string, seed uint64) *Responder {
	if len(responses) == 0 {
		panic("assistant: no responses configured")
	}
	return &Responder{
		responses: append([]string(nil), responses...),
		rnd:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (r *Responder) Reply() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.responses[r.rnd.IntN(len(r.responses))]
}

// Responses returns a copy of the configured replies.
func (r *Responder) Responses() []string {
	return append([]string(nil), r.responses...)
}
