package tensorcl

import "math/rand"

// Randomizer resolves a deterministic (or non-reproducible) source of
// random numbers for random_uniform / random_normal / glorot_uniform.
type Randomizer struct {
	Session *SessionCache
}

// NewRandomizer binds a Randomizer to a session (the generators it
// hands out for graph- and op-scoped branches are session-scoped, so
// they must survive across calls within the same session).
func NewRandomizer(s *SessionCache) *Randomizer {
	return &Randomizer{Session: s}
}

// Source picks the generator for a node whose enclosing graph has
// graphSeed (nil if unset) and whose own op attribute carries opSeed
// (nil if unset), keyed by graphID / opTag respectively.
func (r *Randomizer) Source(graphID string, graphSeed *uint64, opTag string, opSeed *uint64) *rand.Rand {
	switch {
	case graphSeed != nil && opSeed != nil:
		return rand.New(rand.NewSource(int64(*graphSeed ^ *opSeed)))
	case graphSeed != nil:
		return r.Session.RandForGraph(graphID, *graphSeed)
	case opSeed != nil:
		return r.Session.RandForOp(opTag, *opSeed)
	default:
		return rand.New(rand.NewSource(rand.Int63()))
	}
}
