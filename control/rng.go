package control

import (
	"hash/fnv"
	"math/rand"
	"sort"
)

// Named random streams. Each consumer of randomness draws from its own
// stream so that, for example, a busier incident generator never shifts
// which compound a car is given.
const (
	SubsystemIncidents = "incidents"
	SubsystemTyres     = "tyres"
	SubsystemRadio     = "radio"
	// SubsystemMotion belongs to the motion collaborator, not the engine.
	SubsystemMotion = "motion"
)

// PartitionedRNG hands out one *rand.Rand per named subsystem, all derived
// from the session seed. Stream seed = seed XOR fnv1a64(name).
//
// Not safe for concurrent use; the engine's caller serialises access.
type PartitionedRNG struct {
	seed    int64
	streams map[string]*rand.Rand
}

// NewPartitionedRNG returns a source whose streams are fully determined by seed.
func NewPartitionedRNG(seed int64) *PartitionedRNG {
	return &PartitionedRNG{seed: seed, streams: map[string]*rand.Rand{}}
}

// ForSubsystem returns the stream for name, creating it on first use.
// Repeated calls return the same instance.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	r, ok := p.streams[name]
	if !ok {
		r = rand.New(rand.NewSource(p.seed ^ fnv1a64(name)))
		p.streams[name] = r
	}
	return r
}

// Seed is the session seed the streams derive from.
func (p *PartitionedRNG) Seed() int64 { return p.seed }

// Subsystems lists the streams handed out so far, sorted.
func (p *PartitionedRNG) Subsystems() []string {
	names := make([]string, 0, len(p.streams))
	for name := range p.streams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
