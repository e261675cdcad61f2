package demography

import (
	"strings"
	"unicode"
)

// Population is an immutable named lineage. The zero sampling time means
// samples are drawn at present; ghost populations are never sampled.
type Population struct {
	id           string
	description  string
	samplingTime float64
	ghost        bool
}

// NewPopulation returns a population sampled at present.
func NewPopulation(id, description string) Population {
	return Population{id: id, description: description}
}

// NewGhostPopulation returns an unsampled ancestral lineage.
func NewGhostPopulation(id, description string) Population {
	return Population{id: id, description: description, ghost: true}
}

// SampledAt returns a copy of p whose samples are drawn t generations ago.
func (p Population) SampledAt(t float64) Population {
	p.samplingTime = t
	p.ghost = false
	return p
}

func (p Population) ID() string          { return p.id }
func (p Population) Description() string { return p.description }

// SamplingTime reports when samples may be drawn; ok is false for ghosts.
func (p Population) SamplingTime() (t float64, ok bool) {
	if p.ghost {
		return 0, false
	}
	return p.samplingTime, true
}

// IsGhost reports whether the lineage is never sampled.
func (p Population) IsGhost() bool { return p.ghost }

func (p Population) validate(op string) error {
	if p.id == "" {
		return opErrorf(op, ErrInvalidValue, "population id is required")
	}
	if strings.IndexFunc(p.id, unicode.IsSpace) >= 0 {
		return opErrorf(op, ErrInvalidValue, "population id %q contains whitespace", p.id)
	}
	if !p.ghost && (!finite(p.samplingTime) || p.samplingTime < 0) {
		return opErrorf(op, ErrInvalidValue, "population %s sampling time %v", p.id, p.samplingTime)
	}
	return nil
}
