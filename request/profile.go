package request

import (
	"github.com/ringdb/ring-go-driver/lb"
)

// Profile bundles the per-request execution policies. Profiles are
// immutable after the session connects; requests select one by name.
type Profile struct {
	consistency Consistency
	policy      lb.Policy
}

type ProfileOption func(p *Profile)

func WithProfileConsistency(c Consistency) ProfileOption {
	return func(p *Profile) {
		p.consistency = c
	}
}

func WithLoadBalancing(policy lb.Policy) ProfileOption {
	return func(p *Profile) {
		p.policy = policy
	}
}

func NewProfile(opts ...ProfileOption) *Profile {
	p := &Profile{
		consistency: LocalOne,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	return p
}

func (p *Profile) Consistency() Consistency {
	return p.consistency
}

func (p *Profile) LoadBalancing() lb.Policy {
	return p.policy
}

// WithDefaults returns a copy of p with unset policies taken from def.
func (p *Profile) WithDefaults(def *Profile) *Profile {
	if p == nil {
		return def
	}
	out := *p
	if out.policy == nil {
		out.policy = def.policy
	}

	return &out
}
