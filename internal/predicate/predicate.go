// Package predicate implements the wait conditions matched against process
// output lines.
//
// A Predicate is a tree of leaves (exact-case substring patterns) joined by
// And and Or. Each leaf records the time it first matched a line; that
// observation is permanent and visible to every holder of the predicate.
// Composite state is never stored: it is recomputed from the leaves on every
// call to State.
//
// Only one goroutine should call Feed for a given tree (the dispatcher's
// reader). State, HasBeenObserved and ObservedAt are safe to call from any
// goroutine at any time.
package predicate

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/logwait/internal/errors"
)

// Kind identifies the node type of a Predicate.
type Kind int

const (
	// KindLeaf matches a single substring pattern.
	KindLeaf Kind = iota
	// KindAnd is observed once both operands are.
	KindAnd
	// KindOr is observed once either operand is.
	KindOr
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindAnd:
		return "and"
	case KindOr:
		return "or"
	default:
		return "unknown"
	}
}

// State is the observation state of a predicate at one instant.
// At is the zero time unless Observed is true.
type State struct {
	Observed bool
	At       time.Time
}

// Pending is the state of a predicate that has not been observed.
var Pending = State{}

// Predicate is a node in a wait condition tree.
type Predicate struct {
	kind    Kind
	pattern string
	left    *Predicate
	right   *Predicate

	// observed is set at most once, on leaves only.
	observed atomic.Pointer[time.Time]
}

// Leaf returns a predicate matching any line that contains pattern.
// Matching is case sensitive.
func Leaf(pattern string) (*Predicate, error) {
	if pattern == "" {
		return nil, errors.NewValidationError("pattern must not be empty").
			WithField("pattern").
			WithCause(errors.ErrEmptyPattern)
	}
	return &Predicate{kind: KindLeaf, pattern: pattern}, nil
}

// MustLeaf is like Leaf but panics if pattern is empty.
func MustLeaf(pattern string) *Predicate {
	p, err := Leaf(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// And returns a predicate observed once both a and b are observed.
// The operands are shared, not copied. And panics if either operand is nil.
func And(a, b *Predicate) *Predicate {
	return composite(KindAnd, a, b)
}

// Or returns a predicate observed once either a or b is observed.
// The operands are shared, not copied. Or panics if either operand is nil.
func Or(a, b *Predicate) *Predicate {
	return composite(KindOr, a, b)
}

func composite(kind Kind, a, b *Predicate) *Predicate {
	if a == nil || b == nil {
		panic(fmt.Sprintf("predicate: %s with nil operand", kind))
	}
	return &Predicate{kind: kind, left: a, right: b}
}

// AllOf folds ps left to right with And. A single predicate is returned as is.
// It returns nil when ps is empty.
func AllOf(ps ...*Predicate) *Predicate {
	return fold(And, ps)
}

// AnyOf folds ps left to right with Or. A single predicate is returned as is.
// It returns nil when ps is empty.
func AnyOf(ps ...*Predicate) *Predicate {
	return fold(Or, ps)
}

func fold(join func(a, b *Predicate) *Predicate, ps []*Predicate) *Predicate {
	if len(ps) == 0 {
		return nil
	}
	acc := ps[0]
	for _, p := range ps[1:] {
		acc = join(acc, p)
	}
	return acc
}

// Kind returns the node type.
func (p *Predicate) Kind() Kind { return p.kind }

// Pattern returns the substring a leaf matches, or "" for composites.
func (p *Predicate) Pattern() string { return p.pattern }

// Operands returns the children of a composite, or nil, nil for a leaf.
func (p *Predicate) Operands() (left, right *Predicate) { return p.left, p.right }

// Matches reports whether line satisfies a leaf's pattern. It does not
// change state. Composites never match a line directly.
func (p *Predicate) Matches(line string) bool {
	return p.kind == KindLeaf && strings.Contains(line, p.pattern)
}

// Feed offers one line, received at time at, to every distinct pending leaf
// in the tree. It reports whether any leaf became observed. A leaf that is
// already observed keeps its first timestamp.
func (p *Predicate) Feed(line string, at time.Time) bool {
	changed := false
	for _, leaf := range p.Leaves() {
		if leaf.feedLeaf(line, at) {
			changed = true
		}
	}
	return changed
}

// FeedLeaf is Feed for a single leaf; it is a no-op on composites.
// Callers that have already deduplicated leaves across several trees use
// this to avoid walking each tree again.
func (p *Predicate) FeedLeaf(line string, at time.Time) bool {
	return p.feedLeaf(line, at)
}

func (p *Predicate) feedLeaf(line string, at time.Time) bool {
	if p.kind != KindLeaf || p.observed.Load() != nil {
		return false
	}
	if !strings.Contains(line, p.pattern) {
		return false
	}
	ts := at
	return p.observed.CompareAndSwap(nil, &ts)
}

// State returns the current observation state. For composites it is derived
// from the operands: And takes the later of the two timestamps, Or the
// earlier of the observed ones.
func (p *Predicate) State() State {
	switch p.kind {
	case KindLeaf:
		if ts := p.observed.Load(); ts != nil {
			return State{Observed: true, At: *ts}
		}
		return Pending
	case KindAnd:
		l, r := p.left.State(), p.right.State()
		if !l.Observed || !r.Observed {
			return Pending
		}
		if r.At.After(l.At) {
			return r
		}
		return l
	case KindOr:
		l, r := p.left.State(), p.right.State()
		switch {
		case l.Observed && r.Observed:
			if r.At.Before(l.At) {
				return r
			}
			return l
		case l.Observed:
			return l
		case r.Observed:
			return r
		}
		return Pending
	default:
		return Pending
	}
}

// HasBeenObserved reports whether the predicate is currently observed.
func (p *Predicate) HasBeenObserved() bool {
	return p.State().Observed
}

// ObservedAt returns the observation time and true, or the zero time and
// false if the predicate is still pending.
func (p *Predicate) ObservedAt() (time.Time, bool) {
	s := p.State()
	return s.At, s.Observed
}

// Leaves returns the distinct leaves reachable from p, in left-to-right
// order. A leaf shared by several branches appears once.
func (p *Predicate) Leaves() []*Predicate {
	seen := make(map[*Predicate]struct{})
	var out []*Predicate
	p.collectLeaves(seen, &out)
	return out
}

// CollectLeaves adds the distinct leaves of p that are not already in seen
// to both seen and out.
func (p *Predicate) CollectLeaves(seen map[*Predicate]struct{}, out *[]*Predicate) {
	p.collectLeaves(seen, out)
}

func (p *Predicate) collectLeaves(seen map[*Predicate]struct{}, out *[]*Predicate) {
	if _, ok := seen[p]; ok {
		return
	}
	seen[p] = struct{}{}
	if p.kind == KindLeaf {
		*out = append(*out, p)
		return
	}
	p.left.collectLeaves(seen, out)
	p.right.collectLeaves(seen, out)
}

// Fresh returns a structural copy of p in which every leaf is pending.
// Sharing inside the tree is preserved: a leaf that appears twice in p
// appears as one new leaf twice in the copy.
func (p *Predicate) Fresh() *Predicate {
	return p.fresh(make(map[*Predicate]*Predicate))
}

func (p *Predicate) fresh(copies map[*Predicate]*Predicate) *Predicate {
	if c, ok := copies[p]; ok {
		return c
	}
	var c *Predicate
	if p.kind == KindLeaf {
		c = &Predicate{kind: KindLeaf, pattern: p.pattern}
	} else {
		c = &Predicate{kind: p.kind, left: p.left.fresh(copies), right: p.right.fresh(copies)}
	}
	copies[p] = c
	return c
}

// String renders the tree, e.g. ("block sealed" AND ("tx sealed" OR "tx rejected")).
func (p *Predicate) String() string {
	switch p.kind {
	case KindLeaf:
		return strconv.Quote(p.pattern)
	case KindAnd:
		return "(" + p.left.String() + " AND " + p.right.String() + ")"
	case KindOr:
		return "(" + p.left.String() + " OR " + p.right.String() + ")"
	default:
		return "?"
	}
}
