// Package planner sizes the cluster request for an image stack.
package planner

import "fmt"

// Default capacity model: 48 slots per node, 2.00 slots of rendering work per
// frame plus 0.15 slots of per-frame overhead.
const (
	DefaultSlotsPerNode = 48
	DefaultFrameCost    = 215 // hundredths of a slot
)

// Policy is a linear capacity model. FrameCost is expressed in hundredths of a
// slot so that node counts are computed in exact integer arithmetic.
type Policy struct {
	SlotsPerNode int
	FrameCost    int
}

// Plan is the resource request derived from a stack depth.
type Plan struct {
	Depth int
	Nodes int
}

// DefaultPolicy returns the standard capacity model.
func DefaultPolicy() Policy {
	return Policy{SlotsPerNode: DefaultSlotsPerNode, FrameCost: DefaultFrameCost}
}

// Validate checks that the policy can produce node counts.
func (p Policy) Validate() error {
	if p.SlotsPerNode <= 0 {
		return fmt.Errorf("planner: slots per node must be positive, got %d", p.SlotsPerNode)
	}
	if p.FrameCost <= 0 {
		return fmt.Errorf("planner: frame cost must be positive, got %d", p.FrameCost)
	}
	return nil
}

// Nodes returns ceil(FrameCost*depth / (100*SlotsPerNode)), never less than 1.
func (p Policy) Nodes(depth int) int {
	if depth <= 0 {
		return 1
	}
	work := int64(p.FrameCost) * int64(depth)
	capacity := int64(100) * int64(p.SlotsPerNode)
	n := (work + capacity - 1) / capacity
	if n < 1 {
		return 1
	}
	return int(n)
}

// Plan computes the resource plan for depth.
func (p Policy) Plan(depth int) Plan {
	return Plan{Depth: depth, Nodes: p.Nodes(depth)}
}

// Nodes sizes depth with the default policy.
func Nodes(depth int) int {
	return DefaultPolicy().Nodes(depth)
}
