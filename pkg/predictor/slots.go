package predictor

import (
	"fmt"

	"github.com/fathom-ml/fathom/pkg/program"
)

// slot identifies one external boundary point of the graph: the variable
// name a feed or fetch operator binds, and its declared position.
type slot struct {
	Name string
	Col  int
}

// scanSlots extracts the feed and fetch boundary metadata from the program,
// ordered by position. The result is immutable for the life of the session
// and safe to share with clones.
//
// Positions must be dense starting at zero; a duplicate or missing position,
// or an op without a bound variable, means the program and this session
// cannot agree on the boundary and setup must fail.
func scanSlots(prog *program.Program) (feeds []slot, fetches []slot, err error) {
	var rawFeeds, rawFetches []slot

	for i, op := range prog.Ops {
		switch op.Type {
		case program.OpFeed:
			name, err := op.Output("Out")
			if err != nil {
				return nil, nil, fmt.Errorf("feed op %d: %w", i, err)
			}
			col, ok := op.IntAttr("col")
			if !ok {
				return nil, nil, fmt.Errorf("feed op %d (%q) has no col attribute", i, name)
			}
			rawFeeds = append(rawFeeds, slot{Name: name, Col: col})
		case program.OpFetch:
			name, err := op.Input("X")
			if err != nil {
				return nil, nil, fmt.Errorf("fetch op %d: %w", i, err)
			}
			col, ok := op.IntAttr("col")
			if !ok {
				return nil, nil, fmt.Errorf("fetch op %d (%q) has no col attribute", i, name)
			}
			rawFetches = append(rawFetches, slot{Name: name, Col: col})
		}
	}

	feeds, err = orderSlots("feed", rawFeeds)
	if err != nil {
		return nil, nil, err
	}
	fetches, err = orderSlots("fetch", rawFetches)
	if err != nil {
		return nil, nil, err
	}
	return feeds, fetches, nil
}

func orderSlots(kind string, raw []slot) ([]slot, error) {
	ordered := make([]slot, len(raw))
	seen := make([]bool, len(raw))
	for _, s := range raw {
		if s.Name == "" {
			return nil, fmt.Errorf("%s slot %d has no variable name", kind, s.Col)
		}
		if s.Col < 0 || s.Col >= len(raw) {
			return nil, fmt.Errorf("%s slot %q has position %d, outside [0,%d)", kind, s.Name, s.Col, len(raw))
		}
		if seen[s.Col] {
			return nil, fmt.Errorf("duplicate %s slot position %d (%q)", kind, s.Col, s.Name)
		}
		seen[s.Col] = true
		ordered[s.Col] = s
	}
	return ordered, nil
}
