package executor

import (
	"fmt"

	"github.com/fathom-ml/fathom/pkg/program"
)

// ExecutionOrder returns the indexes of the program's compute operators in
// an order where every operator runs after the operators producing its
// inputs. Feed and fetch operators are boundary markers handled by the
// session layer and are excluded. Variables no compute operator produces
// (weights, feeds) are treated as already available.
func ExecutionOrder(ops []*program.OpDesc) ([]int, error) {
	producers := make(map[string]int)
	compute := make([]int, 0, len(ops))
	for i, op := range ops {
		if op.Type == program.OpFeed || op.Type == program.OpFetch {
			continue
		}
		compute = append(compute, i)
		for _, names := range op.Outputs {
			for _, name := range names {
				producers[name] = i
			}
		}
	}

	order := make([]int, 0, len(compute))
	done := make(map[int]bool)

	for {
		progressed := false
		for _, i := range compute {
			if done[i] {
				continue
			}

			ready := true
			for _, names := range ops[i].Inputs {
				for _, name := range names {
					producer, produced := producers[name]
					if produced && producer != i && !done[producer] {
						ready = false
					}
				}
			}
			if ready {
				done[i] = true
				order = append(order, i)
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}

	for _, i := range compute {
		if !done[i] {
			return nil, fmt.Errorf("op %d (%q) could not be scheduled (cycle in computation graph)", i, ops[i].Type)
		}
	}

	return order, nil
}
