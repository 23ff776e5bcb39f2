// Package naive is a reference CPU engine. It executes programs one
// operator at a time with unoptimized float32 kernels; real deployments
// plug in an accelerated Engine, but this one is always available and keeps
// the session layer testable without device support.
package naive

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/fathom-ml/fathom/pkg/executor"
	"github.com/fathom-ml/fathom/pkg/program"
	"github.com/fathom-ml/fathom/pkg/scope"
)

type opDesc = *program.OpDesc

type Engine struct{}

var _ executor.Engine = (*Engine)(nil)

func NewEngine() *Engine {
	return &Engine{}
}

func (e *Engine) Prepare(ctx context.Context, prog *program.Program) (executor.Prepared, error) {
	log := klog.FromContext(ctx)

	order, err := executor.ExecutionOrder(prog.Ops)
	if err != nil {
		return nil, fmt.Errorf("scheduling program: %w", err)
	}

	log.V(2).Info("prepared program", "ops", len(prog.Ops), "scheduled", len(order))

	return &preparedProgram{prog: prog, order: order}, nil
}

// preparedProgram is immutable after Prepare; all per-call state lives in
// the scope passed to Run.
type preparedProgram struct {
	prog  *program.Program
	order []int
}

var _ executor.Prepared = (*preparedProgram)(nil)

func (p *preparedProgram) Run(ctx context.Context, sc *scope.Scope) error {
	for _, i := range p.order {
		op := p.prog.Ops[i]
		if err := runOp(op, sc); err != nil {
			return fmt.Errorf("running op %d (%q): %w", i, op.Type, err)
		}
	}
	return nil
}
