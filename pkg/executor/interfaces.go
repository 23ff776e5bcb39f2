package executor

import (
	"context"

	"github.com/fathom-ml/fathom/pkg/program"
	"github.com/fathom-ml/fathom/pkg/scope"
)

// Engine turns a compiled program into a reusable execution plan. Prepare is
// expected to be expensive and called once per loaded model; the returned
// plan is invoked once per inference call.
type Engine interface {
	Prepare(ctx context.Context, prog *program.Program) (Prepared, error)
}

// Prepared is a compiled execution plan. Run executes the plan's operators
// against the given scope, reading inputs and weights through the scope
// chain and writing results into it. A Prepared plan holds no per-call
// state: concurrent Run calls against distinct scopes are safe.
type Prepared interface {
	Run(ctx context.Context, sc *scope.Scope) error
}
