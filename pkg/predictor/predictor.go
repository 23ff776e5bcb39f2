// Package predictor implements inference sessions over a compiled program.
//
// A session pairs a prepared execution plan with a scope chain: weights are
// loaded once into a root scope, every Clone gets a fresh child scope under
// that root, and every Run works in a transient call scope discarded when
// the call returns. The program, the prepared plan, and the feed/fetch slot
// metadata are immutable and shared by reference across all clones; only
// scopes are per-session.
package predictor

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/fathom-ml/fathom/pkg/executor"
	"github.com/fathom-ml/fathom/pkg/executor/naive"
	"github.com/fathom-ml/fathom/pkg/program"
	"github.com/fathom-ml/fathom/pkg/scope"
	"github.com/fathom-ml/fathom/pkg/tensor"
)

type Config struct {
	// ModelPath is the serialized model to load. Ignored when Program is
	// set.
	ModelPath string

	// Program, when set, is a pre-loaded compiled graph to attach to
	// instead of loading ModelPath.
	Program *program.Program

	// Place selects device placement. Zero value is CPU.
	Place program.Place

	// Engine overrides the execution engine. Defaults to the naive CPU
	// engine.
	Engine executor.Engine
}

// Predictor is one usable, thread-isolated view of a compiled graph. A
// single Predictor must not have Run called concurrently from multiple
// goroutines; use Clone to serve concurrent callers from one loaded model.
type Predictor struct {
	config   Config
	prog     *program.Program
	prepared executor.Prepared

	// sessionScope is owned by this session: call scopes are created under
	// it, and Close releases it.
	sessionScope *scope.Scope
	// weightScope is a non-owning reference to the scope holding the shared
	// weights; its lifetime is carried by the sessionScope chain.
	weightScope *scope.Scope

	feeds     []slot
	feedNames map[string]int
	fetches   []slot
}

// New loads the configured model and creates a session owning a fresh root
// scope with the model's weights.
func New(ctx context.Context, config Config) (*Predictor, error) {
	return newPredictor(ctx, config, nil)
}

// NewUnderScope creates a session whose root scope is a child of
// parentScope. The parent is expected to already hold the weights (a
// process-wide loader populates it once); the session only retains it.
func NewUnderScope(ctx context.Context, config Config, parentScope *scope.Scope) (*Predictor, error) {
	if parentScope == nil {
		return nil, fmt.Errorf("%w: nil parent scope", ErrInit)
	}
	return newPredictor(ctx, config, parentScope)
}

func newPredictor(ctx context.Context, config Config, parentScope *scope.Scope) (*Predictor, error) {
	log := klog.FromContext(ctx)

	if err := config.Place.Check(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInit, err)
	}

	prog := config.Program
	if prog == nil {
		loaded, err := program.Load(ctx, config.ModelPath)
		if err != nil {
			return nil, fmt.Errorf("%w: loading model: %w", ErrInit, err)
		}
		prog = loaded
	}

	engine := config.Engine
	if engine == nil {
		engine = naive.NewEngine()
	}
	prepared, err := engine.Prepare(ctx, prog)
	if err != nil {
		return nil, fmt.Errorf("%w: preparing execution context: %w", ErrInit, err)
	}

	feeds, fetches, err := scanSlots(prog)
	if err != nil {
		return nil, fmt.Errorf("%w: scanning feed/fetch slots: %w", ErrInit, err)
	}
	feedNames := make(map[string]int, len(feeds))
	for i, s := range feeds {
		feedNames[s.Name] = i
	}

	var sessionScope, weightScope *scope.Scope
	if parentScope != nil {
		child, err := parentScope.NewChild()
		if err != nil {
			return nil, fmt.Errorf("%w: creating session scope: %w", ErrInit, err)
		}
		sessionScope = child
		weightScope = parentScope
	} else {
		root := scope.New()
		if err := LoadParams(root, prog); err != nil {
			if releaseErr := root.Release(); releaseErr != nil {
				log.Error(releaseErr, "releasing scope after failed init")
			}
			return nil, fmt.Errorf("%w: loading weights: %w", ErrInit, err)
		}
		sessionScope = root
		weightScope = root
	}

	log.Info("initialized inference session", "model", config.ModelPath, "place", config.Place, "feeds", len(feeds), "fetches", len(fetches))

	return &Predictor{
		config:       config,
		prog:         prog,
		prepared:     prepared,
		sessionScope: sessionScope,
		weightScope:  weightScope,
		feeds:        feeds,
		feedNames:    feedNames,
		fetches:      fetches,
	}, nil
}

// LoadParams installs the program's parameters into sc. New does this
// automatically; callers sharing one weight scope across sessions populate
// the parent scope with it once and pass the scope to NewUnderScope.
func LoadParams(sc *scope.Scope, prog *program.Program) error {
	for _, param := range prog.Params {
		v, err := sc.Var(param.Name)
		if err != nil {
			return err
		}
		t := v.LoDTensor()
		switch param.Type {
		case program.FP32:
			if err := t.SetFloat32s(param.Dims, param.FP32); err != nil {
				return fmt.Errorf("parameter %q: %w", param.Name, err)
			}
		case program.INT64:
			if err := t.SetInt64s(param.Dims, param.INT64); err != nil {
				return fmt.Errorf("parameter %q: %w", param.Name, err)
			}
		default:
			return fmt.Errorf("parameter %q has unsupported vartype %v", param.Name, param.Type)
		}
	}
	return nil
}

// Run executes one inference call: inputs are matched to feed slots by
// position, the graph runs in a transient call scope, and outputs are
// returned in fetch slot order. On error no outputs are returned and the
// session's root scope is untouched.
func (p *Predictor) Run(ctx context.Context, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	return p.run(ctx, inputs, -1)
}

// RunWithBatchSize is Run with the batch override applied: when batchSize
// is positive it replaces dimension 0 of every input's declared shape, and
// each input buffer is then re-validated against the overridden shape. A
// non-positive batchSize is ignored.
func (p *Predictor) RunWithBatchSize(ctx context.Context, inputs []*tensor.Tensor, batchSize int) ([]*tensor.Tensor, error) {
	return p.run(ctx, inputs, batchSize)
}

func (p *Predictor) run(ctx context.Context, inputs []*tensor.Tensor, batchSize int) ([]*tensor.Tensor, error) {
	log := klog.FromContext(ctx)

	if p.sessionScope == nil {
		return nil, fmt.Errorf("%w: session is closed", ErrRun)
	}
	if len(inputs) != len(p.feeds) {
		return nil, fmt.Errorf("%w: %w: got %d inputs, program has %d feed slots", ErrRun, ErrInvalidInput, len(inputs), len(p.feeds))
	}

	callScope, err := p.sessionScope.NewChild()
	if err != nil {
		return nil, fmt.Errorf("%w: %w: creating call scope: %w", ErrRun, ErrInternal, err)
	}
	defer func() {
		if err := callScope.Release(); err != nil {
			log.Error(err, "releasing call scope")
		}
	}()

	for i, in := range inputs {
		if in == nil {
			return nil, fmt.Errorf("%w: %w: input %d is nil", ErrRun, ErrInvalidInput, i)
		}
		if in.Name != "" && in.Name != p.feeds[i].Name {
			if want, ok := p.feedNames[in.Name]; ok {
				return nil, fmt.Errorf("%w: %w: input %q supplied at position %d, feed slot for it is %d", ErrRun, ErrInvalidInput, in.Name, i, want)
			}
			return nil, fmt.Errorf("%w: %w: input %d is named %q, feed slot %d is %q", ErrRun, ErrInvalidInput, i, in.Name, i, p.feeds[i].Name)
		}
		if err := feedOne(callScope, p.feeds[i], in, batchSize); err != nil {
			return nil, fmt.Errorf("%w: feeding input %d (%q): %w", ErrRun, i, p.feeds[i].Name, err)
		}
	}

	if err := p.prepared.Run(ctx, callScope); err != nil {
		return nil, fmt.Errorf("%w: executing graph: %w", ErrRun, err)
	}

	outputs := make([]*tensor.Tensor, 0, len(p.fetches))
	for _, s := range p.fetches {
		out, err := fetchOne(callScope, s)
		if err != nil {
			return nil, fmt.Errorf("%w: fetching output %d (%q): %w", ErrRun, s.Col, s.Name, err)
		}
		outputs = append(outputs, out)
	}

	log.V(2).Info("run complete", "inputs", len(inputs), "outputs", len(outputs))

	return outputs, nil
}

// Clone creates a new session over the same compiled program and prepared
// execution context. The clone's root scope is a fresh child of this
// session's weight scope, so clones share weights by reference and are
// fully independent for Run: the original and any number of clones may run
// concurrently.
func (p *Predictor) Clone() (*Predictor, error) {
	if p.weightScope == nil {
		return nil, fmt.Errorf("%w: session is closed", ErrClone)
	}
	child, err := p.weightScope.NewChild()
	if err != nil {
		return nil, fmt.Errorf("%w: creating clone scope: %w", ErrClone, err)
	}
	return &Predictor{
		config:       p.config,
		prog:         p.prog,
		prepared:     p.prepared,
		sessionScope: child,
		weightScope:  p.weightScope,
		feeds:        p.feeds,
		feedNames:    p.feedNames,
		fetches:      p.fetches,
	}, nil
}

// NumFeeds returns the number of feed slots of the compiled graph.
func (p *Predictor) NumFeeds() int { return len(p.feeds) }

// NumFetches returns the number of fetch slots of the compiled graph.
func (p *Predictor) NumFetches() int { return len(p.fetches) }

// FeedNames returns the feed variable names in slot order.
func (p *Predictor) FeedNames() []string {
	names := make([]string, len(p.feeds))
	for i, s := range p.feeds {
		names[i] = s.Name
	}
	return names
}

// FetchNames returns the fetch variable names in slot order.
func (p *Predictor) FetchNames() []string {
	names := make([]string, len(p.fetches))
	for i, s := range p.fetches {
		names[i] = s.Name
	}
	return names
}

// Close releases the session's scope. Weights shared with other sessions
// stay alive until the last session referencing them closes.
func (p *Predictor) Close() error {
	if p.sessionScope == nil {
		return nil
	}
	sc := p.sessionScope
	p.sessionScope = nil
	p.weightScope = nil
	if err := sc.Release(); err != nil {
		return fmt.Errorf("releasing session scope: %w", err)
	}
	return nil
}
