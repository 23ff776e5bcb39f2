package program

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"k8s.io/klog/v2"
)

// Load reads a serialized model file into a Program.
func Load(ctx context.Context, modelPath string) (*Program, error) {
	log := klog.FromContext(ctx)

	startedAt := time.Now()
	data, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("reading model file %q: %w", modelPath, err)
	}

	prog := &Program{}
	if err := sonic.Unmarshal(data, prog); err != nil {
		return nil, fmt.Errorf("decoding model file %q: %w", modelPath, err)
	}

	if err := prog.Validate(); err != nil {
		return nil, fmt.Errorf("invalid program in %q: %w", modelPath, err)
	}

	log.Info("loaded model", "path", modelPath, "ops", len(prog.Ops), "params", len(prog.Params), "duration", time.Since(startedAt))

	return prog, nil
}

// Save writes a Program to a model file. Used by tooling and tests that
// build fixture models.
func Save(ctx context.Context, prog *Program, modelPath string) error {
	log := klog.FromContext(ctx)

	if err := prog.Validate(); err != nil {
		return fmt.Errorf("invalid program: %w", err)
	}

	data, err := sonic.Marshal(prog)
	if err != nil {
		return fmt.Errorf("encoding program: %w", err)
	}

	if err := os.WriteFile(modelPath, data, 0644); err != nil {
		return fmt.Errorf("writing model file %q: %w", modelPath, err)
	}

	log.Info("saved model", "path", modelPath, "bytes", len(data))

	return nil
}
