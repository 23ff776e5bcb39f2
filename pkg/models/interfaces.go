// Package models fetches serialized model files from remote stores to local
// disk, where program.Load can read them.
package models

import "context"

type Fetcher interface {
	// Fetch downloads the model to destPath. If no such model exists,
	// Fetch should return an error for which errors.Is(err, os.ErrNotExist)
	// is true.
	Fetch(ctx context.Context, ref ModelRef, destPath string) error
}

type Store interface {
	Fetcher
	// Publish uploads the model file at sourcePath under the given ref.
	// If the model already exists in the store, Publish should do nothing
	// and return no error.
	Publish(ctx context.Context, sourcePath string, ref ModelRef) error
}

// ModelRef names one published model. Version may be empty for unversioned
// stores.
type ModelRef struct {
	Name    string
	Version string
}

// Key returns the object key the ref maps to.
func (r ModelRef) Key() string {
	if r.Version == "" {
		return r.Name
	}
	return r.Name + "/" + r.Version
}
