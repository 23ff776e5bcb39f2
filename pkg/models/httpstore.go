package models

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"
)

// HTTPStore fetches model files from a model-store server.
type HTTPStore struct {
	// BaseURL is the base URL of the model-store server, typically
	// http://model-store
	BaseURL *url.URL
}

var _ Fetcher = (*HTTPStore)(nil)

func (s *HTTPStore) Fetch(ctx context.Context, ref ModelRef, destPath string) error {
	u := s.BaseURL.JoinPath(ref.Key())
	return s.downloadToFile(ctx, u.String(), destPath)
}

func (s *HTTPStore) downloadToFile(ctx context.Context, url string, destPath string) error {
	log := klog.FromContext(ctx)

	dir := filepath.Dir(destPath)
	tempFile, err := os.CreateTemp(dir, "model")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	shouldDeleteTempFile := true
	defer func() {
		if shouldDeleteTempFile {
			if err := os.Remove(tempFile.Name()); err != nil {
				log.Error(err, "removing temp file", "path", tempFile.Name())
			}
		}
	}()

	shouldCloseTempFile := true
	defer func() {
		if shouldCloseTempFile {
			if err := tempFile.Close(); err != nil {
				log.Error(err, "closing temp file", "path", tempFile.Name())
			}
		}
	}()

	if err := s.downloadToWriter(ctx, url, tempFile); err != nil {
		return fmt.Errorf("downloading from %q: %w", url, err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	shouldCloseTempFile = false

	if err := os.Rename(tempFile.Name(), destPath); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	shouldDeleteTempFile = false

	return nil
}

func (s *HTTPStore) downloadToWriter(ctx context.Context, url string, w io.Writer) error {
	log := klog.FromContext(ctx)

	log.Info("downloading from url", "url", url)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("doing request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// OK
	case http.StatusNotFound:
		return fmt.Errorf("model at %q: %w", url, os.ErrNotExist)
	default:
		return fmt.Errorf("unexpected status %q from %q", resp.Status, url)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	return nil
}
