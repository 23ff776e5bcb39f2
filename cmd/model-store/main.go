package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"

	"github.com/fathom-ml/fathom/pkg/models"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	log := klog.FromContext(ctx)

	listen := ":8080"
	cacheDir := os.Getenv("CACHE_DIR")
	if cacheDir == "" {
		// We expect CACHE_DIR to be set when running on kubernetes, but default sensibly for local dev
		cacheDir = "~/.cache/model-store/models"
	}
	flag.StringVar(&listen, "listen", listen, "listen address")
	flag.StringVar(&cacheDir, "cache-dir", cacheDir, "cache directory")
	flag.Parse()

	if strings.HasPrefix(cacheDir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("getting home directory: %w", err)
		}
		cacheDir = filepath.Join(homeDir, strings.TrimPrefix(cacheDir, "~/"))
	}

	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return fmt.Errorf("creating cache directory %q: %w", cacheDir, err)
	}

	cacheBucket := os.Getenv("CACHE_BUCKET")
	if cacheBucket == "" {
		return fmt.Errorf("must specify CACHE_BUCKET env var")
	}

	var store models.Store

	if strings.HasPrefix(cacheBucket, "gs://") {
		cacheBucket = strings.TrimPrefix(cacheBucket, "gs://")
		log.Info("using GCS store", "bucket", cacheBucket)

		store = &models.GCSStore{
			Bucket: cacheBucket,
		}
	} else {
		return fmt.Errorf("CACHE_BUCKET must be a GCS bucket URL (gs://<bucketName>)")
	}

	modelCache := &modelCache{
		BaseDir: cacheDir,
		store:   store,
	}

	s := &httpServer{
		modelCache: modelCache,
	}

	klog.Infof("serving on %q", listen)
	if err := http.ListenAndServe(listen, s); err != nil {
		return fmt.Errorf("serving on %q: %w", listen, err)
	}

	return nil
}

type httpServer struct {
	modelCache *modelCache
}

func (s *httpServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/")
	if name != "" && !strings.Contains(name, "..") {
		if r.Method == "GET" {
			s.serveGETModel(w, r, name)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	http.Error(w, "not found", http.StatusNotFound)
}

func (s *httpServer) serveGETModel(w http.ResponseWriter, r *http.Request, name string) {
	ctx := r.Context()

	log := klog.FromContext(ctx)

	f, err := s.modelCache.GetModel(ctx, name)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		log.Error(err, "error getting model")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	defer f.Close()
	p := f.Name()

	klog.Infof("serving model %q", p)
	http.ServeFile(w, r, p)
}

type modelCache struct {
	BaseDir string
	store   models.Store
}

// GetModel returns a local file for the named model, fetching it from the
// backing store on a cache miss.
func (c *modelCache) GetModel(ctx context.Context, name string) (*os.File, error) {
	localPath := filepath.Join(c.BaseDir, filepath.Base(name))
	f, err := os.Open(localPath)
	if err == nil {
		return f, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("opening model %q: %w", name, err)
	}

	ref := models.ModelRef{Name: name}
	if err := c.store.Fetch(ctx, ref, localPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, status.Errorf(codes.NotFound, "model %q not found", name)
		}
		return nil, fmt.Errorf("fetching model %q: %w", name, err)
	}

	f, err = os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("opening fetched model %q: %w", name, err)
	}
	return f, nil
}
