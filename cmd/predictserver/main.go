package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"

	"github.com/fathom-ml/fathom/pkg/models"
	"github.com/fathom-ml/fathom/pkg/predictor"
	"github.com/fathom-ml/fathom/pkg/program"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// config is the predictserver YAML configuration file.
type config struct {
	Listen string `yaml:"listen"`
	Place  string `yaml:"place"`
	Model  struct {
		Name string `yaml:"name"`
		// Path is a local file path, or empty when Store is set.
		Path string `yaml:"path"`
		// Store is the remote store to fetch from: gs://<bucket> or the
		// base URL of a model-store server.
		Store    string `yaml:"store"`
		CacheDir string `yaml:"cache_dir"`
	} `yaml:"model"`
}

func loadConfig(path string) (*config, error) {
	cfg := &config{}
	cfg.Listen = ":8080"
	cfg.Place = "cpu"

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %q: %w", path, err)
		}
	}

	// Environment overrides, for kubernetes-style deployment.
	if v := os.Getenv("LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("MODEL_PATH"); v != "" {
		cfg.Model.Path = v
	}
	if v := os.Getenv("MODEL_STORE"); v != "" {
		cfg.Model.Store = v
	}
	if v := os.Getenv("MODEL_NAME"); v != "" {
		cfg.Model.Name = v
	}

	return cfg, nil
}

func run(ctx context.Context) error {
	log := klog.FromContext(ctx)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("loading .env: %w", err)
	}

	configPath := os.Getenv("CONFIG_PATH")
	flag.StringVar(&configPath, "config", configPath, "path to YAML config file")

	klog.InitFlags(nil)
	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	modelPath, err := resolveModel(ctx, cfg)
	if err != nil {
		return fmt.Errorf("resolving model: %w", err)
	}

	place, err := parsePlace(cfg.Place)
	if err != nil {
		return err
	}

	base, err := predictor.New(ctx, predictor.Config{
		ModelPath: modelPath,
		Place:     place,
	})
	if err != nil {
		return fmt.Errorf("creating predictor: %w", err)
	}
	defer base.Close()

	s := &httpServer{
		modelName: cfg.Model.Name,
		base:      base,
	}

	log.Info("serving predictions", "listen", cfg.Listen, "model", cfg.Model.Name, "feeds", base.FeedNames(), "fetches", base.FetchNames())
	if err := http.ListenAndServe(cfg.Listen, s); err != nil {
		return fmt.Errorf("serving on %q: %w", cfg.Listen, err)
	}

	return nil
}

// resolveModel returns a local path to the model file, fetching it from the
// configured store when it is not already local.
func resolveModel(ctx context.Context, cfg *config) (string, error) {
	if cfg.Model.Store == "" {
		if cfg.Model.Path == "" {
			return "", fmt.Errorf("must set model.path or model.store")
		}
		return cfg.Model.Path, nil
	}

	cacheDir := cfg.Model.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "fathom-models")
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return "", fmt.Errorf("creating cache directory %q: %w", cacheDir, err)
	}

	var fetcher models.Fetcher
	switch {
	case strings.HasPrefix(cfg.Model.Store, "gs://"):
		fetcher = &models.GCSStore{Bucket: strings.TrimPrefix(cfg.Model.Store, "gs://")}
	case strings.HasPrefix(cfg.Model.Store, "http://"), strings.HasPrefix(cfg.Model.Store, "https://"):
		baseURL, err := url.Parse(cfg.Model.Store)
		if err != nil {
			return "", fmt.Errorf("parsing store url %q: %w", cfg.Model.Store, err)
		}
		fetcher = &models.HTTPStore{BaseURL: baseURL}
	default:
		return "", fmt.Errorf("model.store %q must be a gs:// bucket or an http(s) URL", cfg.Model.Store)
	}

	loader := &models.Loader{
		Fetcher:     fetcher,
		MaxAttempts: 5,
	}

	localPath := filepath.Join(cacheDir, filepath.Base(cfg.Model.Name))
	ref := models.ModelRef{Name: cfg.Model.Name}
	if err := loader.Fetch(ctx, ref, localPath); err != nil {
		return "", fmt.Errorf("fetching model %q: %w", cfg.Model.Name, err)
	}
	return localPath, nil
}

func parsePlace(s string) (program.Place, error) {
	switch {
	case s == "" || s == "cpu":
		return program.CPUPlace(), nil
	case strings.HasPrefix(s, "gpu:"):
		var device int
		if _, err := fmt.Sscanf(s, "gpu:%d", &device); err != nil {
			return program.Place{}, fmt.Errorf("parsing place %q: %w", s, err)
		}
		return program.GPUPlace(device), nil
	default:
		return program.Place{}, fmt.Errorf("unknown place %q", s)
	}
}
