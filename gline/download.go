package gline

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gomlx/go-huggingface/hub"
)

// ErrIncompatibleModel is returned when a Hugging Face repository has no ONNX export
// the binding can load.
var ErrIncompatibleModel = errors.New("gline: model repository has no model.onnx")

var modelFileCandidates = []string{"model.onnx", "onnx/model.onnx"}

const tokenizerFile = "tokenizer.json"

var downloadCacheFallbackWarnOnce sync.Once

// DownloadOption configures DownloadModel.
type DownloadOption func(*downloadConfig) error

type downloadConfig struct {
	cacheDir  string
	authToken string
}

// WithDownloadCacheDir sets where model files are stored.
func WithDownloadCacheDir(dir string) DownloadOption {
	return func(cfg *downloadConfig) error {
		trimmed := strings.TrimSpace(dir)
		if trimmed == "" {
			return fmt.Errorf("download cache directory cannot be empty")
		}
		cfg.cacheDir = trimmed
		return nil
	}
}

// WithDownloadAuthToken sets the Hugging Face token used for gated repositories.
// Defaults to HF_TOKEN.
func WithDownloadAuthToken(token string) DownloadOption {
	return func(cfg *downloadConfig) error {
		cfg.authToken = strings.TrimSpace(token)
		return nil
	}
}

// fileFetcher is the part of a hub repository DownloadModel needs.
type fileFetcher interface {
	DownloadFile(file string) (string, error)
}

var newFileFetcher = func(modelID string, cfg downloadConfig) fileFetcher {
	repo := hub.New(modelID).WithCacheDir(cfg.cacheDir)
	if cfg.authToken != "" {
		repo = repo.WithAuth(cfg.authToken)
	}
	return repo
}

// DownloadModel fetches model.onnx (or onnx/model.onnx) and tokenizer.json for
// modelID, e.g. "onnx-community/gliner_small-v2.1", and returns their local paths.
func DownloadModel(modelID string, opts ...DownloadOption) (modelPath, tokenizerPath string, err error) {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return "", "", fmt.Errorf("model ID cannot be empty")
	}

	cfg := downloadConfig{authToken: strings.TrimSpace(os.Getenv("HF_TOKEN"))}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return "", "", err
		}
	}
	if cfg.cacheDir == "" {
		cfg.cacheDir = defaultDownloadCacheDir()
	}

	repo := newFileFetcher(modelID, cfg)

	var attempts []error
	for _, candidate := range modelFileCandidates {
		path, dlErr := repo.DownloadFile(candidate)
		if dlErr == nil {
			modelPath = path
			break
		}
		attempts = append(attempts, fmt.Errorf("%s: %w", candidate, dlErr))
	}
	if modelPath == "" {
		return "", "", fmt.Errorf("%w: %s (tried %s): %w", ErrIncompatibleModel, modelID, strings.Join(modelFileCandidates, ", "), errors.Join(attempts...))
	}

	tokenizerPath, err = repo.DownloadFile(tokenizerFile)
	if err != nil {
		return "", "", fmt.Errorf("failed to download %s for %s: %w", tokenizerFile, modelID, err)
	}

	return modelPath, tokenizerPath, nil
}

// NewSpanModelFromHub downloads modelID and loads it as a span model.
func (l *Library) NewSpanModelFromHub(modelID string, opts ...DownloadOption) (*SpanModel, error) {
	modelPath, tokenizerPath, err := DownloadModel(modelID, opts...)
	if err != nil {
		return nil, err
	}
	return l.NewSpanModel(modelPath, tokenizerPath)
}

// NewTokenModelFromHub downloads modelID and loads it as a token model.
func (l *Library) NewTokenModelFromHub(modelID string, opts ...DownloadOption) (*TokenModel, error) {
	modelPath, tokenizerPath, err := DownloadModel(modelID, opts...)
	if err != nil {
		return nil, err
	}
	return l.NewTokenModel(modelPath, tokenizerPath)
}

// NewRelationModelFromHub downloads modelID and loads it as a relation model.
func (l *Library) NewRelationModelFromHub(modelID string, opts ...DownloadOption) (*RelationModel, error) {
	modelPath, tokenizerPath, err := DownloadModel(modelID, opts...)
	if err != nil {
		return nil, err
	}
	return l.NewRelationModel(modelPath, tokenizerPath)
}

func defaultDownloadCacheDir() string {
	cacheDir, err := os.UserCacheDir()
	if err == nil && cacheDir != "" {
		return filepath.Join(cacheDir, "gline-rs")
	}

	fallback := filepath.Join(os.TempDir(), "gline-rs")
	downloadCacheFallbackWarnOnce.Do(func() {
		log.Printf("WARNING: failed to resolve user cache directory; storing models under %q", fallback)
	})
	return fallback
}
