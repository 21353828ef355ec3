package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/opensource-finance/credittwin/internal/config"
	"github.com/opensource-finance/credittwin/internal/domain"
	"github.com/opensource-finance/credittwin/internal/index"
	"github.com/opensource-finance/credittwin/internal/ingest"
	"github.com/opensource-finance/credittwin/internal/repository"
	"gopkg.in/yaml.v3"
)

// env is an opened repository and index pair.
type env struct {
	cfg    *domain.Config
	repo   domain.Repository
	index  domain.NeighborIndex
	corpus *ingest.Service
}

func openEnv() (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	idx, err := index.New(cfg.Index)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to open neighbour index: %w", err)
	}

	return &env{
		cfg:    cfg,
		repo:   repo,
		index:  idx,
		corpus: ingest.NewService(repo, idx, ingest.WithBatchSize(cfg.Index.BatchSize)),
	}, nil
}

// hydrate makes an in-process index usable before a query.
func (e *env) hydrate(ctx context.Context) error {
	_, err := e.corpus.Hydrate(ctx)
	return err
}

func (e *env) Close() {
	e.index.Close()
	e.repo.Close()
}

// render writes v in the selected output format.
func render(w io.Writer, v any) error {
	switch strings.ToLower(output) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(toPlain(v))
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}

// toPlain round-trips v through JSON so YAML output uses the JSON field names.
func toPlain(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var plain any
	if err := json.Unmarshal(raw, &plain); err != nil {
		return v
	}
	return plain
}

// decodeFile reads a JSON or YAML document into dst, chosen by extension.
// YAML keys follow the JSON field names.
func decodeFile(path string, dst any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return err
		}
		if raw, err = json.Marshal(doc); err != nil {
			return err
		}
	}
	return json.Unmarshal(raw, dst)
}
