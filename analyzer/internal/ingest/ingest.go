package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sweeplab/sweepfit/pkg/types"
)

// document is the on-disk YAML/JSON layout.
type document struct {
	Sweeps []types.Sweep `yaml:"sweeps"`
}

// Load reads the sweeps in one file or URL, choosing the decoder by scheme
// and extension.
func Load(ctx context.Context, path string) ([]types.Sweep, error) {
	var (
		sweeps []types.Sweep
		err    error
	)
	switch {
	case strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://"):
		sweeps, err = fetchExposition(ctx, path)
	case isExposition(path):
		var f *os.File
		if f, err = os.Open(path); err != nil {
			return nil, fmt.Errorf("ingest: open %q: %w", path, err)
		}
		defer f.Close()
		sweeps, err = parseExposition(f)
	default:
		var data []byte
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("ingest: read %q: %w", path, err)
		}
		sweeps, err = parseDocument(data)
	}
	if err != nil {
		return nil, fmt.Errorf("ingest: %q: %w", path, err)
	}
	for i := range sweeps {
		sweeps[i].SortByX()
	}
	return sweeps, nil
}

// LoadAll expands glob patterns and loads every match in lexical order. A
// file that fails to load is logged and skipped; its error is included in
// the joined error returned alongside the sweeps that did load. Duplicate
// sweep IDs are rejected after the first occurrence.
func LoadAll(ctx context.Context, patterns []string) ([]types.Sweep, error) {
	paths, err := Expand(patterns)
	if err != nil {
		return nil, err
	}

	var (
		out  []types.Sweep
		errs []error
		seen = make(map[string]string)
	)
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		sweeps, err := Load(ctx, p)
		if err != nil {
			slog.Warn("ingest: load failed, skipping", "path", p, "err", err)
			errs = append(errs, err)
			continue
		}
		for _, s := range sweeps {
			if prev, dup := seen[s.ID]; dup {
				err := fmt.Errorf("ingest: %q: duplicate sweep id %q (first in %q)", p, s.ID, prev)
				slog.Warn("ingest: duplicate sweep, skipping", "path", p, "sweep", s.ID)
				errs = append(errs, err)
				continue
			}
			seen[s.ID] = p
			out = append(out, s)
		}
		slog.Debug("ingest: loaded", "path", p, "sweeps", len(sweeps))
	}
	return out, errors.Join(errs...)
}

// Expand resolves glob patterns to a sorted, de-duplicated list. URLs and
// patterns without metacharacters pass through unchanged. Directories expand
// to the sweep files they contain.
func Expand(patterns []string) ([]string, error) {
	set := make(map[string]bool)
	for _, pat := range patterns {
		switch {
		case strings.HasPrefix(pat, "http://") || strings.HasPrefix(pat, "https://"):
			set[pat] = true
		case isDir(pat):
			entries, err := os.ReadDir(pat)
			if err != nil {
				return nil, fmt.Errorf("ingest: read dir %q: %w", pat, err)
			}
			for _, e := range entries {
				if !e.IsDir() && Supported(e.Name()) {
					set[filepath.Join(pat, e.Name())] = true
				}
			}
		case strings.ContainsAny(pat, "*?["):
			matches, err := filepath.Glob(pat)
			if err != nil {
				return nil, fmt.Errorf("ingest: bad pattern %q: %w", pat, err)
			}
			for _, m := range matches {
				set[m] = true
			}
		default:
			set[pat] = true
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// Supported reports whether name has an extension Load understands.
func Supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json", ".prom", ".txt":
		return true
	}
	return false
}

func isExposition(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".prom", ".txt":
		return true
	}
	return false
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// parseDocument decodes {sweeps: [...]}, a bare list, or a single sweep.
func parseDocument(data []byte) ([]types.Sweep, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, fmt.Errorf("empty document")
	}
	node := root.Content[0]

	var sweeps []types.Sweep
	switch node.Kind {
	case yaml.SequenceNode:
		if err := node.Decode(&sweeps); err != nil {
			return nil, fmt.Errorf("decode sweeps: %w", err)
		}
	case yaml.MappingNode:
		if hasKey(node, "sweeps") {
			var doc document
			if err := node.Decode(&doc); err != nil {
				return nil, fmt.Errorf("decode sweeps: %w", err)
			}
			sweeps = doc.Sweeps
		} else {
			var s types.Sweep
			if err := node.Decode(&s); err != nil {
				return nil, fmt.Errorf("decode sweep: %w", err)
			}
			sweeps = []types.Sweep{s}
		}
	default:
		return nil, fmt.Errorf("unexpected top-level yaml kind %d", node.Kind)
	}

	for i, s := range sweeps {
		if s.ID == "" {
			return nil, fmt.Errorf("sweeps[%d]: id is required", i)
		}
		if len(s.Points) == 0 {
			return nil, fmt.Errorf("sweep %q: no points", s.ID)
		}
	}
	return sweeps, nil
}

func hasKey(m *yaml.Node, key string) bool {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return true
		}
	}
	return false
}
