package plugins

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// Importer applies one kind of plugin manifest.
type Importer interface {
	Import(ctx context.Context, manifest Manifest) error
}

// ImporterFunc adapts a function to Importer.
type ImporterFunc func(ctx context.Context, manifest Manifest) error

// Import implements Importer.
func (f ImporterFunc) Import(ctx context.Context, manifest Manifest) error {
	return f(ctx, manifest)
}

// UnknownTypeError is returned for a manifest whose type has no importer.
type UnknownTypeError struct {
	Plugin string
	Type   string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("plugins: %s: unknown plugin type %q", e.Plugin, e.Type)
}

// Registry dispatches manifests to importers by type.
type Registry struct {
	mu        sync.RWMutex
	importers map[string]Importer
	logger    *slog.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{importers: make(map[string]Importer), logger: logger}
}

// Register binds an importer to a manifest type, replacing any previous one.
func (r *Registry) Register(pluginType string, importer Importer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.importers[strings.ToLower(strings.TrimSpace(pluginType))] = importer
}

// Types lists the registered manifest types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.importers))
	for t := range r.importers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Import hands one manifest to its importer.
func (r *Registry) Import(ctx context.Context, manifest Manifest) error {
	r.mu.RLock()
	importer, ok := r.importers[strings.ToLower(strings.TrimSpace(manifest.Type))]
	r.mu.RUnlock()
	if !ok {
		return &UnknownTypeError{Plugin: manifest.Name, Type: manifest.Type}
	}
	if err := importer.Import(ctx, manifest); err != nil {
		return fmt.Errorf("plugins: import %s: %w", manifest.Name, err)
	}
	r.logger.Info("plugin imported",
		slog.String("plugin", manifest.Name),
		slog.String("type", manifest.Type),
		slog.String("version", manifest.Version))
	return nil
}

// LoadDir imports every plugin found in the immediate subdirectories of
// root, in name order. A broken plugin does not stop the others; all
// failures are joined into the returned error. A missing root is not an error.
func (r *Registry) LoadDir(ctx context.Context, root string) ([]string, error) {
	return r.LoadFS(ctx, afero.NewOsFs(), root)
}

// LoadFS is LoadDir over an arbitrary filesystem.
func (r *Registry) LoadFS(ctx context.Context, fsys afero.Fs, root string) ([]string, error) {
	if strings.TrimSpace(root) == "" {
		return nil, nil
	}
	entries, err := afero.ReadDir(fsys, root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("plugins: read dir: %w", err)
	}
	var (
		loaded []string
		errs   []error
	)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return loaded, err
		}
		manifest, err := ReadManifestFS(fsys, filepath.Join(root, entry.Name()))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := r.Import(ctx, manifest); err != nil {
			r.logger.Warn("plugin rejected", slog.String("plugin", manifest.Name), slog.Any("error", err))
			errs = append(errs, err)
			continue
		}
		loaded = append(loaded, manifest.Name)
	}
	return loaded, errors.Join(errs...)
}
