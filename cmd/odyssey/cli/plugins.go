package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/afero"

	"github.com/odyssey-feed/odyssey-feed/internal/content"
	"github.com/odyssey-feed/odyssey-feed/internal/plugins"
	"github.com/odyssey-feed/odyssey-feed/internal/rules"
)

// PluginsCLI checks plugin directories without touching live stores.
type PluginsCLI struct {
	fs afero.Fs
}

// NewPluginsCLI constructs the helper over fsys; nil means the OS filesystem.
func NewPluginsCLI(fsys afero.Fs) *PluginsCLI {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &PluginsCLI{fs: fsys}
}

// PluginsValidateOptions defines available flags for the plugins validate command.
type PluginsValidateOptions struct {
	Dir        string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// PluginsValidateSummary describes the JSON response for plugins validate.
type PluginsValidateSummary struct {
	OK           bool     `json:"ok"`
	Loaded       []string `json:"loaded"`
	ContentTypes []string `json:"content_types"`
	Rules        int      `json:"rules"`
	Errors       []string `json:"errors"`
}

// Validate imports every plugin under dir into throwaway registries.
func (c *PluginsCLI) Validate(ctx context.Context, dir string) (PluginsValidateSummary, error) {
	schemas := content.NewRegistry()
	ruleRepo := rules.NewMemoryRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := plugins.NewRegistry(logger)
	reg.Register("content", plugins.ContentImporter{Schemas: schemas})
	reg.Register("acl", plugins.ACLImporter{Rules: rules.NewService(ruleRepo, logger)})

	loaded, loadErr := reg.LoadFS(ctx, c.fs, dir)
	summary := PluginsValidateSummary{
		OK:           loadErr == nil,
		Loaded:       loaded,
		ContentTypes: schemas.Types(),
		Errors:       []string{},
	}
	if summary.Loaded == nil {
		summary.Loaded = []string{}
	}
	stored, err := ruleRepo.ListRules(ctx)
	if err != nil {
		return summary, err
	}
	summary.Rules = len(stored)
	if loadErr != nil {
		var joined interface{ Unwrap() []error }
		if errors.As(loadErr, &joined) {
			for _, e := range joined.Unwrap() {
				summary.Errors = append(summary.Errors, e.Error())
			}
		} else {
			summary.Errors = append(summary.Errors, loadErr.Error())
		}
	}
	return summary, nil
}

// ValidateCommand executes the plugins validate workflow and prints the outcome.
// Exit code 10 signals at least one rejected plugin.
func (c *PluginsCLI) ValidateCommand(ctx context.Context, opts PluginsValidateOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Dir == "" {
		_, _ = fmt.Fprintln(opts.Stderr, "plugins validate: directory is required")
		return 1
	}
	summary, err := c.Validate(ctx, opts.Dir)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "plugins validate: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "plugins validate: encode json: %v\n", err)
			return 1
		}
	} else {
		renderPluginsHuman(opts.Stdout, summary)
	}
	if !summary.OK {
		return 10
	}
	return 0
}

func renderPluginsHuman(w io.Writer, summary PluginsValidateSummary) {
	_, _ = fmt.Fprintf(w, "plugins loaded: %d\n", len(summary.Loaded))
	for _, name := range summary.Loaded {
		_, _ = fmt.Fprintf(w, "  ok   %s\n", name)
	}
	for _, msg := range summary.Errors {
		_, _ = fmt.Fprintf(w, "  fail %s\n", msg)
	}
	_, _ = fmt.Fprintf(w, "content types: %v\nacl rules: %d\n", summary.ContentTypes, summary.Rules)
}
