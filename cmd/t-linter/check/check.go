// Package check lints Python files for template-string problems from the
// command line.
package check

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/koxudaxi/t-linter/pkg/analysis"
	"github.com/koxudaxi/t-linter/pkg/config"
	"github.com/koxudaxi/t-linter/pkg/position"
	"github.com/koxudaxi/t-linter/pkg/resolve"
	"github.com/koxudaxi/t-linter/pkg/workspace"
)

// Issue is one reported finding in CLI output.
type Issue struct {
	Path     string `json:"path"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Severity string `json:"severity"`
	Source   string `json:"source"`
	Message  string `json:"message"`
}

func NewCheckCommand() *cobra.Command {
	var (
		format        string
		errorOnIssues bool
		configPath    string
	)

	cmd := &cobra.Command{
		Use:   "check [root]",
		Short: "analyze a directory of Python files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			if format != "human" && format != "json" {
				return errors.Errorf("unknown format %q", format)
			}

			settings := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				settings = loaded
			}

			ctx := zerolog.Ctx(cmd.Context()).With().
				Str("run", uuid.NewString()).
				Logger().WithContext(cmd.Context())

			issues, err := runCheck(ctx, root, settings)
			if err != nil {
				return err
			}
			if err := report(cmd.OutOrStdout(), format, issues); err != nil {
				return err
			}
			if errorOnIssues && len(issues) > 0 {
				return errors.Errorf("found %d issues", len(issues))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "human", "output format (human, json)")
	cmd.Flags().BoolVar(&errorOnIssues, "error-on-issues", false, "exit nonzero when issues are found")
	cmd.Flags().StringVar(&configPath, "config", "", "HCL settings file")
	return cmd
}

func runCheck(ctx context.Context, root string, settings config.Settings) ([]Issue, error) {
	ws := workspace.New(root)
	files, err := ws.PythonFiles()
	if err != nil {
		return nil, err
	}

	engine := analysis.NewEngine(&resolve.Resolver{}, settings)
	var issues []Issue
	var merr *multierror.Error
	for _, path := range files {
		text, err := ws.ReadFile(path)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		snap, err := engine.Analyze(ctx, path, 0, text, nil)
		if err != nil {
			merr = multierror.Append(merr, errors.Errorf("analyzing %s: %w", path, err))
			continue
		}
		issues = append(issues, issuesOf(path, snap)...)
	}
	return issues, merr.ErrorOrNil()
}

func issuesOf(path string, snap *analysis.Snapshot) []Issue {
	out := make([]Issue, 0, len(snap.Diagnostics))
	for _, d := range snap.Diagnostics {
		place := position.PlaceOf(snap.Text, d.Span.Start)
		out = append(out, Issue{
			Path:     path,
			Line:     place.Line + 1,
			Column:   place.Character + 1,
			Severity: string(d.Severity),
			Source:   d.Source(),
			Message:  d.Message,
		})
	}
	return out
}

func report(w io.Writer, format string, issues []Issue) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if issues == nil {
			issues = []Issue{}
		}
		return enc.Encode(issues)
	}
	for _, is := range issues {
		fmt.Fprintf(w, "%s:%d:%d: %s: %s [%s]\n",
			is.Path, is.Line, is.Column, is.Severity, is.Message, is.Source)
	}
	if len(issues) == 0 {
		fmt.Fprintln(w, "no issues found")
	}
	return nil
}
