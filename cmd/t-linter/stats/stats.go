// Package stats summarizes template-string usage across a directory.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/koxudaxi/t-linter/pkg/analysis"
	"github.com/koxudaxi/t-linter/pkg/config"
	"github.com/koxudaxi/t-linter/pkg/langtag"
	"github.com/koxudaxi/t-linter/pkg/resolve"
	"github.com/koxudaxi/t-linter/pkg/workspace"
)

func NewStatsCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "stats [root]",
		Short: "report template-string statistics for a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			if format != "human" && format != "json" {
				return errors.Errorf("unknown format %q", format)
			}

			total, err := collect(cmd.Context(), root)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), format, total)
		},
	}
	cmd.Flags().StringVar(&format, "format", "human", "output format (human, json)")
	return cmd
}

func collect(ctx context.Context, root string) (langtag.Statistics, error) {
	total := langtag.Statistics{
		ByLanguageTag: map[langtag.Tag]int{},
		BySource:      map[langtag.Source]int{},
	}

	ws := workspace.New(root)
	files, err := ws.PythonFiles()
	if err != nil {
		return total, err
	}

	engine := analysis.NewEngine(&resolve.Resolver{}, config.Default())
	for _, path := range files {
		text, err := ws.ReadFile(path)
		if err != nil {
			return total, err
		}
		snap, err := engine.Analyze(ctx, path, 0, text, nil)
		if err != nil {
			return total, errors.Errorf("analyzing %s: %w", path, err)
		}
		stats := snap.Statistics()
		total.TotalTemplateStrings += stats.TotalTemplateStrings
		total.UntypedCount += stats.UntypedCount
		total.UnknownCount += stats.UnknownCount
		for tag, n := range stats.ByLanguageTag {
			total.ByLanguageTag[tag] += n
		}
		for src, n := range stats.BySource {
			total.BySource[src] += n
		}
	}
	return total, nil
}

func render(w io.Writer, format string, total langtag.Statistics) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(total)
	}

	fmt.Fprintf(w, "template strings: %d\n", total.TotalTemplateStrings)
	fmt.Fprintf(w, "untyped:          %d\n", total.UntypedCount)
	fmt.Fprintf(w, "unknown:          %d\n", total.UnknownCount)
	fmt.Fprintln(w, "by language:")
	for _, tag := range sortedTags(total.ByLanguageTag) {
		fmt.Fprintf(w, "  %-12s %d\n", tag, total.ByLanguageTag[tag])
	}
	return nil
}

func sortedTags(m map[langtag.Tag]int) []langtag.Tag {
	out := make([]langtag.Tag, 0, len(m))
	for tag := range m {
		out = append(out, tag)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
