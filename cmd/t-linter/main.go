package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/koxudaxi/t-linter/cmd/t-linter/check"
	servelsp "github.com/koxudaxi/t-linter/cmd/t-linter/serve-lsp"
	"github.com/koxudaxi/t-linter/cmd/t-linter/stats"
	"github.com/koxudaxi/t-linter/pkg/debug"
	"github.com/koxudaxi/t-linter/pkg/lsp"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "t-linter: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var (
		logLevel string
		pretty   bool
	)

	root := &cobra.Command{
		Use:           "t-linter",
		Short:         "analyzer and language server for PEP 750 template strings",
		Version:       lsp.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&pretty, "pretty", false, "human readable log output")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		logger, err := debug.NewLogger(os.Stderr, logLevel, pretty)
		if err != nil {
			return err
		}
		cmd.SetContext(debug.NewContext(cmd.Context(), logger))
		return nil
	}

	root.AddCommand(
		servelsp.NewServeLSPCommand(),
		check.NewCheckCommand(),
		stats.NewStatsCommand(),
	)

	return root.ExecuteContext(ctx)
}
