// Package servelsp runs the language server over stdio.
package servelsp

import (
	"os"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/koxudaxi/t-linter/pkg/config"
	"github.com/koxudaxi/t-linter/pkg/lsp"
	"github.com/koxudaxi/t-linter/pkg/lsp/protocol"
)

func NewServeLSPCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve-lsp",
		Short: "serve the language protocol over stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			settings := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				settings = loaded
			}

			logger := zerolog.Ctx(ctx).With().
				Str("session", xid.New().String()).
				Logger()
			ctx = logger.WithContext(ctx)

			srv := lsp.NewServer(settings)
			inst := protocol.NewInstance(srv)
			srv.SetPublisher(inst)
			srv.OnExit = inst.Stop

			return inst.StartAndWait(ctx, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "HCL settings file")
	return cmd
}
