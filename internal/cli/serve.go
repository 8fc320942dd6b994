// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bodaay/formerhub/internal/server"
)

func newServeCmd(ro *RootOpts, version string) *cobra.Command {
	var (
		addr    string
		port    int
		origins []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start an HTTP server that provides:
  - REST API for support lists, resolution and builds
  - Background checkpoint prefetch jobs
  - WebSocket for live job updates

Only bare identifiers are accepted over the API; the cache and template
locations are configured server-side.

Example:
  formerhub serve
  formerhub serve --port 3000 --endpoint https://mirror.example/checkpoints`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// The server reports progress per job, not on the terminal.
			ro.Quiet = true
			ro.BareOnly = true
			s, err := openSession(cmd, ro)
			if err != nil {
				return err
			}
			defer s.close()

			cfg := server.DefaultConfig()
			cfg.Addr = addr
			cfg.Port = port
			cfg.AllowedOrigins = origins
			cfg.Version = version
			srv := server.New(cfg, s.hub, s.logger)

			out := cmd.OutOrStdout()
			title := color.New(color.Bold).SprintFunc()
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  %s %s\n", title("formerhub"), version)
			fmt.Fprintf(out, "  API:   http://localhost:%d/api\n", port)
			fmt.Fprintf(out, "  Cache: %s\n", s.hub.Settings().CacheDir)
			fmt.Fprintln(out)

			return srv.ListenAndServe(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "0.0.0.0", "Address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	cmd.Flags().StringSliceVar(&origins, "allow-origin", nil, "Allowed CORS origins (default: any)")

	return cmd
}
