package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxpack/internal/devserver"
	"github.com/fluxbase-eu/fluxpack/internal/pubsub"
)

var (
	serveHost  string
	servePort  int
	serveWrite bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the bundle and rebuild on changes",
	Long: `Build the bundle, serve it together with the content base and rebuild
whenever a watched file changes. Pages served from the content base reload
after every successful rebuild. A failed rebuild keeps the last good bundle.

Examples:
  fluxpack serve
  fluxpack serve --port 9000
  fluxpack serve --write`,
	PreRunE: loadConfig,
	RunE:    runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides dev_server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides dev_server.port)")
	serveCmd.Flags().BoolVar(&serveWrite, "write", false, "also write artifacts after every successful build")
}

func runServe(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("host") {
		cfg.DevServer.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.DevServer.Port = servePort
	}
	if err := cfg.DevServer.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	p, err := newPipeline(ctx, serveWrite)
	if err != nil {
		return err
	}
	defer p.close()

	ps, err := pubsub.NewPubSub(&cfg.Notify)
	if err != nil {
		return err
	}
	defer ps.Close()

	hub, err := devserver.NewHub(ctx, ps, p.metrics)
	if err != nil {
		return err
	}

	return devserver.New(cfg, p.bundler, hub, p.metrics, p.tracer).Serve(ctx)
}
