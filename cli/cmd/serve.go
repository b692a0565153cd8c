package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zipcase/zipcase/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps()
		if err != nil {
			return err
		}
		defer d.Close()

		srv := api.NewServer(d.store, d.processor, d.checker, d.exporter, []byte(d.cfg.JWTSecret), d.logger)

		ctx, stop := signalContext()
		defer stop()
		go func() {
			<-ctx.Done()
			d.logger.Info("shutting down")
			if err := srv.Shutdown(); err != nil {
				d.logger.WithError(err).Error("shutdown failed")
			}
		}()

		d.logger.WithField("addr", d.cfg.ListenAddr).Info("api listening")
		return srv.Listen(d.cfg.ListenAddr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
