package cmd

import (
	"casequeue/internal/config"
	"casequeue/internal/worker"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var port int
	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the queue manager and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			log.Info().Msgf("queue using %s store", cfg.Store.Driver)
			return worker.Run(cfg, port)
		},
	}

	command.Flags().IntVarP(&port, "port", "p", 0, "Port to run the server on (default HTTP_PORT)")
	return command
}
