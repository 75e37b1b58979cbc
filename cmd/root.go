package cmd

import (
	"casequeue/internal/config"
	"casequeue/internal/worker"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func Run() {
	var command = &cobra.Command{
		Use:   "casequeue",
		Short: "Task queue and admission control for the legal AI services",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			worker.SetupLogger(config.Load().Log)
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	command.AddCommand(serveCmd())
	command.AddCommand(statusCmd())
	command.AddCommand(pruneCmd())

	if err := command.Execute(); err != nil {
		log.Fatal().Msgf("failed to execute command, err: %v", err.Error())
	}
}
