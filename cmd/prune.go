package cmd

import (
	"casequeue/internal/config"
	"casequeue/internal/worker"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func pruneCmd() *cobra.Command {
	var olderThan time.Duration
	var command = &cobra.Command{
		Use:   "prune",
		Short: "Delete completed and failed tasks older than a duration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			store, err := worker.OpenStore(cmd.Context(), config.Load())
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			log.Info().Int64("removed", n).Dur("older_than", olderThan).Msg("pruned task history")
			return nil
		},
	}

	command.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "Remove finished tasks completed before now minus this duration")
	return command
}
