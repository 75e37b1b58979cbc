package cmd

import (
	"casequeue/internal/config"
	"casequeue/internal/domain"
	"casequeue/internal/worker"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	var command = &cobra.Command{
		Use:   "status",
		Short: "Print per service type task counts as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := worker.OpenStore(cmd.Context(), config.Load())
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				QueueStats domain.QueueStats `json:"queue_stats"`
				Limits     domain.Limits     `json:"limits"`
			}{stats, domain.DefaultLimits})
		},
	}
	return command
}
