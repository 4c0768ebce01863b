package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snapcd/agent/pkg/config"
	"github.com/snapcd/agent/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit int
		step  string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded lifecycle steps for a module",
		Long: `Read the local run history for the module identified by --module-id,
newest first. With --step only the most recent record for that step is
printed. Requires history to be enabled in the settings file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if !settings.History.Enabled {
				return fmt.Errorf("history is disabled; enable it in %s to record and list steps", configPath)
			}
			if moduleID == "" {
				return fmt.Errorf("--module-id is required")
			}

			store, err := stores.NewSQLiteStore(settings.History.DatabasePath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := store.Init(ctx); err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(ctx); err != nil {
				return err
			}

			if step != "" {
				rec, err := store.LastStep(ctx, moduleID, step)
				if err != nil {
					return err
				}
				if rec == nil {
					return fmt.Errorf("no %q step recorded for module %s", step, moduleID)
				}
				return printJSON(rec)
			}

			records, err := store.ListSteps(ctx, moduleID, limit)
			if err != nil {
				return err
			}
			return printJSON(records)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of records to list")
	cmd.Flags().StringVar(&step, "step", "", "print only the most recent record for this step")
	return cmd
}
