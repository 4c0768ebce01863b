package commands

import (
	"context"

	"github.com/spf13/cobra"
)

func newStatsCommand(sig Signals) *cobra.Command {
	var fromFile bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Report the module's managed resource count",
		Long: `Query the backend for the number of resources the module currently
manages. With --from-file the count written by the last apply or destroy
is read back instead of running a fresh query, which is the safe choice
after a crashed operation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), sig)
			if err != nil {
				return err
			}
			defer rt.close(cmd.Context())

			return rt.runStep(cmd.Context(), "stats", func(ctx context.Context) (*string, *string, error) {
				var count int
				if fromFile {
					count = rt.engine.ReadStatisticsFromFile()
				} else {
					count, err = rt.engine.Statistics(ctx)
					if err != nil {
						return nil, stderrOf(err), err
					}
				}

				rt.metrics.SetResourcesManaged(rt.job.ModuleID, rt.settings.Backend.Name, count)
				return nil, nil, printJSON(map[string]int{"resources": count})
			})
		},
	}

	cmd.Flags().BoolVar(&fromFile, "from-file", false, "read the last recorded count instead of querying the backend")
	return cmd
}
