package commands

import (
	"context"

	"github.com/spf13/cobra"
)

func newOutputCommand(sig Signals) *cobra.Command {
	var extraFileOutputs []string

	cmd := &cobra.Command{
		Use:   "output",
		Short: "Dump and normalize the module's outputs",
		Long: `Run the backend's output dump, build the normalized output set and print
it as JSON. The set's checksum is stable for identical dumps, letting
callers skip redundant uploads.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), sig)
			if err != nil {
				return err
			}
			defer rt.close(cmd.Context())

			fromExtraFiles := make(map[string]bool, len(extraFileOutputs))
			for _, name := range extraFileOutputs {
				fromExtraFiles[name] = true
			}

			return rt.runStep(cmd.Context(), "output", func(ctx context.Context) (*string, *string, error) {
				set, err := rt.engine.Output(ctx, hooks(), fromExtraFiles)
				if err != nil {
					return nil, stderrOf(err), err
				}
				return nil, nil, printJSON(set)
			})
		},
	}

	cmd.Flags().StringArrayVar(&extraFileOutputs, "extra-file-output", nil, "output name sourced from an extra file (repeatable)")
	return cmd
}
