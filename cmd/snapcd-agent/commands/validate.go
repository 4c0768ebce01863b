package commands

import (
	"context"

	"github.com/spf13/cobra"
)

func newValidateCommand(sig Signals) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the module configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), sig)
			if err != nil {
				return err
			}
			defer rt.close(cmd.Context())

			return rt.runStep(cmd.Context(), "validate", func(ctx context.Context) (*string, *string, error) {
				if err := rt.syncExtraFiles(); err != nil {
					return nil, nil, err
				}
				_, err := rt.engine.Validate(ctx, hooks())
				return nil, stderrOf(err), err
			})
		},
	}
}
