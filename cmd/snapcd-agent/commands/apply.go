package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/snapcd/agent/pkg/plan"
	"github.com/snapcd/agent/pkg/policy"
)

func newApplyCommand(sig Signals) *cobra.Command {
	var skipPolicy bool

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply the saved plan artifact",
		Long: `Apply the plan artifact produced by the last plan. When the policy gate
is enabled the parsed summary is evaluated first; a denial blocks the apply.

The post-apply resource count lands in the statistics file even when the
apply itself fails, so partial progress is always reported.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutation(cmd.Context(), sig, "apply", skipPolicy)
		},
	}
	cmd.Flags().BoolVar(&skipPolicy, "skip-policy", false, "bypass the policy gate for this apply")
	return cmd
}

func newDestroyCommand(sig Signals) *cobra.Command {
	var skipPolicy bool

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Destroy from the saved destroy-plan artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutation(cmd.Context(), sig, "destroy", skipPolicy)
		},
	}
	cmd.Flags().BoolVar(&skipPolicy, "skip-policy", false, "bypass the policy gate for this destroy")
	return cmd
}

func runMutation(ctx context.Context, sig Signals, operation string, skipPolicy bool) error {
	rt, err := newRuntime(ctx, sig)
	if err != nil {
		return err
	}
	defer rt.close(ctx)

	return rt.runStep(ctx, operation, func(ctx context.Context) (*string, *string, error) {
		if err := rt.syncExtraFiles(); err != nil {
			return nil, nil, err
		}
		var summary *plan.Summary
		var parseErr error
		if operation == "destroy" {
			summary, parseErr = rt.engine.ParseDestroyPlan()
		} else {
			summary, parseErr = rt.engine.ParseApplyPlan()
		}
		if parseErr != nil {
			return nil, nil, parseErr
		}

		if rt.gate != nil && !skipPolicy {
			if err := rt.gate.Check(ctx, &policy.Input{
				Summary:  summary,
				Backend:  rt.settings.Backend.Name,
				ModuleID: rt.job.ModuleID,
				Limits: policy.Limits{
					MaxDeletes:  rt.settings.Policy.MaxDeletes,
					MaxReplaces: rt.settings.Policy.MaxReplaces,
				},
				Operation: operation,
			}); err != nil {
				return nil, nil, err
			}
		}

		var runErr error
		if operation == "destroy" {
			_, runErr = rt.engine.DestroyFromPlan(ctx, hooks())
		} else {
			_, runErr = rt.engine.ApplyFromPlan(ctx, hooks())
		}

		// The statistics file is written even on failure; publish what we
		// have.
		rt.metrics.SetResourcesManaged(rt.job.ModuleID, rt.settings.Backend.Name, rt.engine.ReadStatisticsFromFile())

		return nil, stderrOf(runErr), runErr
	})
}
