package commands

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/snapcd/agent/pkg/plan"
)

func newPlanCommand(sig Signals) *cobra.Command {
	var params []string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Produce and summarize the apply plan",
		Long: `Write the resolved parameters to the variables file, produce the saved
plan artifact and print the normalized change summary as JSON.`,
		Example: `  snapcd-agent plan --module-id mod-1 --stack prod --namespace core --module network \
    --param zone=eu-west-1 --param instance_count=3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd.Context(), sig, params, false)
		},
	}
	cmd.Flags().StringArrayVar(&params, "param", nil, "plan parameter as key=value (repeatable)")
	return cmd
}

func newPlanDestroyCommand(sig Signals) *cobra.Command {
	var params []string

	cmd := &cobra.Command{
		Use:   "plan-destroy",
		Short: "Produce and summarize the destroy plan",
		Long: `Like plan, but targeting the distinct destroy-plan artifact so a pending
destroy plan and apply plan can coexist for one module.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd.Context(), sig, params, true)
		},
	}
	cmd.Flags().StringArrayVar(&params, "param", nil, "plan parameter as key=value (repeatable)")
	return cmd
}

func runPlan(ctx context.Context, sig Signals, paramPairs []string, destroy bool) error {
	rt, err := newRuntime(ctx, sig)
	if err != nil {
		return err
	}
	defer rt.close(ctx)

	params, err := parseKeyValues(paramPairs)
	if err != nil {
		return err
	}

	step := "plan"
	if destroy {
		step = "plan_destroy"
	}

	return rt.runStep(ctx, step, func(ctx context.Context) (*string, *string, error) {
		if err := rt.syncExtraFiles(); err != nil {
			return nil, nil, err
		}
		var runErr error
		if destroy {
			_, runErr = rt.engine.PlanDestroy(ctx, params, hooks())
		} else {
			_, runErr = rt.engine.Plan(ctx, params, hooks())
		}
		if runErr != nil {
			return nil, stderrOf(runErr), runErr
		}

		var summary *plan.Summary
		if destroy {
			summary, runErr = rt.engine.ParseDestroyPlan()
		} else {
			summary, runErr = rt.engine.ParseApplyPlan()
		}
		if runErr != nil {
			return nil, nil, runErr
		}

		rt.publishSummary(summary)

		raw, err := json.Marshal(summary)
		if err != nil {
			return nil, nil, err
		}
		encoded := string(raw)
		if err := printJSON(summary); err != nil {
			return &encoded, nil, err
		}
		return &encoded, nil, nil
	})
}

// publishSummary pushes a parsed change summary into the metrics gauges.
func (rt *agentRuntime) publishSummary(summary *plan.Summary) {
	counts := map[string]int{
		string(plan.ActionNoop):    summary.Noops,
		string(plan.ActionCreate):  summary.Creates,
		string(plan.ActionUpdate):  summary.Updates,
		string(plan.ActionDelete):  summary.Deletes,
		string(plan.ActionReplace): summary.Replaces,
	}
	for action, count := range counts {
		rt.metrics.SetPlanChanges(rt.job.ModuleID, action, count)
	}
}
