package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/snapcd/agent/pkg/engine"
)

func newInitCommand(sig Signals) *cobra.Command {
	var (
		envPairs          []string
		upgrade           bool
		reconfigure       bool
		migrateState      bool
		backendConfig     []string
		nsBackendConfig   []string
		ignoreNSOverrides bool
		pulumiLoginMode   string
		pulumiStack       string
		pulumiLoginURL    string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the module's backend",
		Long: `Initialize the backend in the module directory, persisting the resolved
environment so later lifecycle steps reload exactly what init resolved.

For Terraform-family backends the ordered backend-config overrides are
assembled here; for Pulumi, login and stack selection happen here.`,
		Example: `  # Terraform with backend-config overrides
  snapcd-agent init --module-id mod-1 --stack prod --namespace core --module network \
    --env TF_TOKEN=... --backend-config bucket=state-bucket --backend-config key=network.tfstate

  # Pulumi with a custom state backend
  snapcd-agent init --module-id mod-2 --stack prod --namespace core --module queue \
    --pulumi-login-mode custom --pulumi-login-url s3://state-bucket --pulumi-stack prod`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context(), sig)
			if err != nil {
				return err
			}
			defer rt.close(cmd.Context())

			env, err := parseKeyValues(envPairs)
			if err != nil {
				return err
			}
			moduleOverrides, err := parseOrderedKeyValues(backendConfig)
			if err != nil {
				return err
			}
			nsOverrides, err := parseOrderedKeyValues(nsBackendConfig)
			if err != nil {
				return err
			}

			backend := engine.BackendConfiguration{
				NamespaceOverrides:       nsOverrides,
				ModuleOverrides:          moduleOverrides,
				IgnoreNamespaceOverrides: ignoreNSOverrides,
				LoginMode:                engine.PulumiLoginMode(pulumiLoginMode),
				StackName:                pulumiStack,
				LoginURL:                 pulumiLoginURL,
			}
			flags := engine.Flags{
				Upgrade:      upgrade,
				Reconfigure:  reconfigure,
				MigrateState: migrateState,
			}

			return rt.runStep(cmd.Context(), "init", func(ctx context.Context) (*string, *string, error) {
				if err := rt.syncExtraFiles(); err != nil {
					return nil, nil, err
				}
				_, err := rt.engine.Init(ctx, env, hooks(), backend, flags)
				return nil, stderrOf(err), err
			})
		},
	}

	cmd.Flags().StringArrayVar(&envPairs, "env", nil, "environment variable as key=value (repeatable)")
	cmd.Flags().BoolVar(&upgrade, "upgrade", false, "upgrade modules and plugins during init")
	cmd.Flags().BoolVar(&reconfigure, "reconfigure", false, "reconfigure the backend, ignoring saved configuration")
	cmd.Flags().BoolVar(&migrateState, "migrate-state", false, "migrate existing state to the changed backend")
	cmd.Flags().StringArrayVar(&backendConfig, "backend-config", nil, "module-level backend-config override as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&nsBackendConfig, "namespace-backend-config", nil, "namespace-level backend-config override as key=value (repeatable)")
	cmd.Flags().BoolVar(&ignoreNSOverrides, "ignore-namespace-backend-config", false, "drop namespace-level overrides from assembly")
	cmd.Flags().StringVar(&pulumiLoginMode, "pulumi-login-mode", string(engine.PulumiLoginNone), "pulumi login mode (pulumi_cloud, local, custom, none)")
	cmd.Flags().StringVar(&pulumiStack, "pulumi-stack", "", "pulumi stack to select, created when absent")
	cmd.Flags().StringVar(&pulumiLoginURL, "pulumi-login-url", "", "backend URL for the custom pulumi login mode")

	return cmd
}
