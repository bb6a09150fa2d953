package hydra

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// Main is the entry point of the hydra binary. It parses args, builds the App for the
// chosen command and runs it until ctx is cancelled. Tests call it directly.
//
// # Command Line Usage
//
//	hydra serve                       # run the HTTP API (alias: run)
//	hydra migrate                     # create tables and indexes
//	hydra repair --owner alice        # repair one owner's trees
//	hydra repair --dry-run            # report what repair would change
//	hydra token --user alice          # mint a development JWT
//	hydra config show                 # print the effective config, secrets redacted
//
// Every command accepts --config (default hydra.toml). Environment variables such as
// STORE_BACKEND, POSTGRES_DSN or JWT_SECRET override the file, and a .env file in the
// working directory is loaded first.
func Main(ctx context.Context, args []string, out io.Writer) error {
	root := newRootCommand(ctx, out)
	root.SetArgs(args)
	root.SetOut(out)
	return root.ExecuteContext(ctx)
}

func newRootCommand(ctx context.Context, out io.Writer) *cobra.Command {
	var configPath string

	// execute loads the config, opens the App and runs cmd against it.
	execute := func(cmd Command) error {
		config, err := LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		app, err := New(ctx, config)
		if err != nil {
			return fmt.Errorf("failed to create application: %w", err)
		}
		defer app.Close()
		app.Out = out
		return app.Execute(ctx, cmd)
	}

	root := &cobra.Command{
		Use:           "hydra",
		Short:         "Hydra block tree service",
		Long:          "Hydra stores the block trees of an outliner and serves them over HTTP.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the TOML config file (default hydra.toml)")

	run := &RunCommand{}
	serveCmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"run"},
		Short:   "Run the HTTP API",
		Long:    "Serve the block API until SIGINT or SIGTERM, then drain in-flight requests.",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return execute(run)
		},
	}
	serveCmd.Flags().StringVar(&run.Port, "port", "", "listen port, overrides server.port")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create store tables and indexes",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return execute(&MigrateCommand{})
		},
	}

	repair := &RepairCommand{}
	repairCmd := &cobra.Command{
		Use:   "repair",
		Short: "Restore tree invariants",
		Long: `Rebuild children lists from parent links, finish interrupted deletes,
promote blocks whose parent is gone, break cycles and recompute depth.
The report is printed as JSON.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return execute(repair)
		},
	}
	repairCmd.Flags().StringVar(&repair.Owner, "owner", "", "repair only this owner")
	repairCmd.Flags().BoolVar(&repair.DryRun, "dry-run", false, "report without writing")
	repairCmd.Flags().IntVar(&repair.Concurrency, "concurrency", 0, "owners repaired in parallel (default 4)")

	token := &TokenCommand{}
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development JWT",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			config, err := LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return token.Run(config, out)
		},
	}
	tokenCmd.Flags().StringVar(&token.User, "user", "", "user id (sub claim)")
	tokenCmd.Flags().StringVar(&token.Email, "email", "", "email claim")
	tokenCmd.Flags().StringVar(&token.FullName, "name", "", "full name claim")
	_ = tokenCmd.MarkFlagRequired("user")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			config, err := LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return config.Redacted().Write(out)
		},
	})

	root.AddCommand(serveCmd, migrateCmd, repairCmd, tokenCmd, configCmd)
	return root
}
