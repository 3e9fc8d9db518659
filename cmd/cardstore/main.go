package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/watchlistpro/cardstore/internal/app"
	"github.com/watchlistpro/cardstore/internal/config"
)

var Version = "dev"

func main() {
	var appCfg config.AppConfig

	rootCmd := &cobra.Command{
		Use:           "cardstore",
		Short:         "Voucher card store API",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&appCfg.ConfigPath, "config", "", "path to config.yaml (default $"+config.ConfigPathEnv+" or "+config.DefaultConfigPath+")")

	rootCmd.AddCommand(serveCmd(&appCfg))
	rootCmd.AddCommand(migrateCmd(&appCfg))
	rootCmd.AddCommand(promoteAdminCmd(&appCfg))

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd(appCfg *config.AppConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.RunServer(ctx, *appCfg)
		},
	}
}

func migrateCmd(appCfg *config.AppConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Migrate(cmd.Context(), *appCfg)
		},
	}
}

func promoteAdminCmd(appCfg *config.AppConfig) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "promote-admin",
		Short: "Grant admin rights to an existing user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.PromoteAdmin(cmd.Context(), *appCfg, email); err != nil {
				return err
			}
			fmt.Printf("%s is now an admin\n", email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email of the user to promote")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
