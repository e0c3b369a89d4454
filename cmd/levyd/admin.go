package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/levy-engine/api"
	"github.com/warp/levy-engine/levy"
	"github.com/warp/levy-engine/store/sqlite"
	"gopkg.in/yaml.v3"
)

func migrateCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			// sqlite.New applies the schema.
			store, err := sqlite.New(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("failed to migrate %s: %w", cfg.Database.Path, err)
			}
			defer store.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date: %s\n", cfg.Database.Path)
			return nil
		},
	}
}

func seedCmd(load loader) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "seed [scenario]",
		Short: "Reset the database and load a demo scenario",
		Long: `Reset the database and load a demo scenario.

All existing data is deleted. Only use in development/demo environments.

Examples:
  levyd seed --list
  levyd seed market-day`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if list {
				all, err := api.Scenarios()
				if err != nil {
					return err
				}
				for _, s := range all {
					fmt.Fprintf(out, "%-14s %s\n", s.ID, s.Description)
				}
				return nil
			}
			if len(args) != 1 {
				return errors.New("scenario id required (see --list)")
			}

			cfg, err := load()
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			store, err := sqlite.New(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer store.Close()

			if err := api.SeedScenario(cmd.Context(), store, args[0], time.Now(), loc); err != nil {
				return err
			}
			fmt.Fprintf(out, "loaded scenario %s into %s\n", args[0], cfg.Database.Path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list available scenarios")
	return cmd
}

func tokenCmd(load loader) *cobra.Command {
	var (
		sub    string
		role   string
		market string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token",
		Long: `Sign a bearer token with auth.secret.

Examples:
  levyd token --sub gb-tunde --role goodboy --market oja-oba
  levyd token --sub admin-1 --role admin --ttl 1h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := levy.Role(role)
			if !r.Valid() {
				return fmt.Errorf("unknown role %q", role)
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			token, err := api.NewAuthenticator(cfg.Auth).IssueToken(sub, r, levy.MarketID(market), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&sub, "sub", "", "actor ID (agent, caretaker or admin)")
	cmd.Flags().StringVar(&role, "role", string(levy.RoleGoodboy), "goodboy, caretaker or admin")
	cmd.Flags().StringVar(&market, "market", "", "market the actor works in")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	cmd.MarkFlagRequired("sub")
	return cmd
}

func configCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.Auth.Secret != "" {
				cfg.Auth.Secret = "********"
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}
