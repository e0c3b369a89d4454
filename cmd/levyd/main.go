/*
main.go - levyd entry point

PURPOSE:
  Command-line front end for the levy collection engine: runs the HTTP
  server and the operator commands around it.

COMMANDS:
  serve            Start the HTTP API with graceful shutdown
  migrate          Create or upgrade the database schema
  seed <scenario>  Reset the database and load a demo scenario
  token            Sign a bearer token for an agent, caretaker or admin
  config           Print the effective configuration

CONFIGURATION:
  --config points at a YAML file (default ./levy.yaml). Values come from
  defaults, then the file, then LEVY_* environment variables, then flags.
  See config/config.go.

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/warp/levy-engine/config"
)

var Version = "dev"

func main() {
	v := config.New()
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "levyd",
		Short:         "levyd - market levy collection engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "levy.yaml", "config file path")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (overrides database.path)")
	v.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))

	load := func() (*config.Config, error) {
		return config.Load(v, configPath)
	}

	rootCmd.AddCommand(serveCmd(v, load))
	rootCmd.AddCommand(migrateCmd(load))
	rootCmd.AddCommand(seedCmd(load))
	rootCmd.AddCommand(tokenCmd(load))
	rootCmd.AddCommand(configCmd(load))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loader resolves the effective configuration once flags are parsed.
type loader func() (*config.Config, error)

// bindFlag ties a command flag to a config key without shadowing file or
// environment values when the flag is left unset.
func bindFlag(v *viper.Viper, key string, cmd *cobra.Command, name string) {
	v.BindPFlag(key, cmd.Flags().Lookup(name))
}
