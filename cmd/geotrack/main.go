package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/aadithya-v/geotrack/internal/config"
	"github.com/aadithya-v/geotrack/store"
	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "geotrack",
		Short:        "GPS tracking session engine",
		Long:         "geotrack records GPS fixes into bounded tracking sessions and serves their history.",
		SilenceUsage: true,
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSessionsCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "geotrack %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

// loadConfig reads the config file. A missing file is only an error when
// the path was given explicitly; otherwise the defaults apply.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		return config.Parse(nil)
	}
	return nil, fmt.Errorf("load config: %w", err)
}

// openSessionStore opens the configured session store.
func openSessionStore(cfg *config.Config) (store.SessionStore, error) {
	switch cfg.Database.Driver {
	case "mysql":
		s, err := store.NewMySQLFromDSN(cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect to mysql: %w", err)
		}
		return s, nil
	default:
		s, err := store.NewSQLite(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.Database.Path, err)
		}
		return s, nil
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
