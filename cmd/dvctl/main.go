// Command dvctl is a demo CLI exercising the Dataverse Access Core
// against the in-process fake-service harness. It is thin: every
// command constructs an App (internal/app) and delegates straight to
// its SqlService or BulkExecutor.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/solventis/dataverse-access-core/internal/app"
	"github.com/solventis/dataverse-access-core/internal/config"
)

var (
	configPath string
	storePath  string
)

func main() {
	root := &cobra.Command{
		Use:   "dvctl",
		Short: "Exercise the Dataverse Access Core against the fake-service harness",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults applied otherwise)")
	root.PersistentFlags().StringVar(&storePath, "store", "file::memory:?cache=shared", "sqlite DSN backing the fake organization")

	root.AddCommand(newQueryCmd(), newBulkCmd(), newPoolStatusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadApp() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cfg, storePath, nil)
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	cfg := &config.Config{
		Pool: config.DefaultPoolConfig(),
		Throttle: config.DefaultThrottleConfig(),
		DmlGuard: config.DefaultDmlGuardConfig(),
	}
	cfg.Pool.Principals = []config.PrincipalConfig{
		{
			Name:              "local",
			ResourceURL:       "https://local.fakeservice.example.com",
			CredentialRef:     "local-dev",
			ConfiguredMinimum: 2,
			HardCeiling:       8,
		},
	}
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Log.Output = "stdout"
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
