// Package cli implements the cms command line: the HTTP server and one-shot
// module management against the configured store.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Guillaume29200/esport-cms/internal/app"
	"github.com/Guillaume29200/esport-cms/internal/config"
	"github.com/Guillaume29200/esport-cms/internal/logging"
	"github.com/Guillaume29200/esport-cms/internal/modules"
)

var (
	version = "dev"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "cms",
	Short: "Modular esport CMS",
	Long: `Modular esport CMS.

Runs the HTTP front controller and manages the module catalog: install,
uninstall, enable and disable modules with their migrations.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: "+config.DefaultPath+")")
	rootCmd.AddCommand(serveCmd, modulesCmd, versionCmd)
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
		return err
	}
	return nil
}

// loadApp builds the application from --config. Logs go to logOut so
// command output stays clean.
func loadApp(logOut io.Writer) (*app.Application, *config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	log := logging.NewWithOutput("cms", cfg.Logging.Level, cfg.Logging.Format, logOut)

	catalog, err := modules.Catalog()
	if err != nil {
		return nil, nil, fmt.Errorf("build catalog: %w", err)
	}
	a, err := app.New(cfg, catalog, log)
	if err != nil {
		return nil, nil, err
	}
	return a, cfg, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "cms %s\n", version)
	},
}
