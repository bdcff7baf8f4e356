package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Guillaume29200/esport-cms/internal/app"
	"github.com/Guillaume29200/esport-cms/internal/module"
)

var (
	withDeps   bool
	listAsJSON bool
)

var modulesCmd = &cobra.Command{
	Use:     "modules",
	Aliases: []string{"module", "mod"},
	Short:   "Manage the module catalog",
}

var modulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog modules and their status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withKernel(cmd, false, func(ctx context.Context, a *app.Application) error {
			infos, err := a.Kernel().List(ctx)
			if err != nil {
				return err
			}
			if listAsJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}
			return printModules(cmd, infos)
		})
	},
}

var modulesInstallCmd = &cobra.Command{
	Use:   "install <id>",
	Short: "Install a module and run its migrations",
	Long: `Install a module and run its migrations.

Requirements must already be installed unless --with-deps is given, in which
case missing requirements are installed first.`,
	Args: cobra.ExactArgs(1),
	RunE: moduleOp("installed", func(ctx context.Context, a *app.Application, id string) error {
		return a.Kernel().Install(ctx, id, withDeps)
	}),
}

var modulesUninstallCmd = &cobra.Command{
	Use:   "uninstall <id>",
	Short: "Roll back a module's migrations and forget it",
	Args:  cobra.ExactArgs(1),
	RunE: moduleOp("uninstalled", func(ctx context.Context, a *app.Application, id string) error {
		return a.Kernel().Uninstall(ctx, id)
	}),
}

var modulesEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable an installed module",
	Args:  cobra.ExactArgs(1),
	RunE: moduleOp("enabled", func(ctx context.Context, a *app.Application, id string) error {
		return a.Kernel().Enable(ctx, id)
	}),
}

var modulesDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a module without dropping its data",
	Args:  cobra.ExactArgs(1),
	RunE: moduleOp("disabled", func(ctx context.Context, a *app.Application, id string) error {
		return a.Kernel().Disable(ctx, id)
	}),
}

func init() {
	modulesListCmd.Flags().BoolVar(&listAsJSON, "json", false, "print the list as JSON")
	modulesInstallCmd.Flags().BoolVar(&withDeps, "with-deps", false, "install missing requirements first")
	modulesCmd.AddCommand(modulesListCmd, modulesInstallCmd, modulesUninstallCmd, modulesEnableCmd, modulesDisableCmd)
}

// withKernel prepares the kernel without booting any module, runs fn and
// releases the backends. mutating warns when the change cannot persist.
func withKernel(cmd *cobra.Command, mutating bool, fn func(context.Context, *app.Application) error) error {
	a, cfg, err := loadApp(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := a.Kernel().Prepare(ctx); err != nil {
		return fmt.Errorf("prepare kernel: %w", err)
	}
	if mutating && cfg.Memory() {
		newPrinter(cmd.ErrOrStderr()).Warning("no database configured; this change is lost when the command exits")
	}
	return fn(ctx, a)
}

func moduleOp(done string, op func(context.Context, *app.Application, string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id := args[0]
		return withKernel(cmd, true, func(ctx context.Context, a *app.Application) error {
			if err := op(ctx, a, id); err != nil {
				return err
			}
			newPrinter(cmd.OutOrStdout()).Success("module %s %s", id, done)
			return nil
		})
	}
}

func printModules(cmd *cobra.Command, infos []module.Info) error {
	p := newPrinter(cmd.OutOrStdout())
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tVERSION\tINSTALLED\tREQUIRES\tSTATUS")

	now := time.Now()
	for _, info := range infos {
		d := info.Descriptor
		id := d.ID
		if d.Core {
			id += " (core)"
		}
		reqs := make([]string, 0, len(d.Requires))
		for _, r := range d.Requires {
			reqs = append(reqs, strings.TrimSpace(r.ID+" "+r.Version))
		}
		requires := strings.Join(reqs, ", ")
		if requires == "" {
			requires = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			id, d.Version, formatAge(info.InstalledAt, now), requires,
			p.paint(info.Status.String(), statusColor(info.Status)))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, info := range infos {
		if info.Error != "" {
			p.Warning("%s: %s", info.Descriptor.ID, info.Error)
		}
	}
	return nil
}
