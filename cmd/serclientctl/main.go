// Command serclientctl is a local operator CLI for inspecting and
// managing an installed agent: listing, installing, and removing
// registry modules, and inspecting the restart marker. It is built on
// cobra, distinct from the daemon's own flag-based entrypoint, in the
// same shape as the file-server repository's dfsctl sitting alongside
// its flag-free daemon command.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pmcloud/serclient/internal/config"
	"github.com/pmcloud/serclient/internal/registry"
	"github.com/pmcloud/serclient/internal/restartmarker"
)

var installRootFlag string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "serclientctl",
		Short:         "Inspect and manage an installed serclient agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&installRootFlag, "install-root", "", "Agent install root (defaults to the resolved config's install_root)")

	moduleCmd := &cobra.Command{Use: "module", Short: "Inspect and manage registry modules"}
	moduleCmd.AddCommand(newModuleListCmd(), newModuleInstallCmd(), newModuleRemoveCmd())

	markerCmd := &cobra.Command{Use: "restart-marker", Short: "Inspect the pending restart marker"}
	markerCmd.AddCommand(newMarkerShowCmd())

	root.AddCommand(moduleCmd, markerCmd)
	return root
}

func resolveInstallRoot() (string, error) {
	if installRootFlag != "" {
		return installRootFlag, nil
	}
	rec, err := config.Load(config.DefaultConfigPath(), nil)
	if err != nil {
		return "", fmt.Errorf("resolve install root: %w", err)
	}
	return rec.InstallRoot, nil
}

func newModuleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every module across all tiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveInstallRoot()
			if err != nil {
				return err
			}
			reg := registry.New(root)
			byTier := reg.Enumerate()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "TIER\tALIAS\tVERSION\tUPGRADABLE\tBLOCKING\tPATH")
			for _, tier := range []registry.Tier{registry.TierInternal, registry.TierPlugin, registry.TierCustom} {
				for _, m := range byTier[tier] {
					fmt.Fprintf(w, "%s\t%s\t%v\t%v\t%v\t%s\n", tier, m.Alias, m.Version, m.Upgradable, m.Blocking, m.ExecutablePath)
				}
			}
			return w.Flush()
		},
	}
}

func newModuleInstallCmd() *cobra.Command {
	var (
		tierName string
		fileName string
		version  float64
		blocking bool
	)
	cmd := &cobra.Command{
		Use:   "install <source-file>",
		Short: "Install a plug-in file into a registry tier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveInstallRoot()
			if err != nil {
				return err
			}
			tier, err := registry.ParseTier(tierName)
			if err != nil {
				return err
			}
			src, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open source file: %w", err)
			}
			defer src.Close()

			name := fileName
			if name == "" {
				name = filepath.Base(args[0])
			}

			reg := registry.New(root)
			if err := reg.Install(tier, name, src, version, blocking); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "installed %s into %s\n", name, tier)
			return nil
		},
	}
	cmd.Flags().StringVar(&tierName, "tier", "plugin", "Target tier: internal, plugin, or custom")
	cmd.Flags().StringVar(&fileName, "name", "", "Destination file name (defaults to the source file's own name)")
	cmd.Flags().Float64Var(&version, "version", 0, "Module version to record in the .version sentinel")
	cmd.Flags().BoolVar(&blocking, "blocking", false, "Mark the module blocking (writes the .blocking sentinel)")
	return cmd
}

func newModuleRemoveCmd() *cobra.Command {
	var tierName string
	cmd := &cobra.Command{
		Use:   "remove <alias>",
		Short: "Remove a module and its sentinels from a registry tier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveInstallRoot()
			if err != nil {
				return err
			}
			tier, err := registry.ParseTier(tierName)
			if err != nil {
				return err
			}
			reg := registry.New(root)
			if err := reg.Remove(tier, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s from %s\n", args[0], tier)
			return nil
		},
	}
	cmd.Flags().StringVar(&tierName, "tier", "plugin", "Tier to remove from: internal, plugin, or custom")
	return cmd
}

func newMarkerShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show whether a restart reply is pending and the agent's recorded version",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveInstallRoot()
			if err != nil {
				return err
			}
			marker := restartmarker.New(root)

			correlationID, pending, err := marker.Peek()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version: %s\n", marker.Version())
			if pending {
				fmt.Fprintf(out, "pending restart reply: yes (correlation_id=%s)\n", correlationID)
			} else {
				fmt.Fprintln(out, "pending restart reply: no")
			}
			return nil
		},
	}
}
