package cli

import (
	"github.com/keenetic/opkg/internal/config"
	"github.com/keenetic/opkg/internal/manager"
	"github.com/keenetic/opkg/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// Boolean command-line flags and the option each one sets
var boolFlags = []struct {
	name, key, usage string
}{
	{"force-depends", "force_depends", "Install/remove despite failed dependencies"},
	{"force-downgrade", "force_downgrade", "Allow opkg to downgrade packages"},
	{"force-reinstall", "force_reinstall", "Reinstall package(s)"},
	{"force-overwrite", "force_overwrite", "Overwrite files from other package(s)"},
	{"force-removal-of-essential-packages", "force_removal_of_essential_packages", "Allow removal of essential packages"},
	{"force-removal-of-dependent-packages", "force_removal_of_dependent_packages", "Remove package and all dependencies"},
	{"force-remove", "force_remove", "Remove package even if prerm script fails"},
	{"force-postinstall", "force_postinstall", "Run maintainer scripts in an offline root"},
	{"nodeps", "nodeps", "Do not follow dependencies"},
	{"no-install-recommends", "no_install_recommends", "Do not install any recommended packages"},
	{"prefer-arch-to-version", "prefer_arch_to_version", "Prefer higher architecture priority over higher version"},
	{"autoremove", "autoremove", "Remove automatically installed packages no longer needed"},
	{"combine", "combine", "Resolve all requested packages as one transaction"},
	{"download-only", "download_only", "Check package availability only, change nothing"},
}

// String list flags and their options
var listFlags = []struct {
	name, key, usage string
}{
	{"add-exclude", "add_exclude", "Exclude packages matching the pattern from resolution"},
	{"add-ignore-recommends", "add_ignore_recommends", "Do not install recommended packages matching the pattern"},
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "opkg",
		Short: "Lightweight package management system",
		Long: `opkg installs, upgrades and removes .opk/.ipk packages from file:
feeds into a root filesystem, keeping track of installed packages, their
files and their dependencies.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Setup logging
			verbosity, _ := cmd.Flags().GetInt("verbosity")
			switch {
			case verbosity <= 0:
				logrus.SetLevel(logrus.ErrorLevel)
			case verbosity == 1:
				logrus.SetLevel(logrus.InfoLevel)
			case verbosity == 2:
				logrus.SetLevel(logrus.DebugLevel)
			default:
				logrus.SetLevel(logrus.TraceLevel)
			}
		},
	}

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringP("offline-root", "o", "", "Use <dir> as the root directory for offline installation")
	flags.StringP("conf", "f", "", "Use <file> as the opkg configuration file")
	flags.IntP("verbosity", "V", 1, "Set verbosity level (0 errors, 1 normal, 2 debug, 3 trace)")
	flags.StringSlice("add-arch", nil, "Register architecture with given priority, as <arch>:<prio>")
	flags.String("solver", "", "Resolver strategy to use")
	flags.String("orphan-policy", "", "What to do with dependencies an upgrade no longer needs (aggressive, conservative)")
	for _, f := range boolFlags {
		flags.Bool(f.name, false, f.usage)
	}
	for _, f := range listFlags {
		flags.StringSlice(f.name, nil, f.usage)
	}

	// Add subcommands
	rootCmd.AddCommand(
		NewUpdateCmd(),
		NewInstallCmd(),
		NewRemoveCmd(),
		NewUpgradeCmd(),
		NewDistUpgradeCmd(),
		NewListCmd(),
		NewListInstalledCmd(),
		NewListUpgradableCmd(),
		NewInfoCmd(),
		NewStatusCmd(),
		NewFilesCmd(),
		NewFlagCmd(),
		NewCompareVersionsCmd(),
		NewPrintArchitectureCmd(),
		NewBuildCmd(),
		NewMakeIndexCmd(),
	)

	return rootCmd
}

// overrides collects the global flags the user set
func overrides(cmd *cobra.Command) (config.Overrides, error) {
	flags := cmd.Flags()
	var ov config.Overrides
	var err error

	if ov.OfflineRoot, err = flags.GetString("offline-root"); err != nil {
		return ov, err
	}
	if ov.ConfFile, err = flags.GetString("conf"); err != nil {
		return ov, err
	}
	if ov.AddArch, err = flags.GetStringSlice("add-arch"); err != nil {
		return ov, err
	}

	ov.Flags = make(map[string]interface{})
	for _, f := range boolFlags {
		if flags.Changed(f.name) {
			ov.Flags[f.key], _ = flags.GetBool(f.name)
		}
	}
	for _, f := range listFlags {
		if flags.Changed(f.name) {
			ov.Flags[f.key], _ = flags.GetStringSlice(f.name)
		}
	}
	for name, key := range map[string]string{"solver": "solver", "orphan-policy": "orphan_policy"} {
		if flags.Changed(name) {
			ov.Flags[key], _ = flags.GetString(name)
		}
	}
	if flags.Changed("verbosity") {
		ov.Flags["verbosity"], _ = flags.GetInt("verbosity")
	}
	return ov, nil
}

func loadOptions(cmd *cobra.Command) (*models.Options, error) {
	ov, err := overrides(cmd)
	if err != nil {
		return nil, err
	}
	return config.Load(afero.NewOsFs(), ov)
}

func loadManager(cmd *cobra.Command) (*manager.Manager, error) {
	opts, err := loadOptions(cmd)
	if err != nil {
		return nil, err
	}
	logrus.Debugf("Configuration: %+v", *opts)
	return manager.New(afero.NewOsFs(), opts)
}
