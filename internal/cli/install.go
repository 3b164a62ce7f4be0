package cli

import (
	"github.com/spf13/cobra"
)

// NewUpdateCmd creates the update command
func NewUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Update list of available packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadManager(cmd)
			if err != nil {
				return err
			}
			return m.Update(cmd.Context())
		},
	}
}

// NewInstallCmd creates the install command
func NewInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <pkgs>",
		Short: "Install package(s)",
		Long: `Install packages by name, name with a version constraint
("pkg>=1.0", "pkg=1.0"), glob, or path of a package file.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadManager(cmd)
			if err != nil {
				return err
			}
			return m.Install(cmd.Context(), args)
		},
	}
}

// NewRemoveCmd creates the remove command
func NewRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <pkgs|globp>",
		Short: "Remove package(s)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadManager(cmd)
			if err != nil {
				return err
			}
			return m.Remove(cmd.Context(), args)
		},
	}
}

// NewUpgradeCmd creates the upgrade command
func NewUpgradeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade [pkgs]",
		Short: "Upgrade packages, all installed ones when none are named",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadManager(cmd)
			if err != nil {
				return err
			}
			return m.Upgrade(cmd.Context(), args)
		},
	}
}

// NewDistUpgradeCmd creates the dist-upgrade command
func NewDistUpgradeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dist-upgrade",
		Short: "Upgrade all installed packages, removing conflicting ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadManager(cmd)
			if err != nil {
				return err
			}
			return m.DistUpgrade(cmd.Context())
		},
	}
}
