package cli

import (
	"fmt"

	"github.com/keenetic/opkg/internal/control"
	"github.com/keenetic/opkg/internal/models"
	"github.com/keenetic/opkg/internal/version"
	"github.com/spf13/cobra"
)

func pattern(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

// NewListCmd creates the list command
func NewListCmd() *cobra.Command {
	var shortDesc bool
	cmd := &cobra.Command{
		Use:   "list [pkg|glob]",
		Short: "List available packages",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadManager(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range m.List(pattern(args)) {
				desc := p.Field("Description")
				if shortDesc {
					desc = firstLine(desc)
				}
				if desc == "" {
					fmt.Fprintf(out, "%s - %s\n", p.Name, p.Version)
				} else {
					fmt.Fprintf(out, "%s - %s - %s\n", p.Name, p.Version, desc)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&shortDesc, "short-description", false, "Show only the first line of descriptions")
	return cmd
}

// NewListInstalledCmd creates the list-installed command
func NewListInstalledCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-installed [pkg|glob]",
		Short: "List installed packages",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadManager(cmd)
			if err != nil {
				return err
			}
			for _, rec := range m.ListInstalled(pattern(args)) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s - %s\n", rec.Name(), rec.Version())
			}
			return nil
		},
	}
}

// NewListUpgradableCmd creates the list-upgradable command
func NewListUpgradableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-upgradable [pkg|glob]",
		Short: "List installed and upgradable packages",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadManager(cmd)
			if err != nil {
				return err
			}
			for _, u := range m.ListUpgradable(pattern(args)) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s - %s - %s\n", u.Name, u.Installed, u.Available)
			}
			return nil
		},
	}
}

// NewInfoCmd creates the info command
func NewInfoCmd() *cobra.Command {
	var fields []string
	var shortDesc bool
	cmd := &cobra.Command{
		Use:   "info [pkg|glob]",
		Short: "Display all info for <pkg>",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadManager(cmd)
			if err != nil {
				return err
			}
			stanzas, err := m.Info(pattern(args), fields, shortDesc)
			if err != nil {
				return err
			}
			return writeStanzas(cmd, stanzas)
		},
	}
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "Limit output to the given fields")
	cmd.Flags().BoolVar(&shortDesc, "short-description", false, "Show only the first line of Description")
	return cmd
}

// NewStatusCmd creates the status command
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [pkg|glob]",
		Short: "Display all status for <pkg>",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadManager(cmd)
			if err != nil {
				return err
			}
			return writeStanzas(cmd, m.StatusOf(pattern(args)))
		},
	}
}

// NewFilesCmd creates the files command
func NewFilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "files <pkg>",
		Short: "List files belonging to <pkg>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadManager(cmd)
			if err != nil {
				return err
			}
			files, err := m.Files(args[0])
			if err != nil {
				return err
			}
			rec, _ := m.Status().Get(args[0])

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Package %s (%s) is installed on root and has the following files:\n", rec.Name(), rec.Version())
			for _, e := range files {
				if e.Kind == models.FileDir {
					continue
				}
				fmt.Fprintln(out, e.Path)
			}
			return nil
		},
	}
}

// NewFlagCmd creates the flag command
func NewFlagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flag <flag> <pkgs>",
		Short: "Flag package(s): hold, noprune, user, ok, installed, unpacked",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadManager(cmd)
			if err != nil {
				return err
			}
			return m.Flag(args[0], args[1:])
		},
	}
}

// NewCompareVersionsCmd creates the compare-versions command. The exit
// status carries the result.
func NewCompareVersionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare-versions <v1> <op> <v2>",
		Short: "Compare versions using <= < > >= = << >>",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, ok := version.ParseOperator(args[1])
			if !ok {
				return &models.OpkgError{Type: models.ErrInvalidConfig, Err: fmt.Errorf("unknown operator %q", args[1])}
			}
			if !version.Satisfies(args[0], op, args[2]) {
				return fmt.Errorf("%s %s %s is false", args[0], args[1], args[2])
			}
			return nil
		},
	}
}

// NewPrintArchitectureCmd creates the print-architecture command
func NewPrintArchitectureCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "print-architecture",
		Aliases: []string{"print-architectures"},
		Short:   "List installable package architectures",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadOptions(cmd)
			if err != nil {
				return err
			}
			for _, arch := range opts.ArchOrder {
				fmt.Fprintf(cmd.OutOrStdout(), "arch %s %d\n", arch, opts.Arches[arch])
			}
			return nil
		},
	}
}

func writeStanzas(cmd *cobra.Command, stanzas []control.Stanza) error {
	for _, s := range stanzas {
		if err := control.Write(cmd.OutOrStdout(), s); err != nil {
			return err
		}
	}
	return nil
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
