package cli

import (
	"fmt"

	"github.com/keenetic/opkg/internal/feed"
	"github.com/keenetic/opkg/internal/models"
	"github.com/keenetic/opkg/internal/signer"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewBuildCmd creates the build command
func NewBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build <pkg_dir> [out_dir]",
		Short: "Build a package from a directory with a CONTROL subdirectory",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			outDir := "."
			if len(args) > 1 {
				outDir = args[1]
			}
			path, err := feed.Build(args[0], outDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Packaged contents of %s into %s\n", args[0], path)
			return nil
		},
	}
}

// NewMakeIndexCmd creates the make-index command
func NewMakeIndexCmd() *cobra.Command {
	var keyPath, passphrase string

	cmd := &cobra.Command{
		Use:   "make-index <feed_dir>",
		Short: "Write Packages, Packages.gz and optionally Packages.sig for a feed",
		Long: `Scans the feed directory for package files and writes the Packages
index with file names, sizes and checksums. With --gpg-key the index is
signed with a detached armored OpenPGP signature.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var s signer.Signer
			if keyPath != "" {
				gpg, err := signer.NewGPGSigner(keyPath, passphrase)
				if err != nil {
					return &models.OpkgError{Type: models.ErrSignature, Err: fmt.Errorf("failed to initialize GPG signer: %w", err)}
				}
				s = gpg
			}

			logrus.Infof("Scanning directory: %s", args[0])
			return feed.NewIndexer(s).MakeIndex(cmd.Context(), args[0])
		},
	}

	// GPG signing flags
	cmd.Flags().StringVarP(&keyPath, "gpg-key", "k", "", "Path to GPG private key")
	cmd.Flags().StringVarP(&passphrase, "gpg-passphrase", "p", "", "GPG key passphrase")

	return cmd
}
