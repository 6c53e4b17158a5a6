package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/smazurov/tablemd/internal/logging"
	"github.com/smazurov/tablemd/internal/updater"
)

// CreateUpdateCmd creates the update command.
func CreateUpdateCmd() *cobra.Command {
	var checkOnly, rollback, prerelease bool
	var repository string

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update tablemd to the latest release",
		Long: `Replaces this binary with the latest GitHub release, keeping a backup of the ` +
			`current one. Restart the service afterwards to run the new version.`,
		Args: cobra.NoArgs,
		Run: func(c *cobra.Command, _ []string) {
			logger := logging.GetLogger("updater")
			out := c.OutOrStdout()

			u, err := updater.New(updater.Options{Repository: repository, Prerelease: prerelease})
			if err != nil {
				logger.Error("Failed to create updater", "error", err)
				os.Exit(1)
			}

			if rollback {
				restored, err := u.Rollback()
				if err != nil {
					logger.Error("Rollback failed", "error", err)
					os.Exit(1)
				}
				fmt.Fprintf(out, "Rolled back to %s\n", restored)
				return
			}

			if checkOnly {
				info, err := u.Check(c.Context())
				if err != nil {
					logger.Error("Update check failed", "error", err)
					os.Exit(1)
				}
				if info.UpdateAvailable {
					fmt.Fprintf(out, "Update available: %s -> %s\n%s\n", info.CurrentVersion, info.LatestVersion, info.ReleaseURL)
				} else {
					fmt.Fprintf(out, "Up to date (%s)\n", info.CurrentVersion)
				}
				return
			}

			info, err := u.Apply(c.Context())
			var updErr *updater.Error
			if errors.As(err, &updErr) && updErr.Code == updater.ErrCodeNoUpdate {
				fmt.Fprintf(out, "Up to date (%s)\n", info.CurrentVersion)
				return
			}
			if err != nil {
				logger.Error("Update failed", "error", err)
				os.Exit(1)
			}
			fmt.Fprintf(out, "Updated %s -> %s, restart the service to apply\n", info.CurrentVersion, info.LatestVersion)
		},
	}

	cmd.Flags().BoolVar(&checkOnly, "check", false, "Only report whether an update is available")
	cmd.Flags().BoolVar(&rollback, "rollback", false, "Restore the binary replaced by the last update")
	cmd.Flags().BoolVar(&prerelease, "prerelease", false, "Include prereleases")
	cmd.Flags().StringVar(&repository, "repository", updater.DefaultRepository, "GitHub repository to fetch releases from")
	cmd.MarkFlagsMutuallyExclusive("check", "rollback")
	return cmd
}
