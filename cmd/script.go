package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/smazurov/tablemd/internal/logging"
	"github.com/smazurov/tablemd/internal/script"
)

// CreateScriptCmd creates the script command.
func CreateScriptCmd() *cobra.Command {
	var outputFile string

	cmd := &cobra.Command{
		Use:   "script",
		Short: "Print the embedded worker script",
		Long: `Writes the Python conversion service that every worker runs to stdout, ` +
			`or to --output, so it can be run and debugged by hand.`,
		Args: cobra.NoArgs,
		Run: func(c *cobra.Command, _ []string) {
			logger := logging.GetLogger("script")

			src, err := script.Source()
			if err != nil {
				logger.Error("Failed to read embedded script", "error", err)
				os.Exit(1)
			}

			if outputFile == "" {
				if _, err := c.OutOrStdout().Write(src); err != nil {
					logger.Error("Failed to write script", "error", err)
					os.Exit(1)
				}
				return
			}

			if err := os.WriteFile(outputFile, src, 0o644); err != nil {
				logger.Error("Failed to write script", "path", outputFile, "error", err)
				os.Exit(1)
			}
			logger.Info("Script written", "path", outputFile, "bytes", len(src))
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the script to this file instead of stdout")
	return cmd
}
