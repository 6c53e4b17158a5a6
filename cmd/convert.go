package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/smazurov/tablemd/internal/logging"
	"github.com/smazurov/tablemd/internal/process"
	"github.com/smazurov/tablemd/internal/script"
)

// CreateConvertCmd creates the convert command. opts is read when the
// command runs, after the root flags were parsed.
func CreateConvertCmd(opts *ServeOptions) *cobra.Command {
	var outputDir string

	cmd := &cobra.Command{
		Use:   "convert FILE...",
		Short: "Convert spreadsheets to Markdown",
		Long: `Starts a short-lived worker pool, converts every FILE and prints the Markdown ` +
			`to stdout, or writes one .md file per input with --output.`,
		Args: cobra.MinimumNArgs(1),
		Run: func(c *cobra.Command, args []string) {
			logger := logging.GetLogger("convert")

			if outputDir != "" {
				if _, err := outputNames(args); err != nil {
					logger.Error("Invalid output", "error", err)
					os.Exit(1)
				}
			}

			ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			results, err := convertFiles(ctx, opts, args)

			if writeErr := writeResults(c.OutOrStdout(), outputDir, args, results); writeErr != nil {
				err = errors.Join(err, writeErr)
			}
			if err != nil {
				logger.Error("Conversion failed", "error", err)
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory for .md files (default: print to stdout)")
	return cmd
}

// convertFiles converts files concurrently on a pool sized to the work.
// Results keep the order of files; failed entries are empty.
func convertFiles(ctx context.Context, opts *ServeOptions, files []string) ([]string, error) {
	logger := logging.GetLogger("convert")

	settings := opts.Pool.Normalize(logger)
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool settings: %w", err)
	}
	settings.Workers = min(settings.Workers, len(files))

	pool, err := process.NewPool(ctx, PoolOptions(settings, nil))
	if err != nil {
		return nil, err
	}
	defer func() {
		pool.Shutdown(context.WithoutCancel(ctx))
		if err := script.Default().Cleanup(); err != nil {
			logger.Warn("Failed to remove staged script", "error", err)
		}
	}()

	results := make([]string, len(files))
	errs := make([]error, len(files))

	var g errgroup.Group
	g.SetLimit(pool.Size())
	for i, file := range files {
		g.Go(func() error {
			path, err := filepath.Abs(file)
			if err == nil {
				_, err = os.Stat(path)
			}
			if err == nil {
				results[i], err = pool.Convert(ctx, path)
			}
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", file, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(errs...)
}

func writeResults(w io.Writer, outputDir string, files, results []string) error {
	if outputDir == "" {
		first := true
		for i, md := range results {
			if md == "" {
				continue
			}
			if !first {
				fmt.Fprintln(w)
			}
			first = false
			if len(files) > 1 {
				fmt.Fprintf(w, "<!-- %s -->\n", files[i])
			}
			fmt.Fprintln(w, md)
		}
		return nil
	}

	names, err := outputNames(files)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}
	var errs []error
	for i, md := range results {
		if md == "" {
			continue
		}
		if err := os.WriteFile(filepath.Join(outputDir, names[i]), []byte(md+"\n"), 0o644); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// outputNames maps each input to its <name>.md file and fails when two
// inputs would write the same file.
func outputNames(files []string) ([]string, error) {
	names := make([]string, len(files))
	seen := make(map[string]string, len(files))
	for i, file := range files {
		base := filepath.Base(strings.TrimSpace(file))
		name := strings.TrimSuffix(base, filepath.Ext(base)) + ".md"
		if prev, ok := seen[name]; ok {
			return nil, fmt.Errorf("%s and %s would both write %s", prev, file, name)
		}
		seen[name] = file
		names[i] = name
	}
	return names, nil
}
