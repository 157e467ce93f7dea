package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/seantiz/filterd/internal/config"
	"github.com/seantiz/filterd/internal/graph"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "filterrun",
		Short:         "Run filter graphs on an in-process controller",
		Long:          `filterrun loads a graph definition, runs it on a worker goroutine and prints every frame the graph delivers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")

	root.AddCommand(newRunCmd(), newValidateCmd(), newListCmd())
	return root
}

func loggerFor(cmd *cobra.Command) *slog.Logger {
	level, _ := cmd.Flags().GetString("log-level")
	return config.NewTextLogger(cmd.ErrOrStderr(), config.ParseLogLevel(level))
}

// resolveDefinition loads ref as a definition file, falling back to a
// built-in graph of that name when no such file exists.
func resolveDefinition(ref string) (*graph.Definition, error) {
	def, err := graph.LoadDefinition(ref)
	if err == nil {
		return def, nil
	}
	if _, statErr := os.Stat(ref); !errors.Is(statErr, fs.ErrNotExist) {
		return nil, err
	}
	if def, rerr := graph.NewBuiltinRegistry().Resolve(ref); rerr == nil {
		return def, nil
	}
	return nil, err
}
