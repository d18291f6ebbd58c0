package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/oda/bpindex/internal/command"
	"github.com/oda/bpindex/internal/config"
	"github.com/oda/bpindex/internal/logging"
	"github.com/oda/bpindex/pkg/bptree"
)

type app struct {
	cfg    config.Config
	envErr error
	input  string
	log    *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{cfg: config.Default()}
	a.cfg.Logger.Level = "warn"
	a.envErr = a.cfg.ApplyEnv()

	root := &cobra.Command{
		Use:               "bpindex",
		Short:             "Run a command stream against a B+Tree index file",
		Long:              "Reads a count n followed by n commands (insert <key> <value>, delete <key> <value>, find <key>)\nand prints one line per find.",
		SilenceUsage:      true,
		Args:              cobra.NoArgs,
		PersistentPreRunE: a.setup,
		RunE:              a.runCommands,
	}

	f := root.PersistentFlags()
	f.StringVarP(&a.cfg.Path, "path", "p", a.cfg.Path, "index file (env "+config.EnvPath+")")
	f.StringVar(&a.cfg.Backend, "backend", a.cfg.Backend, "storage backend: file, mmap or memory")
	f.BoolVar(&a.cfg.Sync, "sync", a.cfg.Sync, "fsync after every mutating command")
	f.StringVar(&a.cfg.Logger.Level, "log-level", a.cfg.Logger.Level, "log level: debug, info, warn or error")
	f.StringVar(&a.cfg.Logger.FileName, "log-file", a.cfg.Logger.FileName, "also write JSON logs to this rotated file")

	root.Flags().StringVarP(&a.input, "input", "i", "", "read commands from this file instead of stdin")

	root.AddCommand(a.inspectCmd(), a.verifyCmd())
	return root
}

// setup validates the configuration and builds the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if a.envErr != nil {
		return a.envErr
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	log, err := logging.NewWithConsole(a.cfg.Logger, zapcore.AddSync(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	a.log = log
	return nil
}

// withTree opens the index, runs fn and closes the index.
func (a *app) withTree(fn func(t *bptree.Tree) error) (err error) {
	defer a.log.Sync()

	tree, err := a.cfg.OpenTree(a.log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := tree.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(tree)
}

func (a *app) runCommands(cmd *cobra.Command, _ []string) error {
	var in io.Reader = cmd.InOrStdin()
	if a.input != "" {
		f, err := os.Open(a.input)
		if err != nil {
			return errors.Wrapf(err, "failed to open input %s", a.input)
		}
		defer f.Close()
		in = f
	}

	return a.withTree(func(t *bptree.Tree) error {
		it := &command.Interpreter{Tree: t, Out: cmd.OutOrStdout(), Log: a.log}
		return it.Run(cmd.Context(), in)
	})
}

func (a *app) inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Print the header and every node, level by level",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withTree(func(t *bptree.Tree) error {
				return t.Dump(cmd.OutOrStdout())
			})
		},
	}
}

func (a *app) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the tree structure and print its shape and digest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withTree(func(t *bptree.Tree) error {
				if err := t.Verify(); err != nil {
					return err
				}
				st, err := t.Stats()
				if err != nil {
					return err
				}
				digest, err := t.Digest()
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "ok\n")
				fmt.Fprintf(w, "height:         %d\n", st.Height)
				fmt.Fprintf(w, "nodes:          %d (%d internal, %d leaves, %d empty)\n",
					st.Nodes, st.InternalNodes, st.Leaves, st.EmptyLeaves)
				fmt.Fprintf(w, "entries:        %d\n", st.Entries)
				fmt.Fprintf(w, "allocated ids:  %d\n", st.Allocated)
				fmt.Fprintf(w, "leaf occupancy: %.1f%%\n", st.Occupancy*100)
				fmt.Fprintf(w, "digest:         %016x\n", digest)
				return nil
			})
		},
	}
}
