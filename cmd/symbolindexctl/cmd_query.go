package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/erigontech/symbolindex/indexsystem"
	"github.com/erigontech/symbolindex/model"
	"github.com/erigontech/symbolindex/patternmatch"
	"github.com/erigontech/symbolindex/record"
)

// openReadOnlySystem builds an indexsystem.System for query commands: no
// polling, no event listening, no unit registration, just the store plus
// whatever plugin-provided RecordOpener a query needs to open provider
// files. The caller must Close the returned system and its store.
func openReadOnlySystem(cmd *cobra.Command, log *zap.Logger) (*indexsystem.System, func(), error) {
	backend, _ := cmd.Flags().GetString("backend")
	dbPath, _ := cmd.Flags().GetString("db")
	pluginPath, _ := cmd.Flags().GetString("plugin")

	st, err := openStore(backend, dbPath, log)
	if err != nil {
		return nil, nil, err
	}

	var opener func(string) (*record.Provider, error)
	if pluginPath != "" {
		_, loaded, err := loadLiveStoreBinding(pluginPath)
		if err != nil {
			st.Close()
			return nil, nil, err
		}
		opener = loaded
	}

	sys, err := indexsystem.New(indexsystem.Config{
		Store:        st,
		RecordOpener: opener,
		Options:      indexsystem.Options{ReadOnly: true},
		Log:          log,
	})
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("starting index system: %w", err)
	}

	cleanup := func() {
		sys.Close()
		st.Close()
	}
	return sys, cleanup, nil
}

func printOccurrence(cmd *cobra.Command, occ model.SymbolOccurrence) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s:%d:%d\n",
		occ.Symbol.USR, occ.Symbol.Name, occ.Location.Path, occ.Location.Line, occ.Location.UTF8Column)
}

func newQueryCmd(log *zap.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Look up symbols by USR, name or dependency relation",
	}
	cmd.PersistentFlags().String("backend", "mdbx", "store backend: mdbx or bolt")
	cmd.AddCommand(newQueryUSRCmd(log))
	cmd.AddCommand(newQueryNameCmd(log))
	cmd.AddCommand(newQueryCallsCmd(log))
	return cmd
}

func newQueryUSRCmd(log *zap.Logger) *cobra.Command {
	var canonicalOnly bool
	cmd := &cobra.Command{
		Use:   "usr <usr>",
		Short: "Print every occurrence of a USR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, cleanup, err := openReadOnlySystem(cmd, log)
			if err != nil {
				return err
			}
			defer cleanup()

			usr := model.USR(args[0])
			visit := func(occ model.SymbolOccurrence) (bool, error) {
				printOccurrence(cmd, occ)
				return true, nil
			}
			if canonicalOnly {
				return sys.Symbols().ForeachCanonicalOccurrenceByUSR(usr, visit)
			}
			return sys.Symbols().ForeachOccurrenceByUSR(usr, 0, visit)
		},
	}
	cmd.Flags().BoolVar(&canonicalOnly, "canonical", false, "print only the canonical occurrence")
	return cmd
}

func newQueryNameCmd(log *zap.Logger) *cobra.Command {
	var anchorStart, ignoreCase, subsequence bool
	cmd := &cobra.Command{
		Use:   "name <pattern>",
		Short: "Print canonical occurrences matching a name pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, cleanup, err := openReadOnlySystem(cmd, log)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := patternmatch.Options{AnchorStart: anchorStart, IgnoreCase: ignoreCase, Subsequence: subsequence}
			return sys.Symbols().ForeachCanonicalOccurrenceByPattern(args[0], opts, func(occ model.SymbolOccurrence) (bool, error) {
				printOccurrence(cmd, occ)
				return true, nil
			})
		},
	}
	cmd.Flags().BoolVar(&anchorStart, "anchor-start", false, "require the match to start at the beginning of the name")
	cmd.Flags().BoolVar(&ignoreCase, "ignore-case", false, "match case-insensitively")
	cmd.Flags().BoolVar(&subsequence, "subsequence", false, "match pattern as a subsequence rather than a substring")
	return cmd
}

func newQueryCallsCmd(log *zap.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calls <usr>",
		Short: "Print every occurrence related to a USR (callers, overrides, bases)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, cleanup, err := openReadOnlySystem(cmd, log)
			if err != nil {
				return err
			}
			defer cleanup()

			usr := model.USR(args[0])
			return sys.Symbols().ForeachRelatedOccurrenceByUSR(usr, 0, func(occ model.SymbolOccurrence) (bool, error) {
				printOccurrence(cmd, occ)
				return true, nil
			})
		},
	}
	return cmd
}
