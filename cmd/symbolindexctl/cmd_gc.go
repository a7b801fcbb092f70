package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/erigontech/symbolindex/indexsystem"
	"github.com/erigontech/symbolindex/internal/idcode"
	"github.com/erigontech/symbolindex/store"
	"github.com/erigontech/symbolindex/symbolindex"
)

func newGCCmd(log *zap.Logger) *cobra.Command {
	var backend string
	var all bool

	cmd := &cobra.Command{
		Use:   "gc [provider...]",
		Short: "Purge orphan providers (spec.md §9(b), left manual rather than automatic)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("gc requires either --all or one or more provider names")
			}

			dbPath, _ := cmd.Flags().GetString("db")
			st, err := openStore(backend, dbPath, log)
			if err != nil {
				return err
			}
			defer st.Close()

			sys, err := indexsystem.New(indexsystem.Config{
				Store:   st,
				Options: indexsystem.Options{ReadOnly: true},
				Log:     log,
			})
			if err != nil {
				return fmt.Errorf("starting index system: %w", err)
			}
			defer sys.Close()

			names := args
			if all {
				names, err = orphanProviderCandidates(st)
				if err != nil {
					return fmt.Errorf("scanning for orphan providers: %w", err)
				}
			}

			removed := 0
			for _, name := range names {
				code := idcode.Of(name)
				err := sys.Symbols().RemoveOrphanProvider(code)
				switch {
				case err == nil:
					removed++
					fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", name)
				case errors.Is(err, symbolindex.ErrProviderStillReferenced):
					fmt.Fprintf(cmd.OutOrStdout(), "skipped %s: still referenced by a unit\n", name)
				default:
					return fmt.Errorf("removing provider %q: %w", name, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d of %d candidate provider(s)\n", removed, len(names))
			return nil
		},
	}

	cmd.Flags().StringVar(&backend, "backend", "mdbx", "store backend: mdbx or bolt")
	cmd.Flags().BoolVar(&all, "all", false, "scan every provider with no remaining referencing unit")
	return cmd
}

// orphanProviderCandidates scans store.ProviderName for providers whose
// store.UnitsOfProvider set is empty or absent, without resolving provider
// codes back to names except through the ProviderName table itself (the
// only table that records the original string).
func orphanProviderCandidates(st store.Store) ([]string, error) {
	var names []string
	err := store.RunRead(st, func(tx store.ReadTx) error {
		return tx.ForEach(store.ProviderName, func(key, value []byte) (bool, error) {
			raw, err := tx.Get(store.UnitsOfProvider, key)
			if err != nil && err != store.ErrKeyNotFound {
				return false, err
			}
			if err == nil && len(store.DecodeCodeSet(raw)) > 0 {
				return true, nil
			}
			names = append(names, string(value))
			return true, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}
