package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/erigontech/symbolindex/indexsystem"
)

func newImportCmd(log *zap.Logger) *cobra.Command {
	var backend string
	var explicitOutput bool
	var sysroots []string

	cmd := &cobra.Command{
		Use:   "import <unit> [unit...]",
		Short: "Register or refresh one or more units by name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, _ := cmd.Flags().GetString("db")
			pluginPath, _ := cmd.Flags().GetString("plugin")
			if pluginPath == "" {
				return fmt.Errorf("import requires --plugin to resolve the live unit/record store")
			}

			st, err := openStore(backend, dbPath, log)
			if err != nil {
				return err
			}
			defer st.Close()

			live, opener, err := loadLiveStoreBinding(pluginPath)
			if err != nil {
				return err
			}

			sys, err := indexsystem.New(indexsystem.Config{
				Store:        st,
				LiveStore:    live,
				RecordOpener: opener,
				Stater:       osStater{},
				Options: indexsystem.Options{
					UseExplicitOutputUnits: explicitOutput,
					ReadOnly:               true,
					Sysroots:               sysroots,
				},
				Log: log,
			})
			if err != nil {
				return fmt.Errorf("starting index system: %w", err)
			}
			defer sys.Close()

			for _, name := range args {
				if err := sys.RegisterUnit(name); err != nil {
					return fmt.Errorf("registering unit %q: %w", name, err)
				}
			}

			sys.WaitForQuiescence(importDrainTimeout)
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d unit(s)\n", len(args))
			return nil
		},
	}

	cmd.Flags().StringVar(&backend, "backend", "mdbx", "store backend: mdbx or bolt")
	cmd.Flags().BoolVar(&explicitOutput, "explicit-output", false, "use explicit-output visibility mode (only units whose output file is registered are visible)")
	cmd.Flags().StringSliceVar(&sysroots, "sysroot", nil, "path treated as a system sysroot (repeatable)")
	return cmd
}
