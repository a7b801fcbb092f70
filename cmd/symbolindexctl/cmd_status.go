package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/erigontech/symbolindex/internal/numutil"
)

func newStatusCmd(log *zap.Logger) *cobra.Command {
	var backend string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print map-size and occupancy for the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, _ := cmd.Flags().GetString("db")
			st, err := openStore(backend, dbPath, log)
			if err != nil {
				return err
			}
			defer st.Close()

			stats, err := st.Stats()
			if err != nil {
				return fmt.Errorf("reading store stats: %w", err)
			}
			mapSize := numutil.HexOrDecimal64(stats.MapSize)
			usedSize := numutil.HexOrDecimal64(stats.UsedSize)
			fmt.Fprintf(cmd.OutOrStdout(), "map size:  %s\nused size: %s\n", hexText(mapSize), hexText(usedSize))
			return nil
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "mdbx", "store backend: mdbx or bolt")
	return cmd
}

func hexText(v numutil.HexOrDecimal64) string {
	b, _ := v.MarshalText()
	return string(b)
}
