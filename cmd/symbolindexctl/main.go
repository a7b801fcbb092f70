// Command symbolindexctl is a small CLI over the Index System Facade:
// import units, run USR/name/call queries, watch a source tree for
// out-of-date files, and manually purge orphan providers.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// importDrainTimeout bounds how long "import" waits for the async
// delegate's FIFO to drain before returning control to the shell.
const importDrainTimeout = 30 * time.Second

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "symbolindexctl: building logger:", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	root := &cobra.Command{
		Use:   "symbolindexctl",
		Short: "Inspect and drive a symbolindex database",
	}
	root.PersistentFlags().String("db", "", "path to the index database directory")
	root.PersistentFlags().String("plugin", "", "path to a Go plugin (.so) resolving the live store and record-reader library")
	if err := root.MarkPersistentFlagRequired("db"); err != nil {
		log.Panic(err.Error())
	}

	root.AddCommand(newImportCmd(log))
	root.AddCommand(newQueryCmd(log))
	root.AddCommand(newWatchCmd(log))
	root.AddCommand(newGCCmd(log))
	root.AddCommand(newStatusCmd(log))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
