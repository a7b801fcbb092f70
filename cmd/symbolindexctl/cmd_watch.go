package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/erigontech/symbolindex/indexsystem"
	"github.com/erigontech/symbolindex/watch"
)

func newWatchCmd(log *zap.Logger) *cobra.Command {
	var backend string
	var debounceMillis int

	cmd := &cobra.Command{
		Use:   "watch <dir> [dir...]",
		Short: "Watch directories and mark containing units out-of-date on change",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, _ := cmd.Flags().GetString("db")

			st, err := openStore(backend, dbPath, log)
			if err != nil {
				return err
			}
			defer st.Close()

			sys, err := indexsystem.New(indexsystem.Config{
				Store:   st,
				Stater:  osStater{},
				Options: indexsystem.Options{ReadOnly: true, EnableOutOfDateWatching: true},
				Log:     log,
			})
			if err != nil {
				return fmt.Errorf("starting index system: %w", err)
			}
			defer sys.Close()

			w, err := watch.New(func(paths []string) {
				if err := sys.NotifyFSEvent(paths); err != nil {
					log.Warn("notifying fs event", zap.Error(err))
				}
			}, durationFromMillis(debounceMillis), log)
			if err != nil {
				return fmt.Errorf("starting watcher: %w", err)
			}
			defer w.Close()

			for _, dir := range args {
				if err := w.Add(dir); err != nil {
					return fmt.Errorf("watching %q: %w", dir, err)
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "watching %d director(ies); press ctrl-c to stop\n", len(args))
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig
			return nil
		},
	}

	cmd.Flags().StringVar(&backend, "backend", "mdbx", "store backend: mdbx or bolt")
	cmd.Flags().IntVar(&debounceMillis, "debounce-ms", 200, "debounce window per changed directory, in milliseconds")
	return cmd
}
