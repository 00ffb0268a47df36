package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "laundrybot",
		Short: "Telegram bot that books washing machine slots in a shared laundry room",
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newBotCmd())
	root.AddCommand(newSchedulerCmd())
	root.AddCommand(newSubscriberCmd())
	root.AddCommand(newRunCmd())

	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runUntilSignal runs fn under a context canceled by SIGINT or SIGTERM and
// exits with the conventional 128+signal code when one fired, so supervisors
// can tell a clean shutdown from a fault.
func runUntilSignal(fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(ch)

	var code atomic.Int32
	go func() {
		sig, ok := <-ch
		if !ok {
			return
		}
		if sig == syscall.SIGTERM {
			code.Store(143)
		} else {
			code.Store(130)
		}
		cancel()
	}()

	err := fn(ctx)
	if c := code.Load(); c != 0 {
		os.Exit(int(c))
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
