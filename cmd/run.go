package cmd

import (
	"context"
	"log"
	"os"
	"os/exec"
	"syscall"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bot with the scheduler and subscriber as child processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUntilSignal(func(ctx context.Context) error {
				return runAll(ctx, migrateUp)
			})
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}

// runAll supervises the three processes. The scheduler and subscriber run as
// children of this binary so each keeps its own crash domain; they get
// SIGTERM when the parent's context ends.
func runAll(ctx context.Context, migrateUp bool) error {
	self, err := os.Executable()
	if err != nil {
		return err
	}

	for _, name := range []string{"scheduler", "subscriber"} {
		child := exec.CommandContext(ctx, self, name)
		child.Stdout = os.Stdout
		child.Stderr = os.Stderr
		child.Cancel = func() error { return child.Process.Signal(syscall.SIGTERM) }
		if err := child.Start(); err != nil {
			return err
		}
		log.Printf("cmd: started %s (pid %d)", name, child.Process.Pid)
		go func(c *exec.Cmd, name string) {
			if err := c.Wait(); err != nil && ctx.Err() == nil {
				log.Printf("cmd: %s exited: %v", name, err)
			}
		}(child, name)
	}

	return runBot(ctx, migrateUp)
}
