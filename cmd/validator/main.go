package main

import (
	"fmt"
	"os"

	"data-act-broker/internal/config"
	"data-act-broker/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "validator",
		Short: "Validates submitted files picked up from the work queue",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			cfg = loaded
			logger.Init(cfg.Logging.Level, cfg.Logging.Format)
			return nil
		},
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Poll the queue and run each message in a child process",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	runCmd = &cobra.Command{
		Use:    "run <job> [args...]",
		Short:  "Run one job in this process; started by serve",
		Args:   cobra.MinimumNArgs(1),
		Hidden: true,
		RunE:   runJob,
	}
)

func init() {
	rootCmd.AddCommand(serveCmd, runCmd)
}

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	if ee, ok := err.(*exitError); ok {
		if ee.err != nil {
			fmt.Fprintln(os.Stderr, ee.err)
		}
		os.Exit(ee.code)
	}
	os.Exit(1)
}
