// Command apptest inspects the pieces the test helpers are built on: SQL
// casts, the effective configuration and the configured database.
package main

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/drallgood/apptest/internal/logger"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit status
func run(args []string, stdout, stderr io.Writer) int {
	app := newApp(stdout, stderr)
	if err := app.Run(args); err != nil {
		color.New(color.FgRed).Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "apptest",
		Usage:     "Inspect SQL casts, configuration and database connectivity used by the test helpers",
		Version:   version + " (" + commit + ") " + date,
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
				Value: "warn",
			},
		},
		Before: func(c *cli.Context) error {
			logger.ForceSetup(logger.Config{
				Level:  c.String("log-level"),
				Format: logger.FormatConsole,
				Output: stderr,
			})
			return nil
		},
		// errors are printed by run; never let the library exit the process
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			castCommand(),
			configCommand(),
			dbCommand(),
		},
	}
}
