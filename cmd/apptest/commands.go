package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alessio/shellescape"
	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/drallgood/apptest/internal/config"
	"github.com/drallgood/apptest/internal/database"
	"github.com/drallgood/apptest/internal/logger"
	"github.com/drallgood/apptest/pkg/dbcast"
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Load configuration from `FILE` (default: $" + config.EnvConfigFile + ")",
	}
}

func castCommand() *cli.Command {
	return &cli.Command{
		Name:  "cast",
		Usage: "Print SQL cast fragments",
		Subcommands: []*cli.Command{
			{
				Name:      "json",
				Usage:     "Print the CAST(... AS JSON) expression for a JSON document",
				ArgsUsage: "<json>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return errors.New("cast json takes exactly one JSON argument")
					}
					expr, err := dbcast.ToJSON(c.Args().First())
					if err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, expr.SQL)
					return nil
				},
			},
			{
				Name:  "timestamp",
				Usage: "Print a time in the database timestamp format",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "at",
						Usage: "RFC3339 time to format (default: now)",
					},
				},
				Action: func(c *cli.Context) error {
					at := time.Now()
					if s := c.String("at"); s != "" {
						parsed, err := time.Parse(time.RFC3339, s)
						if err != nil {
							return fmt.Errorf("invalid --at value: %w", err)
						}
						at = parsed
					}
					fmt.Fprintln(c.App.Writer, dbcast.ToTimestamp(at))
					return nil
				},
			},
		},
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect the effective configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the effective configuration as YAML",
				Flags: []cli.Flag{configFlag()},
				Action: func(c *cli.Context) error {
					cfg, err := config.Load(c.String("config"))
					if err != nil {
						return fmt.Errorf("failed to load config: %w", err)
					}
					out, err := cfg.YAML()
					if err != nil {
						return fmt.Errorf("failed to render config: %w", err)
					}
					_, err = c.App.Writer.Write(out)
					return err
				},
			},
			{
				Name:  "env",
				Usage: "Print shell exports that reproduce the effective configuration",
				Flags: []cli.Flag{configFlag()},
				Action: func(c *cli.Context) error {
					cfg, err := config.Load(c.String("config"))
					if err != nil {
						return fmt.Errorf("failed to load config: %w", err)
					}
					for _, v := range cfg.Env() {
						fmt.Fprintf(c.App.Writer, "export %s=%s\n", v.Name, shellescape.Quote(v.Value))
					}
					return nil
				},
			},
		},
	}
}

func dbCommand() *cli.Command {
	return &cli.Command{
		Name:  "db",
		Usage: "Database utilities",
		Subcommands: []*cli.Command{
			{
				Name:  "check",
				Usage: "Connect to the configured database and ping it",
				Flags: []cli.Flag{
					configFlag(),
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "Give up after this long",
						Value: 5 * time.Second,
					},
				},
				Action: func(c *cli.Context) error {
					cfg, err := config.Load(c.String("config"))
					if err != nil {
						return fmt.Errorf("failed to load config: %w", err)
					}

					log := logger.Get()
					db, err := database.Connect(&cfg.Database, log)
					if err != nil {
						return err
					}
					defer func() {
						if err := database.Close(db); err != nil {
							log.Warn("Failed to close database", map[string]interface{}{"error": err.Error()})
						}
					}()

					ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
					defer cancel()
					if err := database.Health(ctx, db); err != nil {
						return err
					}

					color.New(color.FgGreen).Fprintf(c.App.Writer, "database ok (%s)\n", cfg.Database.Type)
					return nil
				},
			},
		},
	}
}
