package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	appLog "loopr/internal/log"
)

const version = "0.1.0"

func main() {
	app := cli.App{
		Name:      "loopr",
		HelpName:  "loopr",
		Usage:     "recurring events and reminders",
		Version:   version,
		UsageText: "loopr [--config path] <command> [arguments...]",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:   "config, c",
				Usage:  "path to config file",
				EnvVar: "LOOPR_CONFIG",
				Value:  "/etc/loopr/config.yaml",
			},
			cli.StringFlag{
				Name:  "events, e",
				Usage: "path to the .ics event file (overrides config if set)",
			},
		},
		Commands: []cli.Command{
			{
				Name:   "run",
				Usage:  "arm reminders and fire them until interrupted",
				Action: run,
			},
			{
				Name:    "agenda",
				Aliases: []string{"a"},
				Usage:   "list occurrences in a date range",
				Action:  agendaCmd,
				Flags:   rangeFlags,
			},
			{
				Name:   "pending",
				Usage:  "list the reminders that would be armed now",
				Action: pending,
			},
			{
				Name:   "validate",
				Usage:  "check every event's recurrence and describe it",
				Action: validate,
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		appLog.Error("loopr failed", err)
		fmt.Fprintln(os.Stderr, "loopr:", err)
		os.Exit(1)
	}
}
