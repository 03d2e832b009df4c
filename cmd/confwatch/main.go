package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

var version = "dev"

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "confwatch:", err)
		os.Exit(1)
	}
}

func newCLI() *cli.App {
	app := cli.NewApp()
	app.Name = "confwatch"
	app.Usage = "conference deadline reminders"
	app.UsageText = "confwatch [--config FILE] <command> [arguments...]"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Value:  "./config.yaml",
			Usage:  "config file (YAML or JSON); created with defaults when missing",
			EnvVar: "CONFWATCH_CONFIG",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "run the reminder daemon",
			Action: runDaemon,
		},
		{
			Name:      "conferences",
			Aliases:   []string{"ls"},
			Usage:     "list conferences from the cache",
			ArgsUsage: "[query]",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "refresh, r", Usage: "refetch before listing"},
			},
			Action: listConferences,
		},
		{
			Name:   "subscriptions",
			Usage:  "list subscriptions and their next reminder",
			Action: listSubscriptions,
		},
		{
			Name:      "subscribe",
			Usage:     "subscribe to a conference edition",
			ArgsUsage: "<instance-id> | <title> [year]",
			Action:    subscribe,
		},
		{
			Name:      "unsubscribe",
			Usage:     "remove a subscription",
			ArgsUsage: "<id>",
			Action:    unsubscribe,
		},
		{
			Name:      "plan",
			Usage:     "show the reminders a subscription will get",
			ArgsUsage: "<id>",
			Action:    showPlan,
		},
		{
			Name:  "export-ics",
			Usage: "export subscriptions as an iCalendar feed",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "out, o", Usage: "write to FILE instead of stdout"},
			},
			Action: exportICS,
		},
		{
			Name:   "check-config",
			Usage:  "validate the config file and exit",
			Action: checkConfig,
		},
	}
	return app
}
