package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "riskctl",
		Usage: "Offline tooling for the chain risk scorer",
		Description: `Score transaction events against fixture history and profiles,
inspect the risk rule table the scorer would load, and tag addresses in Neo4J.`,
		Version: version,
		Commands: []*cli.Command{
			scoreCommand(),
			rulesCommand(),
			tagCommand(),
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a config file (defaults to the scorer's search paths)",
				EnvVars: []string{"RISK_CONFIG"},
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log evaluation details to stderr",
			},
		},
	}
}
