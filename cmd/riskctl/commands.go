package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"chain-risk-scorer/internal/domain/entity"
	"chain-risk-scorer/internal/domain/service"
	"chain-risk-scorer/internal/infrastructure/config"
	"chain-risk-scorer/internal/infrastructure/database"
	"chain-risk-scorer/internal/infrastructure/logger"
	"chain-risk-scorer/internal/infrastructure/memory"

	"github.com/urfave/cli/v2"
)

func scoreCommand() *cli.Command {
	return &cli.Command{
		Name:      "score",
		Usage:     "Score a transaction event",
		ArgsUsage: " ",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "event",
				Aliases:  []string{"e"},
				Usage:    "JSON file holding the event to score",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "history",
				Usage: "JSON file holding an array of earlier events",
			},
			&cli.StringFlag{
				Name:  "profiles",
				Usage: "JSON file holding an array of address profiles",
			},
		},
		Action: func(c *cli.Context) error {
			rules, err := loadRules(c)
			if err != nil {
				return err
			}
			log, err := newLogger(c)
			if err != nil {
				return err
			}

			var event entity.TransactionEvent
			if err := readJSON(c.String("event"), &event); err != nil {
				return err
			}

			store := memory.NewStore()
			if err := seedStore(c.Context, store, c.String("history"), c.String("profiles")); err != nil {
				return err
			}

			evaluator := service.NewPatternRiskEvaluator(
				store,
				store,
				service.NewMevPatternDetector(rules.KnownMEVBots, rules.MEVMethodSignatures, log),
				service.NewTimeSeriesAnomalyScorer(log),
				rules,
				service.DefaultRecentEventLimit,
				log,
			)
			aggregator := service.NewRiskAggregator(evaluator, store, service.NewDimensionScorer(rules), log)

			return writeJSON(c.App.Writer, aggregator.Score(c.Context, &event))
		},
	}
}

func rulesCommand() *cli.Command {
	return &cli.Command{
		Name:  "rules",
		Usage: "Validate and print the risk rule table",
		Action: func(c *cli.Context) error {
			rules, err := loadRules(c)
			if err != nil {
				return err
			}
			return writeJSON(c.App.Writer, rules)
		},
	}
}

func tagCommand() *cli.Command {
	return &cli.Command{
		Name:      "tag",
		Usage:     "Attach a tag such as blacklist or mixer to an address in Neo4J",
		ArgsUsage: "<address> <tag>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("expected <address> <tag>, got %d arguments", c.NArg())
			}
			address, tag := c.Args().Get(0), c.Args().Get(1)

			cfg, err := config.LoadFrom(c.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			log, err := newLogger(c)
			if err != nil {
				return err
			}

			client := database.NewNeo4JClient(&cfg.Neo4J, log)
			if err := client.Connect(c.Context); err != nil {
				return err
			}
			defer client.Close(context.Background())

			profiles := database.NewNeo4JProfileRepository(client, log)
			if err := profiles.AddTag(c.Context, address, tag); err != nil {
				return err
			}

			profile, err := profiles.LookupAddressProfile(c.Context, address)
			if err != nil {
				return err
			}
			return writeJSON(c.App.Writer, profile)
		},
	}
}

func loadRules(c *cli.Context) (entity.RiskRules, error) {
	cfg, err := config.LoadFrom(c.String("config"))
	if err != nil {
		return entity.RiskRules{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	rules, err := cfg.Rules()
	if err != nil {
		return entity.RiskRules{}, fmt.Errorf("failed to load risk rules: %w", err)
	}
	return rules, nil
}

func newLogger(c *cli.Context) (*logger.Logger, error) {
	if !c.Bool("verbose") {
		return logger.NewNop(), nil
	}
	return logger.NewLogger("debug")
}

// seedStore loads fixture files into the store; empty paths are skipped
func seedStore(ctx context.Context, store *memory.Store, historyPath, profilesPath string) error {
	if historyPath != "" {
		var history []*entity.TransactionEvent
		if err := readJSON(historyPath, &history); err != nil {
			return err
		}
		for _, e := range history {
			if e == nil {
				continue
			}
			if err := store.SaveEvent(ctx, e); err != nil {
				return fmt.Errorf("failed to load history: %w", err)
			}
		}
	}

	if profilesPath != "" {
		var profiles []*entity.AddressProfile
		if err := readJSON(profilesPath, &profiles); err != nil {
			return err
		}
		for _, p := range profiles {
			if p != nil {
				store.PutProfile(p)
			}
		}
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
