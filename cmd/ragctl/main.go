package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"rag-chat-be/internal/bootstrap"
	"rag-chat-be/internal/config"
	"rag-chat-be/internal/dto"
	"rag-chat-be/pkg/database"
	"rag-chat-be/pkg/rag/pipeline"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "ragctl",
		Usage: "Inspect and query the shared knowledge index",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Give up after this long",
				Value: 2 * time.Minute,
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "query",
				Usage:     "Ask a one-off question against the index",
				ArgsUsage: "<question>",
				Action:    queryCommand,
			},
			{
				Name:   "stats",
				Usage:  "Show index size, version and lock state",
				Action: statsCommand,
			},
			{
				Name:   "reset",
				Usage:  "Delete every indexed chunk",
				Action: resetCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "yes",
						Usage: "Do not ask for confirmation",
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		color.Red("❌ %v", err)
		os.Exit(1)
	}
}

func withContainer(c *cli.Context, fn func(ctx context.Context, container *bootstrap.Container) error) error {
	cfg := config.Load()

	db, err := database.NewGormDBFromDSN(cfg.Database.Connection)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	container := bootstrap.NewContainer(db, cfg)
	defer container.Close()

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()
	return fn(ctx, container)
}

func queryCommand(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return cli.Exit("a question is required", 2)
	}

	return withContainer(c, func(ctx context.Context, container *bootstrap.Container) error {
		color.Cyan("🔎 %s", question)
		res, err := container.QueryService.Ask(ctx, &dto.QueryRequest{Question: question})
		if err != nil {
			return err
		}

		fmt.Println(res.Answer)
		confidenceColor(res.Confidence).Printf("confidence: %.3f\n", res.Confidence)
		return nil
	})
}

func statsCommand(c *cli.Context) error {
	return withContainer(c, func(ctx context.Context, container *bootstrap.Container) error {
		stats, err := container.IndexService.Stats(ctx)
		if err != nil {
			return err
		}
		printStats(stats)
		return nil
	})
}

func resetCommand(c *cli.Context) error {
	if !c.Bool("yes") {
		color.Yellow("⚠️ This deletes every indexed chunk. Re-run with --yes to confirm.")
		return nil
	}

	return withContainer(c, func(ctx context.Context, container *bootstrap.Container) error {
		if err := container.IndexService.Reset(ctx); err != nil {
			return err
		}
		color.Green("✅ Knowledge index cleared")
		return nil
	})
}

func printStats(s *dto.IndexStatsResponse) {
	color.Cyan("📚 Knowledge index")
	fmt.Printf("  chunks:  %d\n", s.Chunks)
	fmt.Printf("  sources: %d\n", s.Sources)
	fmt.Printf("  version: %d\n", s.Version)
	if s.UpdatedAt != nil {
		fmt.Printf("  updated: %s\n", s.UpdatedAt.Format(time.RFC3339))
	}
	fmt.Printf("  readers: %d, writing: %t\n", s.Readers, s.Writing)
}

// confidenceColor marks answers that would have taken the retrieval route in a chat session.
func confidenceColor(confidence float64) *color.Color {
	switch {
	case confidence >= pipeline.ConfidenceThreshold:
		return color.New(color.FgGreen)
	case confidence > 0:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}
