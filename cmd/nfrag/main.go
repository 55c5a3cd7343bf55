package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	serverFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Usage:   "base URL of a running nfrag server",
			Value:   "http://localhost:5000",
			Sources: cli.EnvVars("NFRAG_SERVER"),
		},
		&cli.StringFlag{
			Name:  "client-id",
			Usage: "conversation identifier (default: a new random id)",
		},
	}

	return &cli.Command{
		Name:  "nfrag",
		Usage: "question answering over Notas Fiscais CSV exports",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to YAML config file (default: ./config.yaml or ~/.config/nfrag/config.yaml)",
			},
			&cli.StringFlag{
				Name:  "env",
				Usage: "environment file loaded before the config",
				Value: ".env",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "load the invoices, build the index and serve POST /ask",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "reuse-index",
						Usage: "open the index already stored in the configured vector store instead of rebuilding it",
					},
				},
				Action: serveAction,
			},
			{
				Name:  "index",
				Usage: "index management",
				Commands: []*cli.Command{
					{
						Name:   "build",
						Usage:  "ingest the CSV files into the configured persisted vector store",
						Action: indexBuildAction,
					},
				},
			},
			{
				Name:      "ask",
				Usage:     "ask one question through the HTTP API",
				ArgsUsage: "<question>",
				Flags:     serverFlags,
				Action:    askAction,
			},
			{
				Name:   "chat",
				Usage:  "interactive chat against a running server",
				Flags:  serverFlags,
				Action: chatAction,
			},
		},
	}
}
