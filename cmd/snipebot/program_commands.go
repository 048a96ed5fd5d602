package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/snipebot/client"
	"github.com/brojonat/snipebot/service/solana"
)

func programCommands() *cli.Command {
	return &cli.Command{
		Name:  "program",
		Usage: "Program watch management commands",
		Subcommands: []*cli.Command{
			programAddCommand(),
			programRemoveCommand(),
			programGetCommand(),
			programListCommand(),
			programUpdatesCommand(),
			programInitializeCommand(),
		},
	}
}

func programAddCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Aliases:   []string{"register"},
		Usage:     "Register a program for watching",
		ArgsUsage: "PROGRAM_ID",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Value:   "http://localhost:8080",
				Usage:   "HTTP server URL",
				EnvVars: []string{"SNIPEBOT_SERVER_URL"},
			},
			&cli.StringFlag{
				Name:    "label",
				Aliases: []string{"l"},
				Usage:   "Human-readable label for the program",
			},
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "How often to snapshot the program's accounts (e.g., 30s, 1m)",
				Value:   30 * time.Second,
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("program id is required")
			}

			programID := c.Args().Get(0)
			cl := client.NewClient(c.String("server"), nil, errorLogger())

			program, err := cl.Register(context.Background(), programID, c.String("label"), c.Duration("interval"))
			if err != nil {
				return fmt.Errorf("failed to register program: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(program)
			}

			fmt.Printf("✓ Program registered: %s\n", program.ProgramID)
			if program.Label != "" {
				fmt.Printf("  Label: %s\n", program.Label)
			}
			fmt.Printf("  Poll Interval: %v\n", program.PollInterval)
			fmt.Printf("  Status: %s\n", program.Status)
			return nil
		},
	}
}

func programRemoveCommand() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Aliases:   []string{"rm", "unregister"},
		Usage:     "Unregister a program from watching",
		ArgsUsage: "PROGRAM_ID",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Value:   "http://localhost:8080",
				Usage:   "HTTP server URL",
				EnvVars: []string{"SNIPEBOT_SERVER_URL"},
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("program id is required")
			}

			programID := c.Args().Get(0)
			cl := client.NewClient(c.String("server"), nil, errorLogger())

			if err := cl.Unregister(context.Background(), programID); err != nil {
				return fmt.Errorf("failed to unregister program: %w", err)
			}

			fmt.Printf("✓ Program unregistered: %s\n", programID)
			return nil
		},
	}
}

func programGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Get details for a registered program",
		ArgsUsage: "PROGRAM_ID",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Value:   "http://localhost:8080",
				Usage:   "HTTP server URL",
				EnvVars: []string{"SNIPEBOT_SERVER_URL"},
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("program id is required")
			}

			programID := c.Args().Get(0)
			cl := client.NewClient(c.String("server"), nil, errorLogger())

			program, err := cl.Get(context.Background(), programID)
			if err != nil {
				return fmt.Errorf("failed to get program: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(program)
			}

			fmt.Printf("Program ID:    %s\n", program.ProgramID)
			if program.Label != "" {
				fmt.Printf("Label:         %s\n", program.Label)
			}
			fmt.Printf("Status:        %s\n", program.Status)
			fmt.Printf("Poll Interval: %v\n", program.PollInterval)
			if program.LastPolledAt != nil {
				fmt.Printf("Last Polled:   %s\n", program.LastPolledAt.Format(time.RFC3339))
			} else {
				fmt.Printf("Last Polled:   never\n")
			}
			return nil
		},
	}
}

func programListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List all registered programs (outputs JSON by default)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Value:   "http://localhost:8080",
				Usage:   "HTTP server URL",
				EnvVars: []string{"SNIPEBOT_SERVER_URL"},
			},
			&cli.BoolFlag{
				Name:  "table",
				Usage: "Output as human-readable table instead of JSON",
			},
		},
		Action: func(c *cli.Context) error {
			cl := client.NewClient(c.String("server"), nil, errorLogger())

			programs, err := cl.List(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list programs: %w", err)
			}

			if !c.Bool("table") {
				return outputJSON(programs)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROGRAM ID\tLABEL\tSTATUS\tPOLL INTERVAL")
			for _, p := range programs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\n", p.ProgramID, p.Label, p.Status, p.PollInterval)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d programs\n", len(programs))
			return nil
		},
	}
}

func programUpdatesCommand() *cli.Command {
	return &cli.Command{
		Name:      "updates",
		Usage:     "List stored account updates for a program",
		ArgsUsage: "PROGRAM_ID",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Value:   "http://localhost:8080",
				Usage:   "HTTP server URL",
				EnvVars: []string{"SNIPEBOT_SERVER_URL"},
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of updates to retrieve (1-1000)",
				Value:   50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of updates to skip",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("program id is required")
			}

			programID := c.Args().Get(0)
			cl := client.NewClient(c.String("server"), nil, errorLogger())

			updates, err := cl.ListUpdates(context.Background(), programID, c.Int("limit"), c.Int("offset"))
			if err != nil {
				return fmt.Errorf("failed to list updates: %w", err)
			}

			return outputJSON(updates)
		},
	}
}

func programInitializeCommand() *cli.Command {
	return &cli.Command{
		Name:      "initialize",
		Aliases:   []string{"init"},
		Usage:     "Send the initialize instruction to a program",
		ArgsUsage: "PROGRAM_ID",
		Description: `Build, sign, and submit the program's initialize instruction.

The transaction is signed with the payer keypair and submitted to the
configured RPC endpoint. On success the transaction signature is printed.

Example:
  snipebot program initialize Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS --keypair ~/.config/solana/id.json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "rpc-url",
				Usage:   "Solana RPC endpoint",
				EnvVars: []string{"SOLANA_RPC_URL"},
				Value:   "https://api.devnet.solana.com",
			},
			&cli.StringFlag{
				Name:    "keypair",
				Aliases: []string{"k"},
				Usage:   "Path to the payer keypair file (solana-keygen JSON format)",
				EnvVars: []string{"SOLANA_KEYPAIR_PATH"},
			},
			&cli.StringFlag{
				Name:    "commitment",
				Usage:   "Commitment level (processed, confirmed, finalized)",
				EnvVars: []string{"SOLANA_COMMITMENT"},
				Value:   "confirmed",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("program id is required")
			}

			programID, err := solanago.PublicKeyFromBase58(c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("invalid program id: %w", err)
			}

			payer, err := solana.LoadKeypair(c.String("keypair"))
			if err != nil {
				return err
			}

			commitment, err := solana.CommitmentFromString(c.String("commitment"))
			if err != nil {
				return err
			}

			rpcURL := c.String("rpc-url")
			solanaClient := solana.NewClient(
				solana.NewRPCClient(rpcURL),
				commitment,
				rpcURL,
				nil, // no metrics for one-shot CLI calls
				errorLogger(),
			)

			ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
			defer cancel()

			sig, err := solanaClient.Initialize(ctx, programID, payer)
			if err != nil {
				return fmt.Errorf("failed to initialize program: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]string{
					"program_id": programID.String(),
					"signature":  sig.String(),
				})
			}

			fmt.Printf("✓ Initialize transaction submitted\n")
			fmt.Printf("  Program:   %s\n", programID)
			fmt.Printf("  Payer:     %s\n", payer.PublicKey())
			fmt.Printf("  Signature: %s\n", sig)
			return nil
		},
	}
}

// errorLogger returns a logger that only emits errors to stderr. CLI
// commands keep stdout reserved for command output.
func errorLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}
