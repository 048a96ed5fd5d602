package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/snipebot/service/db"
)

func listProgramsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-programs",
		Usage:   "List all registered programs",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Filter by status (active, paused)",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			programs, err := store.ListPrograms(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list programs: %w", err)
			}

			// Filter by status if specified
			statusFilter := c.String("status")
			if statusFilter != "" {
				filtered := make([]*db.Program, 0)
				for _, p := range programs {
					if p.Status == statusFilter {
						filtered = append(filtered, p)
					}
				}
				programs = filtered
			}

			if c.Bool("json") {
				return outputJSON(programs)
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROGRAM ID\tLABEL\tSTATUS\tPOLL INTERVAL\tLAST POLLED\tCREATED")
			for _, program := range programs {
				label := ""
				if program.Label != nil {
					label = *program.Label
				}
				lastPolled := "never"
				if program.LastPolledAt != nil {
					lastPolled = program.LastPolledAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%s\n",
					program.ProgramID,
					label,
					program.Status,
					program.PollInterval,
					lastPolled,
					program.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d programs\n", len(programs))
			return nil
		},
	}
}

func getProgramCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-program",
		Usage:     "Get program details",
		Aliases:   []string{"get"},
		ArgsUsage: "<program-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: program id")
			}

			programID := c.Args().First()
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			program, err := store.GetProgram(context.Background(), programID)
			if err != nil {
				return fmt.Errorf("failed to get program: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(program)
			}

			// Pretty output
			fmt.Printf("Program ID:    %s\n", program.ProgramID)
			if program.Label != nil {
				fmt.Printf("Label:         %s\n", *program.Label)
			}
			fmt.Printf("Status:        %s\n", program.Status)
			fmt.Printf("Poll Interval: %v\n", program.PollInterval)
			if program.LastPolledAt != nil {
				fmt.Printf("Last Polled:   %s\n", program.LastPolledAt.Format(time.RFC3339))
			} else {
				fmt.Printf("Last Polled:   never\n")
			}
			fmt.Printf("Created:       %s\n", program.CreatedAt.Format(time.RFC3339))
			fmt.Printf("Updated:       %s\n", program.UpdatedAt.Format(time.RFC3339))

			return nil
		},
	}
}

func listUpdatesCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-updates",
		Usage:   "List stored account updates for a program",
		Aliases: []string{"updates"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "program",
				Aliases: []string{"p"},
				Usage:   "Program id to list updates for",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of updates",
				Value:   50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of updates to skip",
			},
			&cli.StringFlag{
				Name:  "format",
				Usage: "Output format: json (default) or human",
				Value: "json",
			},
		},
		Action: func(c *cli.Context) error {
			programID := c.String("program")
			if programID == "" {
				return fmt.Errorf("please specify --program flag to list updates")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			updates, err := store.ListAccountUpdatesByProgram(context.Background(), db.ListAccountUpdatesParams{
				ProgramID: programID,
				Limit:     int32(c.Int("limit")),
				Offset:    int32(c.Int("offset")),
			})
			if err != nil {
				return fmt.Errorf("failed to list updates: %w", err)
			}

			format := c.String("format")

			// Default to JSON output (following project philosophy: stdout = JSON)
			if format == "json" {
				return outputJSON(updates)
			}

			// Human-readable output
			if len(updates) == 0 {
				fmt.Println("No updates found")
				return nil
			}

			for i, u := range updates {
				if i > 0 {
					fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
				}

				fmt.Printf("Account:     %s\n", u.AccountPubkey)
				fmt.Printf("Program:     %s\n", u.ProgramID)
				fmt.Printf("Slot:        %d\n", u.Slot)
				solAmount := float64(u.Lamports) / 1e9
				fmt.Printf("Lamports:    %d (%.9f SOL)\n", u.Lamports, solAmount)
				fmt.Printf("Owner:       %s\n", u.Owner)
				fmt.Printf("Data Size:   %d bytes\n", len(u.Data))
				fmt.Printf("Source:      %s\n", u.Source)
				fmt.Printf("Received At: %s\n", u.ReceivedAt.Format(time.RFC3339))
			}

			fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
			fmt.Fprintf(os.Stderr, "\nTotal: %d updates\n", len(updates))
			return nil
		},
	}
}

// Helper function to connect to database
func getStore(c *cli.Context) (*db.Store, func(), error) {
	// Try to get from parent context first (for global flags)
	dbURL := c.String("database-url")
	if dbURL == "" && c.App != nil {
		// Try environment variable directly if flag not found
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// One-shot CLI queries do not record metrics.
	store := db.NewStore(pool, nil)
	closer := func() { pool.Close() }

	return store, closer, nil
}

// Helper function to output JSON
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
