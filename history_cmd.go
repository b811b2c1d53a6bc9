package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"kalam/config"
	"kalam/history"
)

const historyUsage = `Usage:
  kalam history [-config file] [-n count] [query]
  kalam history [-config file] delete <id>
  kalam history [-config file] clear`

// runHistory implements the "history" subcommand.
func runHistory(args []string) int {
	return historyCommand(context.Background(), args, os.Stdout, os.Stderr)
}

func historyCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "YAML config file")
	limit := fs.Int("n", 20, "Number of entries to list (0 = all)")
	fs.Usage = func() { fmt.Fprintln(stderr, historyUsage) }
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(config.ResolvePath(*configPath), *configPath != "")
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if cfg.Output.History == "" {
		fmt.Fprintln(stderr, "History is disabled (output.history is empty).")
		return 1
	}
	store, err := history.Open(ctx, cfg.Output.History)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	rest := fs.Args()
	switch {
	case len(rest) > 0 && rest[0] == "delete":
		if len(rest) != 2 {
			fs.Usage()
			return 2
		}
		if err := store.Delete(ctx, rest[1]); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Deleted %s\n", rest[1])
	case len(rest) == 1 && rest[0] == "clear":
		n, err := store.DeleteAll(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Deleted %d transcription(s)\n", n)
	default:
		var entries []history.Entry
		if query := strings.Join(rest, " "); query != "" {
			entries, err = store.Search(ctx, query)
			if err == nil && *limit > 0 && len(entries) > *limit {
				entries = entries[:*limit]
			}
		} else {
			entries, err = store.List(ctx, *limit)
		}
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		printEntries(stdout, entries)
	}
	return 0
}
