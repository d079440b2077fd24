package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"nightroad.app/internal/persistence/indexdb"
)

func openIndex(fs *flag.FlagSet, args []string) *indexdb.Reader {
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/actions.sqlite)")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "actions.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	r, err := indexdb.OpenReader(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	return r
}

func actionsCmd(args []string) {
	fs := flag.NewFlagSet("actions", flag.ExitOnError)
	limit := fs.Int("limit", 20, "result limit")
	action := fs.String("action", "", "action name filter")
	failed := fs.Bool("failed", false, "only hard errors")
	r := openIndex(fs, args)
	defer r.Close()

	rows, err := r.Actions(context.Background(), indexdb.ActionQuery{Limit: *limit, Action: *action, Failed: *failed})
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, row := range rows {
		printJSON(row)
	}
}

func eventsCmd(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	limit := fs.Int("limit", 20, "result limit")
	name := fs.String("name", "", "event name filter")
	r := openIndex(fs, args)
	defer r.Close()

	rows, err := r.Events(context.Background(), indexdb.EventQuery{Limit: *limit, Name: *name})
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, row := range rows {
		printJSON(row)
	}
}

func catalogsCmd(args []string) {
	fs := flag.NewFlagSet("catalogs", flag.ExitOnError)
	r := openIndex(fs, args)
	defer r.Close()

	rows, err := r.Catalogs(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, row := range rows {
		printJSON(row)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
