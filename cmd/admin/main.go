package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	persistlog "nightroad.app/internal/persistence/log"
	"nightroad.app/internal/sim/game"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "actions":
			actionsCmd(os.Args[2:])
			return
		case "events":
			eventsCmd(os.Args[2:])
			return
		case "catalogs":
			catalogsCmd(os.Args[2:])
			return
		case "journal":
			journalCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the journal files under the data directory.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	files, err := persistlog.ListJournal(persistlog.JournalDir(*dataDir))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, f := range files {
		fmt.Println(filepath.Base(f))
	}
}

func journalCmd(args []string) {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	file := fs.String("file", "", "single journal file (default: every file under -dir)")
	dir := fs.String("dir", "", "journal directory (default: <data>/actions)")
	action := fs.String("action", "", "only entries for this action")
	failed := fs.Bool("failed", false, "only hard errors")
	_ = fs.Parse(args)

	var files []string
	if f := strings.TrimSpace(*file); f != "" {
		files = []string{f}
	} else {
		d := strings.TrimSpace(*dir)
		if d == "" {
			d = persistlog.JournalDir(*dataDir)
		}
		var err error
		files, err = persistlog.ListJournal(d)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
	}

	f := journalFilter{action: *action, failed: *failed}
	for _, path := range files {
		err := persistlog.ReadJournal(path, func(e game.ActionLogEntry) error {
			if f.match(e) {
				printJSON(e)
			}
			return nil
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "journal:", err)
			os.Exit(1)
		}
	}
}

type journalFilter struct {
	action string
	failed bool
}

func (f journalFilter) match(e game.ActionLogEntry) bool {
	if f.action != "" && e.Action != f.action {
		return false
	}
	if f.failed && e.Code == "" {
		return false
	}
	return true
}
