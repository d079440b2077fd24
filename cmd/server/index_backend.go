package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"nightroad.app/internal/persistence/indexdb"
)

func indexPath(dataDir string) string {
	return filepath.Join(dataDir, "index", "actions.sqlite")
}

func openRuntimeIndex(dataDir string, disableDB bool, logger *log.Logger) (*indexdb.SQLiteIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("NIGHTROAD_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		path := indexPath(dataDir)
		idx, err := indexdb.OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		logger.Printf("index backend: sqlite %s run=%s", path, idx.RunID())
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported NIGHTROAD_INDEX_BACKEND: %s", backend)
	}
}

func writeIndexMetrics(w io.Writer, s indexdb.Stats) {
	fmt.Fprintf(w, "# HELP nightroad_index_queue_depth Current index writer queue depth.\n")
	fmt.Fprintf(w, "# TYPE nightroad_index_queue_depth gauge\n")
	fmt.Fprintf(w, "nightroad_index_queue_depth %d\n", s.QueueDepth)

	fmt.Fprintf(w, "# HELP nightroad_index_queue_capacity Index writer queue capacity.\n")
	fmt.Fprintf(w, "# TYPE nightroad_index_queue_capacity gauge\n")
	fmt.Fprintf(w, "nightroad_index_queue_capacity %d\n", s.QueueCapacity)

	fmt.Fprintf(w, "# HELP nightroad_index_written_total Actions written to the index.\n")
	fmt.Fprintf(w, "# TYPE nightroad_index_written_total counter\n")
	fmt.Fprintf(w, "nightroad_index_written_total %d\n", s.WrittenTotal)

	fmt.Fprintf(w, "# HELP nightroad_index_dropped_total Actions dropped because the queue was full.\n")
	fmt.Fprintf(w, "# TYPE nightroad_index_dropped_total counter\n")
	fmt.Fprintf(w, "nightroad_index_dropped_total %d\n", s.DropActionTotal)

	fmt.Fprintf(w, "# HELP nightroad_index_write_fail_total Failed index writes.\n")
	fmt.Fprintf(w, "# TYPE nightroad_index_write_fail_total counter\n")
	fmt.Fprintf(w, "nightroad_index_write_fail_total %d\n", s.WriteFailTotal)
}
