package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"nightroad.app/internal/config"
	"nightroad.app/internal/hub"
	"nightroad.app/internal/persistence/indexdb"
	persistlog "nightroad.app/internal/persistence/log"
	"nightroad.app/internal/protocol"
	"nightroad.app/internal/sim/clock"
	"nightroad.app/internal/sim/game"
	"nightroad.app/internal/sim/state"
	"nightroad.app/internal/sim/templates"
	"nightroad.app/internal/sim/tuning"
	"nightroad.app/internal/transport/httpapi"
)

func main() {
	var (
		addr           = flag.String("addr", ":3001", "http listen address")
		configDir      = flag.String("configs", "./configs", "config directory")
		worldsDir      = flag.String("worlds", "", "world template directory (default: <configs>/worlds, embedded templates if missing)")
		dataDir        = flag.String("data", "./data", "runtime data directory")
		tuningPath     = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		seed           = flag.Int64("seed", 0, "reward rng seed (0: time based)")
		disableDB      = flag.Bool("disable_db", false, "disable the sqlite action index")
		disableJournal = flag.Bool("disable_journal", false, "disable the zstd action journal")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	envCfg, err := config.LoadEnv()
	if err != nil {
		logger.Fatalf("%v", err)
	}
	listen := envCfg.ListenAddr(*addr)
	if envCfg.DataDir != "" {
		*dataDir = envCfg.DataDir
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	validator, err := protocol.NewValidator()
	if err != nil {
		logger.Fatalf("schemas: %v", err)
	}
	wd := strings.TrimSpace(*worldsDir)
	if wd == "" {
		wd = filepath.Join(*configDir, "worlds")
	}
	worlds, err := templates.Load(wd, validator)
	if err != nil {
		logger.Fatalf("load world templates: %v", err)
	}
	logger.Printf("worlds=%v default=%s digest=%s", worlds.Order(), worlds.Default(), short(worlds.Digest(worlds.Default())))

	clk := clock.Real{}
	store, err := state.NewStore(worlds, worlds.Default(), clk)
	if err != nil {
		logger.Fatalf("state: %v", err)
	}

	rngSeed := *seed
	if rngSeed == 0 {
		rngSeed = time.Now().UnixNano()
	}

	streamBuf := tune.StreamBuffer
	if envCfg.StreamBuffer > 0 {
		streamBuf = envCfg.StreamBuffer
	}
	h := hub.New(streamBuf, logger)
	defer h.Close()

	eng, err := game.NewEngine(game.Config{
		Store:     store,
		Rules:     game.NewRules(tune, rand.New(rand.NewSource(rngSeed)), worlds),
		Validator: validator,
		Publisher: h,
		Clock:     clk,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatalf("engine: %v", err)
	}

	// Optional read-model index; the journal stays the source of truth.
	idx, err := openRuntimeIndex(*dataDir, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		docs := map[string]any{}
		for _, id := range worlds.Order() {
			if doc, err := worlds.Raw(id); err == nil {
				docs[id] = doc
			}
		}
		if err := idx.UpsertCatalogs(tune, docs); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
	}

	var sinks multiActionLogger
	if !*disableJournal {
		journal := persistlog.NewActionLogger(*dataDir)
		journal.Writer().SetOnClose(func(path string) { logger.Printf("journal closed: %s", filepath.Base(path)) })
		defer journal.Close()
		sinks.a = journal
	}
	if idx != nil {
		sinks.b = idx
	}
	eng.SetActionLogger(sinks)

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		if err := eng.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("engine stopped: %v", err)
		}
	}()

	api, err := httpapi.New(eng, worlds, h, validator, httpapi.Options{
		AllowedOrigins: envCfg.CORSOrigins,
		ActionRPS:      envCfg.ActionRPS,
		ActionBurst:    envCfg.ActionBurst,
		EnableAdmin:    envCfg.AdminEnabled(),
		Heartbeat:      envCfg.Heartbeat,
	}, logger)
	if err != nil {
		logger.Fatalf("http api: %v", err)
	}
	if idx != nil {
		reader, err := indexdb.OpenReader(indexPath(*dataDir))
		if err != nil {
			logger.Printf("index reader: %v", err)
		} else {
			defer reader.Close()
			api.SetActionIndex(reader)
		}
		api.AddMetrics(func(w io.Writer) { writeIndexMetrics(w, idx.Stats()) })
	}

	srv := &http.Server{
		Addr:              listen,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// Close streams first so Shutdown is not held up by open SSE responses.
		h.Close()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}

type multiActionLogger struct {
	a game.ActionLogger
	b game.ActionLogger
}

func (m multiActionLogger) WriteAction(entry game.ActionLogEntry) error {
	var errA error
	if m.a != nil {
		errA = m.a.WriteAction(entry)
	}
	if m.b != nil {
		_ = m.b.WriteAction(entry)
	}
	if errA != nil {
		return fmt.Errorf("journal: %w", errA)
	}
	return nil
}
