package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"github.com/matthewbaird/cascade/internal/activity"
	"github.com/matthewbaird/cascade/internal/config"
	"github.com/matthewbaird/cascade/internal/event"
	"github.com/matthewbaird/cascade/internal/eventbus"
	"github.com/matthewbaird/cascade/internal/server"
	"github.com/matthewbaird/cascade/internal/session"
	"github.com/matthewbaird/cascade/internal/source"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("cascade: .env file not loaded: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(envOr("CASCADE_CONFIG", "cascade.yaml"))
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	dsn := envOr("DATABASE_URL", "file:cascade.db")
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	store := activity.NewSQLiteStore(db)
	if err := store.CreateTable(ctx); err != nil {
		log.Fatalf("creating activity table: %v", err)
	}

	src, err := source.Open(source.Options{
		Kind:      os.Getenv("CASCADE_SOURCE"),
		Path:      envOr("CASCADE_SOURCE_PATH", "records.csv"),
		DB:        db,
		Table:     os.Getenv("CASCADE_TABLE"),
		URL:       os.Getenv("CASCADE_SOURCE_URL"),
		TokenFile: os.Getenv("CASCADE_TOKEN_FILE"),
	}, cfg.SourceQuery())
	if err != nil {
		log.Fatalf("opening source: %v", err)
	}

	bus := eventbus.New(256)
	outputs := eventbus.NewOutputConsumer()
	bus.Subscribe("log", eventbus.NewLogConsumer())
	bus.Subscribe("outputs", outputs)
	bus.Start(ctx)

	rec := event.NewActivityRecorder(store)
	rec.SetPublisher(bus)

	// 30 min idle, 24 hr max
	sessions := session.NewManager(cfg.Settings(), src, rec, 24*time.Hour, 30*time.Minute)
	go sessions.RunCleanup(ctx, time.Minute)

	err = server.Run(ctx, server.Config{
		Port:         envInt("PORT", 8080),
		Control:      cfg,
		Sessions:     sessions,
		Activity:     store,
		Outputs:      outputs,
		MessageRate:  envFloat("MESSAGE_RATE_LIMIT", 20),
		MessageBurst: envInt("MESSAGE_RATE_BURST", 40),
	})
	stop()
	bus.Stop()
	if err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("cascade: ignoring invalid %s=%q", key, v)
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Printf("cascade: ignoring invalid %s=%q", key, v)
	}
	return def
}
