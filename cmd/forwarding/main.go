package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/beiralink/forwarding/internal/config"
	"github.com/beiralink/forwarding/internal/httpserver"
	"github.com/beiralink/forwarding/internal/notify"
	"github.com/beiralink/forwarding/internal/service"
	"github.com/beiralink/forwarding/internal/storage"
	"github.com/beiralink/forwarding/internal/store"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := config.LoadFromEnv()
	if cfg.JWTSecret == "" {
		log.Fatalf("JWT_SECRET must be configured")
	}

	// Store: Postgres when configured, memory store for dev.
	var st store.Store
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to open postgres: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("failed to ping postgres: %v", err)
		}
		st = store.NewPGStore(db)
		log.Println("connected to postgres")
	} else {
		st = store.NewMemoryStore()
		log.Println("no postgres configured; using in-memory store (dev only)")
	}

	// Blob storage: S3 when a bucket is configured, filesystem otherwise.
	var blobs storage.Blob
	if cfg.S3Bucket != "" {
		s3b, err := storage.NewS3Blob(context.Background(), cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			log.Fatalf("failed to initialize s3 storage: %v", err)
		}
		blobs = s3b
		log.Printf("s3 document storage initialized (bucket=%s prefix=%s)", cfg.S3Bucket, cfg.S3Prefix)
	} else {
		blobs = storage.NewFSBlob(cfg.DocumentDir)
		log.Printf("filesystem document storage initialized (dir=%s)", cfg.DocumentDir)
	}

	// Notifier: Kafka when brokers+topic are configured, process log
	// otherwise so dev runs still show the event stream.
	var (
		notifier      notify.Notifier = notify.LogNotifier{}
		kafkaNotifier *notify.KafkaNotifier
	)
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic != "" {
		var err error
		kafkaNotifier, err = notify.NewKafkaNotifier(notify.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			log.Fatalf("failed to initialize kafka notifier: %v", err)
		}
		notifier = kafkaNotifier
		log.Printf("kafka notifier initialized (brokers=%v topic=%s)", cfg.KafkaBrokers, cfg.KafkaTopic)
	} else {
		log.Println("kafka not configured; workflow events go to the process log")
	}

	svc := service.New(st, blobs, notifier)
	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      httpserver.New(cfg, svc, st).Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting forwarding server on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}

	if kafkaNotifier != nil {
		_ = kafkaNotifier.Close()
	}
	if db != nil {
		_ = db.Close()
	}
	log.Println("server stopped")
}
