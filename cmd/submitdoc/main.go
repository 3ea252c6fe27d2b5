package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/veritas-ed/docproc/internal/common"
	"github.com/veritas-ed/docproc/internal/repository"
	"github.com/veritas-ed/docproc/internal/storage"
	"github.com/veritas-ed/docproc/internal/submit"
)

func main() {
	_ = godotenv.Load()

	var (
		filePath = flag.String("file", "", "path to the document to submit")
		opRef    = flag.String("op", "", "operation reference assigned by the external processor")
		name     = flag.String("name", "", "file name to record (defaults to the basename of -file)")
	)
	flag.Parse()

	if *filePath == "" || *opRef == "" {
		log.Println("usage: submitdoc -file <path> -op <operation reference> [-name <file name>]")
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	data, err := os.ReadFile(*filePath)
	if err != nil {
		log.Fatalf("reading %s: %v", *filePath, err)
	}
	fileName := *name
	if fileName == "" {
		fileName = filepath.Base(*filePath)
	}

	var jobs repository.JobRepository
	if strings.HasPrefix(cfg.Database.DSN, "postgres://") || strings.HasPrefix(cfg.Database.DSN, "postgresql://") {
		pool, err := repository.Open(ctx, cfg.Database, logger)
		if err != nil {
			log.Fatalf("opening DB: %v", err)
		}
		defer pool.Close()
		jobs = repository.NewJobRepository(pool, logger)
	} else {
		repo, db, err := repository.OpenSQLite(ctx, cfg.Database.DSN, logger)
		if err != nil {
			log.Fatalf("opening sqlite store: %v", err)
		}
		defer db.Close()
		jobs = repo
	}

	client, err := storage.NewMinIOClient(cfg.Storage.Endpoint, cfg.Storage.AccessKey, cfg.Storage.SecretKey, cfg.Storage.UseSSL)
	if err != nil {
		log.Fatalf("object store client: %v", err)
	}
	store := storage.NewMinIOStore(client, cfg.Storage.Bucket, logger)
	if err := store.EnsureBucket(ctx); err != nil {
		log.Fatalf("ensuring bucket: %v", err)
	}

	svc := submit.NewService(jobs, store, cfg.Storage.UploadPrefix, logger)
	job, err := svc.Submit(ctx, fileName, data, *opRef)
	if err != nil {
		log.Fatalf("submitting document: %v", err)
	}

	log.Printf("submitted job %s (external ref %s, %d bytes)", job.ID, job.ExternalJobID, len(data))
}
