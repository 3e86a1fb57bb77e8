// The janitor is the engine's scheduler process: it expires disposable
// documents, compacts snapshots and applies the auto-publish rule on an
// interval. It shares no state with the API server; everything goes
// through the backing store.
package main

import (
	"context"
	"os"
	"time"

	"github.com/quillvault/quillvault/internal/config"
	"github.com/quillvault/quillvault/internal/database"
	"github.com/quillvault/quillvault/internal/document/repository"
	"github.com/quillvault/quillvault/internal/document/service"
	"github.com/quillvault/quillvault/internal/storage"
	"github.com/quillvault/quillvault/internal/users"
	"github.com/quillvault/quillvault/pkg/logger"
)

func main() {
	logger.Init(os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	if cfg.MongoDB.URI == "" {
		logger.Fatalf("MONGODB_URI is required for the janitor")
	}

	ctx := context.Background()
	client, err := database.ConnectMongo(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout)
	if err != nil {
		logger.Fatalf("cannot connect to MongoDB: %v", err)
	}
	defer func() { _ = client.Disconnect(ctx) }()

	db := client.Database(cfg.MongoDB.Database)
	svc := service.New(
		repository.NewMongoDocumentRepo(db.Collection("documents")),
		repository.NewMongoEventRepo(db.Collection("events")),
		repository.NewMongoSnapshotRepo(db.Collection("snapshots")),
	)
	if cfg.MongoDB.UseTransactions {
		svc.SetTxn(database.NewMongoTxn(client))
	}
	if cfg.MinIO.Endpoint != "" {
		archive, err := storage.NewSnapshotArchive(&cfg.MinIO)
		if err != nil {
			logger.Warnf("snapshot archive unavailable: %v", err)
		} else {
			svc.SetArchive(archive)
		}
	}
	userSvc := users.NewService(users.NewMongoUserRepository(db.Collection("users")))

	logger.Infof("janitor running: expire every %v, compact every %v", cfg.Versioning.ExpireInterval, cfg.Versioning.CompactInterval)

	expireTick := time.NewTicker(cfg.Versioning.ExpireInterval)
	compactTick := time.NewTicker(cfg.Versioning.CompactInterval)
	defer expireTick.Stop()
	defer compactTick.Stop()

	for {
		select {
		case <-expireTick.C:
			now := time.Now().UTC()
			n, err := svc.ExpireDisposables(ctx, now)
			if err != nil {
				logger.Errorf("expire sweep failed: %v", err)
			} else if n > 0 {
				logger.Infof("expired %d disposable documents", n)
			}
			autoPublish(ctx, svc, userSvc, now)
		case <-compactTick.C:
			compactAll(ctx, svc, cfg.Versioning.SnapshotRetain)
		}
	}
}

func compactAll(ctx context.Context, svc *service.Service, retain int) {
	docs, err := svc.ListDocuments(ctx)
	if err != nil {
		logger.Errorf("compact sweep: list failed: %v", err)
		return
	}
	total := 0
	for _, d := range docs {
		n, err := svc.Compact(ctx, d.ID, retain)
		if err != nil {
			logger.Warnf("compact of %s failed: %v", d.ID, err)
			continue
		}
		total += n
	}
	if total > 0 {
		logger.Infof("compaction pruned %d snapshots", total)
	}
}

func autoPublish(ctx context.Context, svc *service.Service, userSvc *users.Service, now time.Time) {
	list, err := userSvc.ListWithBirthDate(ctx)
	if err != nil {
		logger.Errorf("auto-publish sweep: list failed: %v", err)
		return
	}
	for _, u := range list {
		if u.BirthDate == nil || !service.EvaluateAutoPublish(*u.BirthDate, now) {
			continue
		}
		n, err := svc.PublishFor(ctx, u.Sub, now)
		if err != nil {
			logger.Warnf("auto-publish for %s failed: %v", u.Sub, err)
			continue
		}
		if n > 0 {
			logger.Infof("auto-published %d documents for %s", n, u.Sub)
		}
	}
}
