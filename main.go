package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"pairchat/blob"
	"pairchat/config"
	"pairchat/db"
	"pairchat/logging"
	"pairchat/models"
	"pairchat/presence"
	"pairchat/server"
	"pairchat/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pairchat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logging.New("pairchat", cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var seed *models.Snapshot
	if cfg.Seed {
		seed = models.Seed()
	}
	gateway, closeGateway, err := openGateway(cfg, seed)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer closeGateway()

	blobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize media storage: %w", err)
	}

	hub := presence.NewHub(gateway, presence.Config{
		TypingTTL:      cfg.TypingTTL,
		SweepInterval:  cfg.SweepInterval,
		PersistTimeout: cfg.PersistTimeout,
		QueueSize:      cfg.QueueSize,
	}, log.With("component", "hub"))

	srv := server.New(hub, blobs, &server.ServerConfig{
		PublicDir:      cfg.PublicDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
		OutboxSize:     cfg.OutboxSize,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
	}, log.With("component", "server"))

	// The hub outlives the transports so that queued writes are flushed
	// after the last client is gone.
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hubDone := make(chan error, 1)
	go func() { hubDone <- hub.Run(hubCtx) }()

	reasons := make(chan string, 1)
	g, gctx := errgroup.WithContext(ctx)

	httpLn, err := net.Listen("tcp", cfg.HTTPAddr())
	if err != nil {
		return err
	}
	g.Go(func() error { return srv.ServeHTTP(gctx, httpLn) })

	if config.Enabled(cfg.LineAddr) {
		lineLn, err := net.Listen("tcp", cfg.LineAddr)
		if err != nil {
			return err
		}
		g.Go(func() error { return srv.ServeLine(gctx, lineLn) })
	}

	if config.Enabled(cfg.ControlSocket) {
		// Remove existing socket file
		os.Remove(cfg.ControlSocket)
		controlLn, err := net.Listen("unix", cfg.ControlSocket)
		if err != nil {
			log.Warn(ctx, "failed to create control socket", "path", cfg.ControlSocket, "err", err)
		} else {
			defer os.Remove(cfg.ControlSocket)
			g.Go(func() error {
				return srv.ServeControl(gctx, controlLn, func(reason string) {
					select {
					case reasons <- reason:
					default:
					}
					cancel()
				})
			})
		}
	}

	log.Info(ctx, "pairchat started", "http", cfg.HTTPAddr(), "store", cfg.Store, "blob", cfg.Blob)

	err = g.Wait()

	reason := "maintenance"
	select {
	case reason = <-reasons:
	default:
	}
	log.Info(ctx, "shutting down", "reason", reason)
	srv.Shutdown(reason)

	stopHub()
	if herr := <-hubDone; herr != nil {
		err = errors.Join(err, herr)
	}
	return err
}

func openGateway(cfg *config.Config, seed *models.Snapshot) (presence.Gateway, func(), error) {
	switch cfg.Store {
	case config.StoreSQLite:
		database, err := db.New(cfg.SQLitePath, seed)
		if err != nil {
			return nil, nil, err
		}
		return database, func() { database.Close() }, nil
	default:
		file, err := store.NewFile(cfg.DBFile, seed)
		if err != nil {
			return nil, nil, err
		}
		return file, func() {}, nil
	}
}

func openBlobStore(ctx context.Context, cfg *config.Config) (server.BlobStore, error) {
	switch cfg.Blob {
	case config.BlobS3:
		return blob.NewS3(ctx, blob.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	default:
		return blob.NewDisk(cfg.MediaDir)
	}
}
