package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"taskify/api/internal/app"
	"taskify/api/internal/authpw"
	"taskify/api/internal/blob"
	"taskify/api/internal/config"
	"taskify/api/internal/email"
	"taskify/api/internal/session"
	"taskify/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if cfg.Environment == "development" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		log.SetLevel(logrus.DebugLevel)
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.WithError(err).Fatal("migrations failed")
	}

	dataStore := store.NewPostgresStore(db)
	passwords := authpw.NewService(dataStore)

	// Refresh tokens live in Redis when configured, Postgres otherwise.
	var sessions *session.RedisStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		sessions, err = session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("redis connection failed")
		}
		defer sessions.Close()
		log.Info("using Redis for refresh token storage")
	} else {
		log.Info("using PostgreSQL for refresh token storage")
	}

	var avatars *blob.Store
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		avatars, err = blob.NewStore(blob.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.WithError(err).Fatal("object storage setup failed")
		}
		if err := avatars.EnsureBucket(ctx); err != nil {
			log.WithError(err).Fatal("avatar bucket setup failed")
		}
		log.WithField("bucket", cfg.MinioBucket).Info("avatar storage enabled")
	}

	mail := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mail.IsConfigured() {
		log.Info("email delivery enabled")
	}

	var service *app.Service
	if sessions != nil {
		service = app.New(cfg, dataStore, sessions, passwords, mail, avatarStoreOrNil(avatars), log)
	} else {
		service = app.New(cfg, dataStore, nil, passwords, mail, avatarStoreOrNil(avatars), log)
	}
	if err := service.Bootstrap(ctx); err != nil {
		log.WithError(err).Warn("bootstrap error, will retry on next restart")
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, cfg.Environment, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Addr).Info("Taskify API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown error")
	}
}

// avatarStoreOrNil keeps a typed nil *blob.Store from masquerading as a
// non-nil interface inside the service.
func avatarStoreOrNil(store *blob.Store) app.AvatarStore {
	if store == nil {
		return nil
	}
	return store
}
