package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"

	"github.com/samarth3282/trello-api/internal/app"
	"github.com/samarth3282/trello-api/internal/authpw"
	"github.com/samarth3282/trello-api/internal/blob"
	"github.com/samarth3282/trello-api/internal/cache"
	"github.com/samarth3282/trello-api/internal/config"
	"github.com/samarth3282/trello-api/internal/email"
	"github.com/samarth3282/trello-api/internal/metrics"
	"github.com/samarth3282/trello-api/internal/notify"
	"github.com/samarth3282/trello-api/internal/realtime"
	"github.com/samarth3282/trello-api/internal/search"
	"github.com/samarth3282/trello-api/internal/session"
	"github.com/samarth3282/trello-api/internal/store"
)

func main() {
	klog.InitFlags(nil)
	cfg := config.Load()
	if cfg.LogVerbosity > 0 {
		_ = flag.Set("v", strconv.Itoa(cfg.LogVerbosity))
	}
	flag.Parse()
	defer klog.Flush()

	log := klog.NewKlogr()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dataStore, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		klog.Fatalf("database connection failed: %v", err)
	}
	defer dataStore.DB().Close()

	reg := metrics.New()
	opts := app.Options{
		Metrics:      reg,
		Log:          log.WithName("pipeline"),
		HookMode:     app.HookMode(cfg.HookMode),
		CacheTTL:     cfg.CacheTTL,
		InviteSecret: []byte(cfg.JWTInviteSecret),
		InviteTTL:    cfg.InviteTTL,
		AppURL:       cfg.AppURL,
	}

	var senders []notify.Sender
	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		AppURL:   cfg.AppURL,
	})
	if mailer.IsConfigured() {
		senders = append(senders, mailer)
	} else {
		klog.Info("SMTP not configured, email notifications disabled")
	}
	if strings.TrimSpace(cfg.NotifyWebhookURL) != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.NotifyWebhookURL))
	}

	var sessions authpw.SessionStore = dataStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			klog.Fatalf("invalid REDIS_URL: %v", err)
		}
		client := redis.NewClient(redisOpts)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			klog.Fatalf("redis connection failed: %v", err)
		}
		klog.Info("using Redis for cache, refresh sessions and the notification queue")

		opts.Cache = cache.NewRedis(client, log)
		sessions = session.NewRedisStore(client)
		queue := notify.NewRedisQueue(client, "notifications")
		opts.Dispatcher = queue
		go notify.NewWorker(queue, log, senders...).Run(ctx)
	} else {
		klog.Info("REDIS_URL not set, caching disabled and notifications delivered inline")
		opts.Dispatcher = notify.NewInline(log, senders...)
	}

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meili.Close()
		opts.Search = search.NewService(meili, search.NewSQLSearch(dataStore), log)
	}

	if strings.TrimSpace(cfg.MinIOEndpoint) != "" {
		objects, err := blob.NewMinIO(ctx, blob.Config{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
			PublicURL: cfg.MinIOPublicURL,
		})
		if err != nil {
			klog.Fatalf("object storage setup failed: %v", err)
		}
		opts.Blob = objects
	}

	hub := realtime.NewHub().WithMetrics(reg.Connected, reg.Dropped)
	opts.Broadcaster = hub
	service := app.New(dataStore, opts)

	if meili != nil {
		meili.OnRecover(func() {
			if err := service.ReindexSearch(ctx); err != nil {
				klog.Errorf("search reindex after recovery failed: %v", err)
			}
		})
		go func() {
			// Give the health loop a moment to see the engine before reindexing.
			time.Sleep(2 * time.Second)
			if err := service.ReindexSearch(ctx); err != nil {
				klog.Errorf("search reindex failed: %v", err)
			}
		}()
	}

	if strings.TrimSpace(cfg.DigestSchedule) != "" {
		digest := notify.NewDigestScheduler(dataStore, opts.Dispatcher, log)
		if err := digest.Start(cfg.DigestSchedule); err != nil {
			klog.Fatalf("invalid DIGEST_SCHEDULE: %v", err)
		}
		defer digest.Stop()
	}

	authService := authpw.NewService(dataStore, sessions, authpw.Config{
		AccessSecret:  []byte(cfg.JWTAccessSecret),
		RefreshSecret: []byte(cfg.JWTRefreshSecret),
		AccessTTL:     cfg.AccessTTL,
		RefreshTTL:    cfg.RefreshTTL,
	})

	httpServer := app.NewHTTPServer(service, authService, hub, cfg.CORSOrigin, log.WithName("http"))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		klog.Infof("API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			klog.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	klog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		klog.Errorf("shutdown error: %v", err)
	}
	service.Wait()
}
