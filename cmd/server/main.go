package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"taskhub/internal/config"
	apphttp "taskhub/internal/http"
	"taskhub/internal/notify"
	"taskhub/internal/realtime"
	"taskhub/internal/repository/sqlite"
	"taskhub/internal/service"
	"taskhub/internal/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warnf("unknown log level %q, using info", cfg.Log.Level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	roleRepo := sqlite.NewRoleRepository(db)
	userRepo := sqlite.NewUserRepository(db)
	taskRepo := sqlite.NewTaskRepository(db)

	if err := roleRepo.Init(ctx); err != nil {
		logger.Fatalf("init role repository: %v", err)
	}
	if err := userRepo.Init(ctx); err != nil {
		logger.Fatalf("init user repository: %v", err)
	}
	if err := taskRepo.Init(ctx); err != nil {
		logger.Fatalf("init task repository: %v", err)
	}

	relay, err := buildRelay(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup relay: %v", err)
	}
	bus := notify.NewBus(notify.Config{
		QueueSize:      cfg.Realtime.QueueSize,
		DeliverTimeout: cfg.Realtime.SendTimeout,
		Relay:          relay,
		Logger:         logger,
	})
	if err := bus.Start(ctx); err != nil {
		logger.Fatalf("start notification bus: %v", err)
	}

	taskService := service.NewTaskService(taskRepo, userRepo, bus, logger)
	userService := service.NewUserService(userRepo, roleRepo, taskRepo, bus, logger)
	roleService := service.NewRoleService(roleRepo, userRepo, logger)
	authService, err := service.NewAuthService(userService, service.AuthConfig{
		Secret:     cfg.Auth.JWTSecret,
		Issuer:     cfg.Auth.Issuer,
		AccessTTL:  cfg.Auth.AccessTTL,
		RefreshTTL: cfg.Auth.RefreshTTL,
	})
	if err != nil {
		logger.Fatalf("setup auth: %v", err)
	}

	if err := roleService.EnsureDefaults(ctx); err != nil {
		logger.Fatalf("seed roles: %v", err)
	}
	if cfg.Auth.AdminUsername != "" {
		admin, created, err := userService.EnsureAdmin(ctx, cfg.Auth.AdminUsername, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword)
		if err != nil {
			logger.Fatalf("seed admin: %v", err)
		}
		if created {
			logger.Infof("created admin user %s", admin.Username)
		}
	}

	storageSvc, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup storage: %v", err)
	}
	exportService := service.NewExportService(taskService, storageSvc, cfg.Storage.Bucket, cfg.Storage.KeyPrefix, logger)

	registry := realtime.NewRegistry(bus, taskService, realtime.Config{
		SendTimeout:  cfg.Realtime.SendTimeout,
		PingInterval: cfg.Realtime.PingInterval,
		PongWait:     cfg.Realtime.PongWait,
		Users:        userService,
		Logger:       logger,
	})

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(apphttp.Services{
		Tasks:   taskService,
		Users:   userService,
		Roles:   roleService,
		Auth:    authService,
		Exports: exportService,
	}, registry, logger)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// hijacked websocket connections are not tracked by srv.Shutdown
	registry.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	bus.Close()

	logger.Info("bye")
}

func buildRelay(ctx context.Context, cfg config.Config, logger *logrus.Logger) (notify.Relay, error) {
	if cfg.Relay.RedisURL == "" {
		logger.Info("no redis relay configured, events stay in-process")
		return nil, nil
	}
	client, err := notify.NewRedisClient(ctx, cfg.Relay.RedisURL, cfg.Relay.Password, cfg.Relay.DB)
	if err != nil {
		return nil, err
	}
	logger.Infof("relaying task events through redis channel %s", cfg.Relay.Channel)
	return notify.NewRedisRelay(client, cfg.Relay.Channel, logger), nil
}

func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	if cfg.Storage.Bucket == "" {
		logger.Info("no storage bucket configured, task exports disabled")
		return nil, nil
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client), nil
}
