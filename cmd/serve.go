package main

import (
	"context"
	"errors"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/pelusa-v/pelusa-chat/internal/auth"
	"github.com/pelusa-v/pelusa-chat/internal/chat"
	"github.com/pelusa-v/pelusa-chat/internal/events"
	"github.com/pelusa-v/pelusa-chat/internal/handlers"
	"github.com/pelusa-v/pelusa-chat/internal/logger"
	"github.com/pelusa-v/pelusa-chat/internal/presence"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the websocket and REST server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, st, err := openStore(cmd)
		if err != nil {
			return err
		}
		log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
		if err != nil {
			_ = st.Close()
			return err
		}

		// 按顺序关闭：先停 HTTP，再关后端
		var closers []func(context.Context) error

		// presence: redis 优先，否则落库
		var presenceStore presence.Store = st
		if cfg.Redis.Addr != "" {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			if err := rdb.Ping(ctx).Err(); err != nil {
				log.Warn("redis unavailable, presence falls back to the database", zap.Error(err))
				_ = rdb.Close()
			} else {
				presenceStore = presence.NewRedisStore(rdb, cfg.Redis.Prefix)
				closers = append(closers, func(context.Context) error { return rdb.Close() })
				log.Info("presence backed by redis", zap.String("addr", cfg.Redis.Addr))
			}
		}

		var pub events.Publisher = events.Nop{}
		if len(cfg.Kafka.Brokers) > 0 {
			kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.KafkaTimeout)
			pub = kp
			closers = append(closers, func(context.Context) error { return kp.Close() })
			log.Info("publishing events to kafka",
				zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
		}

		hub := chat.NewHub(log)
		tracker := presence.NewTracker(presenceStore, log)
		mgr := chat.NewManager(hub, st, tracker, pub, log, cfg.WS.SendBuffer)
		rooms := chat.NewRooms(st, hub, pub, log)

		app := fiber.New(fiber.Config{DisableStartupMessage: true})
		app.Use(recover.New())
		handlers.New(mgr, rooms, tracker, log).
			Register(app, auth.NewValidator(cfg.Auth.JWTSecret, cfg.TokenTTL))

		closers = append([]func(context.Context) error{app.ShutdownWithContext}, closers...)
		closers = append(closers, func(context.Context) error { return st.Close() })

		go func() {
			log.Info("listening", zap.String("addr", cfg.Server.Addr))
			if err := app.Listen(cfg.Server.Addr); err != nil && !errors.Is(err, context.Canceled) {
				log.Fatal("server stopped", zap.Error(err))
			}
		}()

		wait := gfshutdown.GracefulShutdown(context.Background(), cfg.ShutdownTimeout,
			map[string]gfshutdown.Operation{
				"chat-server": func(ctx context.Context) error {
					log.Info("graceful shutdown initiated")
					var errs []error
					for _, closeFn := range closers {
						errs = append(errs, closeFn(ctx))
					}
					return errors.Join(errs...)
				},
			})
		code := <-wait
		log.Info("shutdown complete", zap.Int("exit_code", code))
		_ = log.Sync()
		os.Exit(code)
		return nil
	},
}
