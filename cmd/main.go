package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"BadmintonFlash/internal/api"
	"BadmintonFlash/internal/auth"
	"BadmintonFlash/internal/cache"
	"BadmintonFlash/internal/config"
	"BadmintonFlash/internal/interfaces"
	"BadmintonFlash/internal/listener"
	"BadmintonFlash/internal/metrics"
	"BadmintonFlash/internal/mq"
	"BadmintonFlash/internal/obs"
	"BadmintonFlash/internal/ratelimit"
	"BadmintonFlash/internal/repository"
	"BadmintonFlash/internal/scheduler"
	"BadmintonFlash/internal/service"
	"BadmintonFlash/internal/utils/timeutil"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const version = "0.3.0"

func main() {
	configDir := flag.String("config", "config", "配置文件目录")
	flag.Parse()

	// 1. 加载配置文件
	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("加载配置文件失败: %v", err)
	}

	// 2. 初始化日志
	logger := newLogger(cfg.Log)
	logger.Info("配置文件加载成功")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatalf("服务异常退出: %v", err)
	}
	logger.Info("服务已退出")
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	// 3. 业务时区与链路追踪
	loc, err := timeutil.LoadLocation(cfg.App.Timezone)
	if err != nil {
		return err
	}
	clock := timeutil.NewClock(loc)

	shutdownTracer, err := obs.InitTracer(ctx, cfg.Tracing, version)
	if err != nil {
		return err
	}

	// 4. 初始化 PostgreSQL 连接（库不存在则先创建再连）并迁移表结构
	db, err := repository.Open(cfg.Database, logger)
	if err != nil {
		return err
	}
	if err := repository.Migrate(db); err != nil {
		return err
	}
	logger.Info("数据库表结构检查完成")

	metrics.Register(prometheus.DefaultRegisterer)

	// 5. 容量存储与限流器
	keys := cache.NewKeys(cfg.Redis.KeyPrefix)
	var (
		store   interfaces.CapacityStore
		limiter interfaces.RateLimiter
		rdb     *redis.Client
	)
	if cfg.Redis.Driver == "memory" {
		logger.Warn("使用进程内容量存储，仅限单实例开发")
		mem := cache.NewMemoryStore(keys)
		mem.StartJanitor(ctx, cfg.Redis.SweepEvery)
		store = mem
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("连接 Redis 失败: %w", err)
		}
		logger.Infof("Redis 连接成功: %s", cfg.Redis.Addr)
		store = cache.NewRedisStore(rdb, keys)
	}
	if cfg.Reserve.RateLimitBackend == "redis" && rdb != nil {
		limiter = ratelimit.NewRedisBucket(rdb, keys, cfg.Reserve.RateLimitCapacity, cfg.Reserve.RateLimitPeriod)
	} else {
		local := ratelimit.NewLocalStore(cfg.Reserve.RateLimitCapacity, cfg.Reserve.RateLimitPeriod)
		local.StartJanitor(ctx)
		limiter = local
	}
	lock := cache.NewJobLock(store, logger)

	// 6. 仓储与业务配置
	sessions := repository.NewSessionRepository(db)
	courts := repository.NewCourtRepository(db)
	slotRepo := repository.NewSlotRepository(db)
	reservations := repository.NewReservationRepository(db)
	payOrders := repository.NewPayOrderRepository(db)
	deadLetters := repository.NewDeadLetterRepository(db)

	settings := service.NewSettingService(repository.NewConfigRepository(db), logger)
	if err := settings.Seed(ctx, cfg.Defaults); err != nil {
		return err
	}

	// 7. 消息通道：拓扑、发布确认、两个消费者
	conn, err := mq.Dial(ctx, cfg.RabbitMQ.URL, logger)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := mq.DeclareTopology(conn, cfg.RabbitMQ); err != nil {
		return err
	}

	compensator := service.NewCompensator(store, logger)
	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ, logger,
		mq.WithNackHandler(compensator.OnBrokerNack),
		mq.WithReturnHandler(compensator.OnReturned),
	)
	if err != nil {
		return err
	}
	defer publisher.Close()

	reserveConsumer, err := mq.NewConsumer(conn, cfg.RabbitMQ.Queue, cfg.RabbitMQ.Prefetch)
	if err != nil {
		return err
	}
	defer reserveConsumer.Close()
	deadLetterConsumer, err := mq.NewConsumer(conn, cfg.RabbitMQ.DeadLetterQueue, cfg.RabbitMQ.Prefetch)
	if err != nil {
		return err
	}
	defer deadLetterConsumer.Close()

	// 8. 业务服务
	signer := auth.NewSigner(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, auth.WithRefreshTTL(cfg.Auth.RefreshTTL))
	slots := service.NewSlotService(slotRepo, courts, logger)
	warmup := service.NewWarmupService(service.WarmupDeps{
		Store:        store,
		Keys:         keys,
		Lock:         lock,
		Sessions:     sessions,
		SlotRepo:     slotRepo,
		Slots:        slots,
		Settings:     settings,
		Clock:        clock,
		SlotCapacity: cfg.Reserve.SlotCapacity,
		Logger:       logger,
	})
	reserve := service.NewReserveService(store, limiter, publisher, compensator, reservations, clock, cfg.Reserve.PendingTTL, logger)
	persist := service.NewPersistService(reservations, compensator, clock, logger)
	reaper := service.NewReaperService(reservations, reserve, settings, clock, cfg.Scheduler.ReaperBatch, logger)
	pay := service.NewPayService(reservations, payOrders, compensator, settings, lock, keys, clock, logger)
	browse := service.NewBrowseService(sessions, slotRepo, courts, reservations, store, clock)
	users := service.NewUserService(repository.NewUserRepository(db), signer, cfg.Auth.BcryptCost, logger)
	admin := service.NewAdminService(sessions, courts, settings, warmup, store, lock, keys, clock, logger)

	if err := admin.ReconcileCourts(ctx); err != nil {
		return err
	}
	if err := users.EnsureAdmin(ctx, cfg.Auth.AdminUser, cfg.Auth.AdminPassword); err != nil {
		return err
	}

	// 9. 定时任务：生成时段、预热、开闸、超时取消
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(cfg.Scheduler.Cron, loc, logger,
			scheduler.Job{Name: "generate", Run: warmup.GenerateDue, Timeout: 2 * time.Minute},
			scheduler.Job{Name: "warmup", Run: warmup.WarmupDue, Timeout: 2 * time.Minute},
			scheduler.Job{Name: "open-gate", Run: warmup.OpenDueGates, Timeout: 30 * time.Second},
			scheduler.Job{Name: "reaper", Run: func(ctx context.Context) error {
				n, err := reaper.Run(ctx)
				if n > 0 {
					logger.Infof("超时未支付预约已取消: %d", n)
				}
				return err
			}, Timeout: time.Minute},
		)
		if err != nil {
			return err
		}
		sched.RunNow(ctx)
		sched.Start()
		logger.Infof("定时任务已启动: %s", cfg.Scheduler.Cron)
	}

	// 10. 注册API路由
	gin.SetMode(cfg.Server.Mode)
	handlers := api.Handlers{
		Reserve: api.NewReserveHandler(reserve, logger),
		Pay:     api.NewPayHandler(pay, logger),
		Browse:  api.NewBrowseHandler(browse, logger),
		Admin:   api.NewAdminHandler(admin, warmup, logger),
		User:    api.NewUserHandler(users, logger),
		Metrics: promhttp.Handler(),
	}
	if cfg.Server.Mode == gin.DebugMode {
		handlers.Dev = api.NewDevHandler(signer, logger)
		logger.Warn("已开启测试令牌接口 /test/generate-token")
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(signer, cfg.Server.Pprof, handlers),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 11. 启动服务与消费者，收到信号后优雅退出
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("服务启动成功，端口：%d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("启动服务失败: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return listener.NewQueueSubscriber("reserve",
			reserveConsumer,
			listener.NewReserveListener(persist, listener.RetryPolicy{
				Attempts: cfg.RabbitMQ.RetryAttempts,
				Initial:  cfg.RabbitMQ.RetryInitial,
				Max:      cfg.RabbitMQ.RetryMax,
			}, logger),
			logger,
		).Run(gctx)
	})
	g.Go(func() error {
		return listener.NewQueueSubscriber("dead-letter",
			deadLetterConsumer,
			listener.NewDeadLetterListener(compensator, deadLetters, logger),
			logger,
		).Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("开始优雅退出…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if sched != nil {
			sched.Stop(shutdownCtx)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("关闭 HTTP 服务失败: %v", err)
		}
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Errorf("关闭链路追踪失败: %v", err)
		}
		return nil
	})

	err = g.Wait()
	if rdb != nil {
		_ = rdb.Close()
	}
	return err
}
