package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-collector/app/controller"
	"github.com/vibast-solutions/ms-go-collector/app/dispatcher"
	"github.com/vibast-solutions/ms-go-collector/app/lock"
	"github.com/vibast-solutions/ms-go-collector/app/logger"
	"github.com/vibast-solutions/ms-go-collector/app/processor"
	"github.com/vibast-solutions/ms-go-collector/app/queue"
	"github.com/vibast-solutions/ms-go-collector/app/repository"
	"github.com/vibast-solutions/ms-go-collector/app/service"
	"github.com/vibast-solutions/ms-go-collector/app/spool"
	"github.com/vibast-solutions/ms-go-collector/app/storage"
	"github.com/vibast-solutions/ms-go-collector/config"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const redisLockPrefix = "collector:lock:"

// pipeline holds the shared collaborators of every command.
type pipeline struct {
	cfg    *config.Config
	logger *logrus.Logger

	db   *sql.DB
	rdb  *redis.Client
	etcd *clientv3.Client

	scanner      *spool.Scanner
	dispatcher   *dispatcher.Dispatcher
	flags        *processor.RedisFlagStore
	spoolService *service.SpoolService
}

// loadConfig loads the configuration and the process logger.
func loadConfig() (*config.Config, *logrus.Logger) {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	return cfg, logger.New(cfg.LogLevel, cfg.LogFormat)
}

// buildPipeline opens the backends and binds the configured processors.
// Processors that fail to bind are logged and skipped.
func buildPipeline(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*pipeline, error) {
	p := &pipeline{cfg: cfg, logger: log}

	if cfg.NeedsMySQL() {
		db, err := openMySQL(ctx, cfg)
		if err != nil {
			return nil, err
		}
		p.db = db
	}

	p.rdb = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	if cfg.LockBackend == "etcd" {
		etcdClient, err := clientv3.New(clientv3.Config{
			Endpoints:   cfg.EtcdEndpoints,
			DialTimeout: cfg.EtcdDialTimeout,
		})
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("connect to etcd: %w", err)
		}
		p.etcd = etcdClient
	}

	backend, err := buildLockBackend(cfg, p.db, p.rdb, p.etcd)
	if err != nil {
		p.Close()
		return nil, err
	}

	storageClient, err := buildStorageClient(ctx, cfg)
	if err != nil {
		p.Close()
		return nil, err
	}

	p.scanner = spool.NewScanner(cfg.SpoolDir)
	set, _ := processor.DefaultRegistry().Build(cfg.SpoolProcessors, processor.Dependencies{
		Storage:      storageClient,
		Pending:      p.scanner,
		FlushEnabled: cfg.SpoolFlushEnabled,
		Logger:       log,
	})
	if set.Len() == 0 {
		log.WithField("processors", cfg.SpoolProcessors).Warn("no spool processors bound, spool files will accumulate")
	}
	p.dispatcher = dispatcher.New(set, cfg.SpoolDispatchConcurrency, log)

	var history *repository.FlushHistoryRepository
	if cfg.HistoryEnabled {
		history = repository.NewFlushHistoryRepository(p.db)
	}
	flushLock := lock.NewNamedLock(backend, service.FlushLockName, lock.Options{
		AttemptTimeout: cfg.LockAttemptTimeout,
		Logger:         log,
	})

	var opts []service.SpoolOption
	if cfg.SpoolSharedFlags {
		p.flags = processor.NewRedisFlagStore(p.rdb, processor.FlagsKey)
		opts = append(opts, service.WithFlagSource(p.flags))
	}
	if cfg.SpoolNotifyDelivered {
		opts = append(opts, service.WithNotifier(queue.NewDeliveredProducer(p.rdb, queue.DeliveredStream)))
	}
	p.spoolService = service.NewSpoolService(p.scanner, p.dispatcher, flushLock, history, cfg.SpoolRemoteRoot, cfg.SpoolFlushWait, log, opts...)

	return p, nil
}

// flagWriter returns the shared flag store, or nil when toggles stay local.
func (p *pipeline) flagWriter() controller.FlagWriter {
	if p.flags == nil {
		return nil
	}
	return p.flags
}

// Close releases processors and backend clients.
func (p *pipeline) Close() {
	if p.dispatcher != nil {
		if err := p.dispatcher.Close(); err != nil {
			p.logger.WithError(err).Error("failed to close processors")
		}
	}
	if p.etcd != nil {
		_ = p.etcd.Close()
	}
	if p.rdb != nil {
		_ = p.rdb.Close()
	}
	if p.db != nil {
		_ = p.db.Close()
	}
}

func openMySQL(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MySQLMaxOpen)
	db.SetMaxIdleConns(cfg.MySQLMaxIdle)
	db.SetConnMaxLifetime(cfg.MySQLMaxLife)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func buildLockBackend(cfg *config.Config, db *sql.DB, rdb *redis.Client, etcdClient *clientv3.Client) (lock.Backend, error) {
	switch strings.ToLower(cfg.LockBackend) {
	case "", "mysql":
		if db == nil {
			return nil, errors.New("mysql lock backend requires MYSQL_DSN")
		}
		return lock.NewMySQLBackend(db), nil
	case "redis":
		return lock.NewRedisBackend(rdb, redisLockPrefix, cfg.LockTTL), nil
	case "etcd":
		if etcdClient == nil {
			return nil, errors.New("etcd lock backend requires ETCD_ENDPOINTS")
		}
		return lock.NewEtcdBackend(etcdClient, lock.DefaultEtcdPrefix, cfg.LockTTL), nil
	case "file":
		return lock.NewFileBackend(cfg.LockDir), nil
	default:
		return nil, fmt.Errorf("unsupported LOCK_BACKEND: %s", cfg.LockBackend)
	}
}

func buildStorageClient(ctx context.Context, cfg *config.Config) (storage.Client, error) {
	switch strings.ToLower(cfg.StorageBackend) {
	case "", "local":
		return storage.NewLocalClient(cfg.StorageLocalRoot), nil
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, err
		}
		var optFns []func(*s3.Options)
		if cfg.S3Endpoint != "" {
			optFns = append(optFns, func(o *s3.Options) {
				o.BaseEndpoint = aws.String(cfg.S3Endpoint)
				o.UsePathStyle = true
			})
		}
		return storage.NewS3Client(awsCfg, cfg.S3Bucket, optFns...), nil
	default:
		return nil, fmt.Errorf("unsupported STORAGE_BACKEND: %s", cfg.StorageBackend)
	}
}
