// Package data owns the process's connections to Postgres and Redis.
package data

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"
)

// Conn bundles the two external stores the DAQ pipeline talks to: Postgres
// for the SQL staging uploader (C5) and Redis for the run-status mirror the
// Session Controller publishes (C6).
type Conn struct {
	DB    *pgxpool.Pool
	Cache *redis.Client
}

type dbConnResult struct {
	conn *pgxpool.Pool
	err  error
}

type redisConnResult struct {
	client *redis.Client
	err    error
}

// Config carries the connection parameters read from sql.ini plus
// container/host networking hints; it is intentionally smaller than a
// general-purpose InitConn signature because the DAQ process owns no API
// keys.
type Config struct {
	InContainer   bool
	Host          string
	Port          string
	User          string
	Password      string
	Database      string
	RedisHost     string
	RedisPort     string
	RedisPassword string
}

// Connect dials Postgres and Redis, mirroring a channel-based connect race:
// each store is dialed on its own goroutine so a slow Postgres does not
// delay the Redis dial, and the caller gets back a single cleanup closure.
// Postgres is retried once a second until a 30 s deadline; Redis gets a
// single ping and is not retried.
func Connect(ctx context.Context, cfg Config, log *zap.Logger) (*Conn, func(), error) {
	host := firstNonEmpty(cfg.Host, getEnv("SQL_HOST", "localhost"))
	port := firstNonEmpty(cfg.Port, getEnv("SQL_PORT", "5432"))
	user := firstNonEmpty(cfg.User, getEnv("SQL_USER", "postgres"))
	password := firstNonEmpty(cfg.Password, getEnv("SQL_PASSWORD", ""))
	database := firstNonEmpty(cfg.Database, getEnv("SQL_DATABASE", "postgres"))

	redisHost := firstNonEmpty(cfg.RedisHost, getEnv("REDIS_HOST", "localhost"))
	redisPort := firstNonEmpty(cfg.RedisPort, getEnv("REDIS_PORT", "6379"))
	redisPassword := firstNonEmpty(cfg.RedisPassword, getEnv("REDIS_PASSWORD", ""))

	encodedPassword := url.QueryEscape(password)
	dbURL := fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, encodedPassword, host, port, database)
	cacheAddr := fmt.Sprintf("%s:%s", redisHost, redisPort)

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	dbResult := make(chan dbConnResult, 1)
	go func() {
		defer close(dbResult)
		var lastErr error
		for {
			select {
			case <-connectCtx.Done():
				dbResult <- dbConnResult{err: lastErr}
				return
			default:
				poolConfig, parseErr := pgxpool.ParseConfig(dbURL)
				if parseErr != nil {
					dbResult <- dbConnResult{err: parseErr}
					return
				}
				poolConfig.MaxConns = 10
				poolConfig.MinConns = 2
				poolConfig.MaxConnLifetime = 60 * time.Minute
				poolConfig.MaxConnIdleTime = 5 * time.Minute
				poolConfig.ConnConfig.ConnectTimeout = 5 * time.Second

				pool, err := pgxpool.ConnectConfig(connectCtx, poolConfig)
				if err != nil {
					lastErr = err
					time.Sleep(time.Second)
					continue
				}
				dbResult <- dbConnResult{conn: pool}
				return
			}
		}
	}()

	redisResult := make(chan redisConnResult, 1)
	go func() {
		defer close(redisResult)
		opts := &redis.Options{
			Addr:         cacheAddr,
			PoolSize:     10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		}
		if redisPassword != "" {
			opts.Password = redisPassword
		}
		client := redis.NewClient(opts)
		if err := client.Ping(connectCtx).Err(); err != nil {
			redisResult <- redisConnResult{err: err}
			return
		}
		redisResult <- redisConnResult{client: client}
	}()

	dbRes := <-dbResult
	if dbRes.err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", dbRes.err)
	}

	redisRes := <-redisResult
	if redisRes.err != nil {
		dbRes.conn.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", redisRes.err)
	}

	conn := &Conn{DB: dbRes.conn, Cache: redisRes.client}
	cleanup := func() {
		conn.DB.Close()
		if err := conn.Cache.Close(); err != nil {
			log.Warn("error closing redis connection", zap.Error(err))
		}
	}
	return conn, cleanup, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
