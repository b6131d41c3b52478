package data

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"
)

// IsTransientError reports whether err looks like a transient network or
// connection problem rather than a permanent schema/data error.
// ExecWithRetry uses it to decide whether a failed statement is retried.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	if pgErr, ok := err.(*pgconn.PgError); ok {
		sqlState := pgErr.Code
		return strings.HasPrefix(sqlState, "08") ||
			sqlState == "57P01" ||
			sqlState == "57P02" ||
			sqlState == "57P03"
	}

	errStr := strings.ToLower(err.Error())
	connectionKeywords := []string{
		"connection refused",
		"connection reset",
		"connection closed",
		"unexpected eof",
		"broken pipe",
		"no such host",
		"network is unreachable",
		"timeout",
		"connection lost",
		"server closed the connection",
	}
	for _, keyword := range connectionKeywords {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}
	return false
}

// ExecWithRetry executes a statement with exponential backoff, retrying up
// to five attempts while the error is transient. The SQL Staging Uploader
// does not call it: its CREATE TABLE runs inside the upload transaction.
func ExecWithRetry(ctx context.Context, db *pgxpool.Pool, log *zap.Logger, query string, args ...interface{}) (pgconn.CommandTag, error) {
	const maxAttempts = 5
	backoff := 250 * time.Millisecond

	var tag pgconn.CommandTag
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		tag, err = db.Exec(ctx, query, args...)
		if err == nil {
			return tag, nil
		}
		if ctx.Err() != nil {
			return tag, ctx.Err()
		}
		if !IsTransientError(err) {
			return tag, err
		}
		if attempt == maxAttempts {
			break
		}
		log.Warn("transient sql error, retrying", zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(backoff)
		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
	return tag, err
}
