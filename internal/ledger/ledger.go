// Package ledger keeps the free-usage quota of each client in Redis hashes.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/promptsmith/internal/models"
)

const (
	timeFormat         = "2006-01-02 15:04:05"
	DefaultKeyTemplate = "quota:{client}"

	fieldUsed    = "used_count"
	fieldPaid    = "paid"
	fieldBonus   = "bonus_blocks"
	fieldUpdated = "updated_dttm_utc"

	maxTxRetries = 5
)

var ErrQuotaExhausted = errors.New("free quota exhausted")

type Options struct {
	KeyTemplate    string
	FreeLimit      int
	BonusBlockSize int
}

type Ledger struct {
	redis          *redis.Client
	keyTemplate    string
	freeLimit      int
	bonusBlockSize int
}

func New(client *redis.Client, opts Options) *Ledger {
	if opts.KeyTemplate == "" {
		opts.KeyTemplate = DefaultKeyTemplate
	}
	return &Ledger{
		redis:          client,
		keyTemplate:    opts.KeyTemplate,
		freeLimit:      max(opts.FreeLimit, 0),
		bonusBlockSize: max(opts.BonusBlockSize, 0),
	}
}

// Connect parses redisURL, checks the server is reachable and returns a Ledger on it.
func Connect(ctx context.Context, redisURL string, opts Options) (*Ledger, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return New(client, opts), nil
}

func (l *Ledger) Close() error {
	if l.redis != nil {
		return l.redis.Close()
	}
	return nil
}

func (l *Ledger) key(client string) string {
	return strings.NewReplacer("{client}", client).Replace(l.keyTemplate)
}

func (l *Ledger) Load(ctx context.Context, client string) (models.QuotaRecord, error) {
	values, err := l.redis.HGetAll(ctx, l.key(client)).Result()
	if err != nil && err != redis.Nil {
		return models.QuotaRecord{}, fmt.Errorf("failed to load quota for %s: %w", client, err)
	}
	return parseRecord(values), nil
}

func (l *Ledger) Status(ctx context.Context, client string) (models.QuotaStatus, error) {
	rec, err := l.Load(ctx, client)
	if err != nil {
		return models.QuotaStatus{}, err
	}
	return l.status(rec), nil
}

// Consume takes one free call from the client's quota. Paid clients are never
// charged. It returns ErrQuotaExhausted when nothing is left.
func (l *Ledger) Consume(ctx context.Context, client string) (models.QuotaStatus, error) {
	key := l.key(client)
	var st models.QuotaStatus

	txf := func(tx *redis.Tx) error {
		values, err := tx.HGetAll(ctx, key).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		rec := parseRecord(values)
		st = l.status(rec)
		if rec.Paid {
			return nil
		}
		if st.Remaining <= 0 {
			return ErrQuotaExhausted
		}

		rec.UsedCount++
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				fieldUsed, rec.UsedCount,
				fieldBonus, rec.BonusBlocks,
				fieldUpdated, time.Now().UTC().Format(timeFormat),
			)
			return nil
		})
		if err == nil {
			st = l.status(rec)
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := l.redis.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return st, nil
		case errors.Is(err, ErrQuotaExhausted):
			return st, err
		case errors.Is(err, redis.TxFailedErr):
			logger.Debug.Printf("Quota update for %s raced, retrying", client)
			continue
		default:
			return st, fmt.Errorf("failed to consume quota for %s: %w", client, err)
		}
	}
	return st, fmt.Errorf("failed to consume quota for %s: too much contention", client)
}

// MarkPaid unlocks unlimited use and resets the free counter.
func (l *Ledger) MarkPaid(ctx context.Context, client string) error {
	err := l.redis.HSet(ctx, l.key(client),
		fieldPaid, 1,
		fieldUsed, 0,
		fieldUpdated, time.Now().UTC().Format(timeFormat),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to mark %s as paid: %w", client, err)
	}
	return nil
}

func (l *Ledger) GrantBonus(ctx context.Context, client string, blocks int) (models.QuotaStatus, error) {
	if blocks <= 0 {
		return models.QuotaStatus{}, fmt.Errorf("bonus blocks must be positive, got %d", blocks)
	}

	key := l.key(client)
	pipe := l.redis.TxPipeline()
	pipe.HIncrBy(ctx, key, fieldBonus, int64(blocks))
	pipe.HSet(ctx, key, fieldUpdated, time.Now().UTC().Format(timeFormat))
	if _, err := pipe.Exec(ctx); err != nil {
		return models.QuotaStatus{}, fmt.Errorf("failed to grant bonus to %s: %w", client, err)
	}

	return l.Status(ctx, client)
}

func (l *Ledger) status(rec models.QuotaRecord) models.QuotaStatus {
	limit := l.freeLimit + rec.BonusBlocks*l.bonusBlockSize
	return models.QuotaStatus{
		Paid:      rec.Paid,
		Used:      rec.UsedCount,
		Limit:     limit,
		Remaining: max(limit-rec.UsedCount, 0),
		Unlimited: rec.Paid,
	}
}

// parseRecord reads a stored hash, clamping every counter to a non-negative
// integer. Missing or unparsable fields read as zero.
func parseRecord(values map[string]string) models.QuotaRecord {
	return models.QuotaRecord{
		UsedCount:   nonNegative(values[fieldUsed]),
		BonusBlocks: nonNegative(values[fieldBonus]),
		Paid:        parseFlag(values[fieldPaid]),
	}
}

func nonNegative(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func parseFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
