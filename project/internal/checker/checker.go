package checker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aarushishahhh/supplysync/project/internal/models"
	"github.com/aarushishahhh/supplysync/project/internal/notify"
	"github.com/aarushishahhh/supplysync/project/internal/storage"
	"github.com/aarushishahhh/supplysync/project/internal/supplier"
)

type Config struct {
	Interval       time.Duration
	MaxConcurrency int
	MaxAttempts    int
	IdempotencyTTL time.Duration
}

type Checker struct {
	store     *storage.Storage
	client    *supplier.Client
	publisher notify.Publisher
	config    Config

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

const DefaultInterval = 15 * time.Minute

func New(store *storage.Storage, client *supplier.Client, publisher notify.Publisher, config Config) *Checker {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 8
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.IdempotencyTTL <= 0 {
		config.IdempotencyTTL = 24 * time.Hour
	}
	return &Checker{
		store:     store,
		client:    client,
		publisher: publisher,
		config:    config,
	}
}

func (c *Checker) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx)
}

// Stop cancels the loop and waits for the running cycle to finish.
func (c *Checker) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Checker) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	// Run initial check immediately
	c.checkAllConnections(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkAllConnections(ctx)
		}
	}
}

func (c *Checker) checkAllConnections(ctx context.Context) {
	if err := c.store.CleanupOldIdempotencyKeys(time.Now().UTC().Add(-c.config.IdempotencyTTL)); err != nil {
		slog.Error("failed to clean up idempotency keys", "error", err)
	}

	connections, err := c.store.GetAllConnections()
	if err != nil {
		slog.Error("failed to get connections for checking", "error", err)
		return
	}

	if len(connections) == 0 {
		return
	}

	slog.Info("starting check cycle", "connection_count", len(connections))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.MaxConcurrency)

	for _, conn := range connections {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			c.checkConnection(ctx, conn, c.config.MaxAttempts)
			return nil
		})
	}

	g.Wait()
	slog.Info("check cycle completed")
}

// Validate probes one connection once and records the result.
func (c *Checker) Validate(ctx context.Context, conn models.Connection) models.ProbeRecord {
	return c.checkConnection(ctx, conn, 1)
}

func (c *Checker) checkConnection(ctx context.Context, conn models.Connection, attempts int) models.ProbeRecord {
	start := time.Now()
	result := c.performCheck(ctx, models.ProbeRequest{APIURL: conn.APIURL, AccessToken: conn.AccessToken}, attempts)
	result.CheckedAt = start.UTC()
	result.LatencyMs = int(time.Since(start).Milliseconds())

	// a cancelled check says nothing about the supplier
	if ctx.Err() != nil {
		slog.Debug("check cancelled", "connection_id", conn.ID, "shop", conn.Shop)
		return result
	}

	if err := c.store.SaveProbeResult(conn.ID, result); err != nil {
		slog.Error("failed to save probe result", "connection_id", conn.ID, "error", err)
	}

	slog.Debug("check completed", "connection_id", conn.ID, "shop", conn.Shop,
		"status", result.StatusCode, "latency_ms", result.LatencyMs, "error", result.Error)

	// warn once per outage
	wasHealthy := conn.LastProbe == nil || conn.LastProbe.Success
	if !result.Success && wasHealthy && result.Error != nil {
		notify.Emit(ctx, c.publisher, notify.Event{
			Type:         notify.TypeWarning,
			Kind:         notify.KindConnectionUnhealthy,
			Shop:         conn.Shop,
			ConnectionID: conn.ID,
			Message:      conn.Name + ": " + *result.Error,
		})
	}

	return result
}

func (c *Checker) performCheck(ctx context.Context, req models.ProbeRequest, maxAttempts int) models.ProbeRecord {
	var result models.ProbeRecord
	var lastErr *supplier.Error

	// Retry on 5xx or transport errors
	backoff := 200 * time.Millisecond

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				errorMsg := "check cancelled"
				result.Error = &errorMsg
				return result
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		status, err := c.client.Check(ctx, req)
		if err == nil {
			result.StatusCode = &status
			result.Success = true
			result.Error = nil
			return result
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			errorMsg := "check cancelled"
			result.StatusCode = nil
			result.Error = &errorMsg
			return result
		}

		if !errors.As(err, &lastErr) {
			lastErr = &supplier.Error{Kind: supplier.KindTransport, Message: err.Error()}
		}

		result.StatusCode = nil
		if lastErr.Kind == supplier.KindUpstream {
			result.StatusCode = &status
		}
		errorMsg := lastErr.Message
		result.Error = &errorMsg

		if !retryable(lastErr) {
			break
		}
	}

	return result
}

func retryable(err *supplier.Error) bool {
	switch err.Kind {
	case supplier.KindTransport:
		return true
	case supplier.KindUpstream:
		return err.Status >= 500
	}
	return false
}
