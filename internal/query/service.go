package query

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"fulfillment-service/internal/domain"

	"go.uber.org/zap"
)

// OrderReads is the read-only order surface the query service projects.
type OrderReads interface {
	ListByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error)
	ListNeedingAttention(ctx context.Context, olderThan time.Duration) ([]domain.Order, error)
	AllHistory(ctx context.Context) ([]domain.StatusHistoryEntry, error)
}

// StockReads is the read-only stock surface the query service projects.
type StockReads interface {
	ListLowStock(ctx context.Context) ([]domain.StockRecord, error)
	ListOutOfStock(ctx context.Context) ([]domain.StockRecord, error)
}

// StatusStats aggregates how long orders dwell in one status, derived from
// consecutive history entries.
type StatusStats struct {
	Status     domain.OrderStatus `json:"status"`
	Samples    int                `json:"samples"`
	AvgSeconds float64            `json:"avg_seconds"`
	MinSeconds float64            `json:"min_seconds"`
	MaxSeconds float64            `json:"max_seconds"`
}

// Service serves the reporting projections over the core's data. Everything
// here is read-only and side-effect free; snapshots go through a short-TTL
// cache because the operational dashboards poll them.
type Service struct {
	orders             OrderReads
	stock              StockReads
	cache              Cache
	cacheTTL           time.Duration
	attentionThreshold time.Duration
	logger             *zap.Logger
}

func NewService(orders OrderReads, stock StockReads, cache Cache, cacheTTL, attentionThreshold time.Duration, logger *zap.Logger) *Service {
	return &Service{
		orders:             orders,
		stock:              stock,
		cache:              cache,
		cacheTTL:           cacheTTL,
		attentionThreshold: attentionThreshold,
		logger:             logger,
	}
}

// OrdersByStatus lists orders currently in the given status.
func (s *Service) OrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	if !domain.ValidStatus(status) {
		return nil, fmt.Errorf("unknown order status %q", status)
	}
	return s.orders.ListByStatus(ctx, status)
}

// OrdersNeedingAttention lists orders stuck in CONFIRMED, PREPARING or
// SHIPPING for longer than the configured operational threshold.
func (s *Service) OrdersNeedingAttention(ctx context.Context) ([]domain.Order, error) {
	return s.orders.ListNeedingAttention(ctx, s.attentionThreshold)
}

// LowStock returns the cached low-stock snapshot.
func (s *Service) LowStock(ctx context.Context) ([]domain.StockRecord, error) {
	var records []domain.StockRecord
	err := s.cached(ctx, "stock:low", &records, func() (interface{}, error) {
		return s.stock.ListLowStock(ctx)
	})
	return records, err
}

// OutOfStock returns the cached out-of-stock snapshot.
func (s *Service) OutOfStock(ctx context.Context) ([]domain.StockRecord, error) {
	var records []domain.StockRecord
	err := s.cached(ctx, "stock:out", &records, func() (interface{}, error) {
		return s.stock.ListOutOfStock(ctx)
	})
	return records, err
}

// ProcessingStats derives per-status dwell statistics from the order status
// history: each sample is the time between an entry and the next transition
// of the same order.
func (s *Service) ProcessingStats(ctx context.Context) ([]StatusStats, error) {
	var stats []StatusStats
	err := s.cached(ctx, "orders:stats", &stats, func() (interface{}, error) {
		history, err := s.orders.AllHistory(ctx)
		if err != nil {
			return nil, err
		}
		return computeStats(history), nil
	})
	return stats, err
}

// cached runs loader through the cache-aside pattern. Cache failures fall
// through to the loader; stale reads are bounded by the TTL.
func (s *Service) cached(ctx context.Context, key string, out interface{}, loader func() (interface{}, error)) error {
	if data, err := s.cache.Get(ctx, key); err == nil {
		if err := json.Unmarshal(data, out); err == nil {
			return nil
		}
		s.logger.Warn("failed to decode cached value, reloading", zap.String("key", key))
	}

	value, err := loader()
	if err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
		s.logger.Warn("failed to cache value", zap.String("key", key), zap.Error(err))
	}

	return json.Unmarshal(data, out)
}

// computeStats folds history entries (ordered by order, then time) into
// per-status aggregates.
func computeStats(history []domain.StatusHistoryEntry) []StatusStats {
	type agg struct {
		samples int
		total   float64
		min     float64
		max     float64
	}
	byStatus := make(map[domain.OrderStatus]*agg)

	for i := 0; i < len(history)-1; i++ {
		cur, next := history[i], history[i+1]
		if cur.OrderID != next.OrderID {
			continue
		}
		dwell := next.ChangedAt.Sub(cur.ChangedAt).Seconds()
		if dwell < 0 {
			continue
		}
		a, ok := byStatus[cur.StatusAfter]
		if !ok {
			a = &agg{min: dwell, max: dwell}
			byStatus[cur.StatusAfter] = a
		}
		a.samples++
		a.total += dwell
		if dwell < a.min {
			a.min = dwell
		}
		if dwell > a.max {
			a.max = dwell
		}
	}

	stats := make([]StatusStats, 0, len(byStatus))
	for status, a := range byStatus {
		stats = append(stats, StatusStats{
			Status:     status,
			Samples:    a.samples,
			AvgSeconds: a.total / float64(a.samples),
			MinSeconds: a.min,
			MaxSeconds: a.max,
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Status < stats[j].Status })
	return stats
}
