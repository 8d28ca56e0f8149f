package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// RequestIDHeader is the HTTP header name for request ID
	RequestIDHeader = "X-Request-ID"
	// RequestIDContextKey is the context key for request ID
	RequestIDContextKey = "request_id"
	// ReplayHeader marks a response served from the idempotency store
	ReplayHeader = "X-Idempotent-Replay"
)

// RequestIDStore stores processed request IDs for idempotency. Stock
// mutations are not idempotent by design, so callers retrying a write must
// carry a deduplication key; this store is that key's backing.
type RequestIDStore interface {
	Store(ctx context.Context, requestID string, status int, response []byte, ttl time.Duration) error
	Get(ctx context.Context, requestID string) (int, []byte, error)
	Exists(ctx context.Context, requestID string) (bool, error)
}

// InMemoryRequestIDStore is an in-memory implementation of RequestIDStore
type InMemoryRequestIDStore struct {
	mu      sync.RWMutex
	store   map[string]requestIDEntry
	cleanup *time.Ticker
	stop    chan struct{}
	once    sync.Once
}

type requestIDEntry struct {
	status    int
	response  []byte
	expiresAt time.Time
}

// NewInMemoryRequestIDStore creates a new in-memory request ID store
func NewInMemoryRequestIDStore() *InMemoryRequestIDStore {
	store := &InMemoryRequestIDStore{
		store:   make(map[string]requestIDEntry),
		cleanup: time.NewTicker(1 * time.Minute),
		stop:    make(chan struct{}),
	}

	go store.cleanupExpired()

	return store
}

// Stop ends the background cleanup goroutine. Safe to call more than once.
func (s *InMemoryRequestIDStore) Stop() {
	s.once.Do(func() { close(s.stop) })
}

func (s *InMemoryRequestIDStore) Store(ctx context.Context, requestID string, status int, response []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.store[requestID] = requestIDEntry{
		status:    status,
		response:  response,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (s *InMemoryRequestIDStore) Get(ctx context.Context, requestID string) (int, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.store[requestID]
	if !exists || time.Now().After(entry.expiresAt) {
		return 0, nil, ErrRequestIDNotFound
	}
	return entry.status, entry.response, nil
}

func (s *InMemoryRequestIDStore) Exists(ctx context.Context, requestID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.store[requestID]
	if !exists || time.Now().After(entry.expiresAt) {
		return false, nil
	}
	return true, nil
}

func (s *InMemoryRequestIDStore) cleanupExpired() {
	for {
		select {
		case <-s.cleanup.C:
			s.mu.Lock()
			now := time.Now()
			for id, entry := range s.store {
				if now.After(entry.expiresAt) {
					delete(s.store, id)
				}
			}
			s.mu.Unlock()
		case <-s.stop:
			s.cleanup.Stop()
			return
		}
	}
}

var ErrRequestIDNotFound = &RequestIDError{Message: "request ID not found"}

type RequestIDError struct {
	Message string
}

func (e *RequestIDError) Error() string {
	return e.Message
}

// RequestIDMiddleware extracts or generates X-Request-ID header
func RequestIDMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(RequestIDContextKey, requestID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), RequestIDContextKey, requestID))
		c.Header(RequestIDHeader, requestID)

		c.Next()
	}
}

// GetRequestID retrieves the request ID from the Gin context
func GetRequestID(c *gin.Context) string {
	if requestID, exists := c.Get(RequestIDContextKey); exists {
		if id, ok := requestID.(string); ok {
			return id
		}
	}
	return ""
}

// IdempotencyMiddleware replays the stored response for a repeated
// X-Request-ID on write operations instead of re-running the mutation.
func IdempotencyMiddleware(store RequestIDStore, logger *zap.Logger, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Only write operations mutate stock or order state.
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		requestID := GetRequestID(c)
		if requestID == "" {
			c.Next()
			return
		}

		exists, err := store.Exists(c.Request.Context(), requestID)
		if err != nil {
			logger.Warn("Error checking request ID existence",
				zap.String("request_id", requestID),
				zap.Error(err),
			)
			// Fail open
			c.Next()
			return
		}

		if exists {
			status, response, err := store.Get(c.Request.Context(), requestID)
			if err == nil {
				logger.Info("Duplicate request, replaying stored response",
					zap.String("request_id", requestID),
					zap.String("path", c.Request.URL.Path),
				)
				c.Header(ReplayHeader, "true")
				c.Data(status, "application/json", response)
				c.Abort()
				return
			}
		}

		// Capture the response body so it can be stored after the handler.
		writer := &responseCapture{ResponseWriter: c.Writer}
		c.Writer = writer

		c.Next()

		// Only successful mutations are worth replaying. The status rides
		// along so a replayed 201 stays a 201.
		if writer.Status() >= 200 && writer.Status() < 300 {
			if err := store.Store(c.Request.Context(), requestID, writer.Status(), writer.body, ttl); err != nil {
				logger.Warn("Failed to store response for idempotency",
					zap.String("request_id", requestID),
					zap.Error(err),
				)
			}
		}
	}
}

type responseCapture struct {
	gin.ResponseWriter
	body []byte
}

func (w *responseCapture) Write(data []byte) (int, error) {
	w.body = append(w.body, data...)
	return w.ResponseWriter.Write(data)
}
