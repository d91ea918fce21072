package server

import (
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"cos-backend/config"
)

// CryptoService interface defines cryptographic operations needed by the server
type CryptoService interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// ReadyState tracks initialization state for health checks.
// The ready probe stays 503 until every startup step has reported in.
type ReadyState struct {
	db          *pgxpool.Pool
	crypto      CryptoService
	config      *config.Config
	rdb         *redis.Client
	adminReady  atomic.Bool
	staticReady atomic.Bool
	jobsReady   atomic.Bool
	redisReady  atomic.Bool
}

// NewReadyState creates a new ReadyState instance
func NewReadyState(db *pgxpool.Pool, crypto CryptoService, cfg *config.Config, rdb *redis.Client) *ReadyState {
	return &ReadyState{
		db:     db,
		crypto: crypto,
		config: cfg,
		rdb:    rdb,
	}
}

// MarkAdminReady marks the admin account seeding as complete
func (r *ReadyState) MarkAdminReady() {
	r.adminReady.Store(true)
}

// MarkStaticReady marks the static asset collection as complete
func (r *ReadyState) MarkStaticReady() {
	r.staticReady.Store(true)
}

// MarkJobsReady marks the job queue startup as complete
func (r *ReadyState) MarkJobsReady() {
	r.jobsReady.Store(true)
}

// MarkRedisReady marks the Redis initialization as complete
func (r *ReadyState) MarkRedisReady() {
	r.redisReady.Store(true)
}

// IsFullyReady returns true if all initialization steps are complete
func (r *ReadyState) IsFullyReady() bool {
	return r.adminReady.Load() &&
		r.staticReady.Load() &&
		r.jobsReady.Load() &&
		r.redisReady.Load()
}

// GetDB returns the database connection pool
func (r *ReadyState) GetDB() *pgxpool.Pool {
	return r.db
}

// GetRedis returns the Redis client
func (r *ReadyState) GetRedis() *redis.Client {
	return r.rdb
}

// GetConfig returns the application configuration
func (r *ReadyState) GetConfig() *config.Config {
	return r.config
}

// GetCrypto returns the crypto service
func (r *ReadyState) GetCrypto() CryptoService {
	return r.crypto
}

// IsAdminReady returns true if admin seeding is complete
func (r *ReadyState) IsAdminReady() bool {
	return r.adminReady.Load()
}

// IsStaticReady returns true if static collection is complete
func (r *ReadyState) IsStaticReady() bool {
	return r.staticReady.Load()
}

// IsJobsReady returns true if the job queue is running
func (r *ReadyState) IsJobsReady() bool {
	return r.jobsReady.Load()
}

// IsRedisReady returns true if Redis initialization is complete
func (r *ReadyState) IsRedisReady() bool {
	return r.redisReady.Load()
}
