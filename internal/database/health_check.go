package database

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Pinger 可做连通性检查的后端，repository.Store 满足该接口
type Pinger interface {
	Ping(ctx context.Context) error
}

type sqlPinger struct{ db *sql.DB }

func (p sqlPinger) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// SQLPinger 适配 *sql.DB
func SQLPinger(db *sql.DB) Pinger {
	return sqlPinger{db: db}
}

// HealthStatus 最近一次检查结果
type HealthStatus struct {
	Backend      string        `json:"backend"`
	Healthy      bool          `json:"healthy"`
	LastCheck    time.Time     `json:"last_check"`
	LastError    string        `json:"last_error,omitempty"`
	ResponseTime time.Duration `json:"response_time"`
}

// HealthChecker 周期性检查存储连通性
type HealthChecker struct {
	target   Pinger
	backend  string
	logger   *logrus.Logger
	timeout  time.Duration

	mu     sync.RWMutex
	status HealthStatus
}

// NewHealthChecker 创建检查器，backend 仅用于日志
func NewHealthChecker(target Pinger, backend string, logger *logrus.Logger) *HealthChecker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HealthChecker{
		target:   target,
		backend:  backend,
		logger:   logger,
		timeout:  5 * time.Second,
		status:   HealthStatus{Backend: backend},
	}
}

// Check 执行一次检查并更新状态
func (hc *HealthChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	start := time.Now()
	err := hc.target.Ping(ctx)
	elapsed := time.Since(start)

	hc.mu.Lock()
	wasHealthy := hc.status.Healthy
	hc.status.LastCheck = time.Now()
	hc.status.ResponseTime = elapsed
	hc.status.Healthy = err == nil
	hc.status.LastError = ""
	if err != nil {
		hc.status.LastError = err.Error()
	}
	hc.mu.Unlock()

	fields := logrus.Fields{"backend": hc.backend, "response_time": elapsed}
	switch {
	case err != nil:
		hc.logger.WithFields(fields).WithError(err).Warn("Store health check failed")
	case !wasHealthy:
		hc.logger.WithFields(fields).Info("Store connection healthy")
	default:
		hc.logger.WithFields(fields).Debug("Store health check passed")
	}
	return err
}

// IsHealthy 最近一次检查是否成功
func (hc *HealthChecker) IsHealthy() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.status.Healthy
}

// Status 返回状态副本
func (hc *HealthChecker) Status() HealthStatus {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.status
}

// WaitForHealthy 重复检查直到成功或超时；timeout 不大于 0 时使用单次检查的超时
func (hc *HealthChecker) WaitForHealthy(ctx context.Context, timeout, retryEvery time.Duration) error {
	if timeout <= 0 {
		timeout = hc.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		if err := hc.Check(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryEvery):
		}
	}
}
