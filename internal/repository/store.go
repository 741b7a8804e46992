package repository

import (
	"context"
	"errors"
)

// MaxAppendAttempts 追加消息时乐观并发的最大尝试次数
const MaxAppendAttempts = 5

type counterOverride struct {
	Store
	counters CounterRepository
	closer   func(ctx context.Context) error
}

func (s *counterOverride) Counters() CounterRepository {
	return s.counters
}

func (s *counterOverride) Close(ctx context.Context) error {
	var errs []error
	if s.closer != nil {
		errs = append(errs, s.closer(ctx))
	}
	errs = append(errs, s.Store.Close(ctx))
	return errors.Join(errs...)
}

// WithCounters 用独立的计数器后端（例如 Redis）替换存储自带的计数器。
// closer 在 Store 关闭时一并调用，可为 nil。
func WithCounters(store Store, counters CounterRepository, closer func(ctx context.Context) error) Store {
	if counters == nil {
		return store
	}
	return &counterOverride{Store: store, counters: counters, closer: closer}
}

// IsNotFound 判断是否为记录不存在
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
