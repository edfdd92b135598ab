package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fanbid/internal/errs"
	"fanbid/internal/repository"
)

type options struct {
	now func() time.Time
}

type Option func(*options)

// WithClock 替换时间源，测试中用于控制截止时间
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// retryOnConflict 乐观锁冲突时重试，超过次数后返回 ErrConcurrencyConflict
func retryOnConflict(ctx context.Context, maxRetries int, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = fn()
		if !errors.Is(err, repository.ErrOptimisticLock) {
			return err
		}
	}
	return fmt.Errorf("%w: 重试 %d 次后仍冲突: %v", errs.ErrConcurrencyConflict, maxRetries, err)
}
