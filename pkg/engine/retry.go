package engine

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go"
	"github.com/sirupsen/logrus"

	"github.com/kasuganosora/cardbench/pkg/domain"
)

// Policy 超时与重试策略
type Policy struct {
	// QueryTimeout 单次 Submit 的超时，0 表示不限
	QueryTimeout time.Duration
	// MaxRetries 失败后的额外尝试次数
	MaxRetries int
	RetryDelay time.Duration
}

// RetryObserver 接收重试事件，用于指标统计
type RetryObserver interface {
	ObserveRetry(op string, err error)
}

// RetryClient 为 Client 增加超时与有限次重试，只重试 ENGINE_UNAVAILABLE 与 TIMEOUT
type RetryClient struct {
	inner    Client
	policy   Policy
	logger   logrus.FieldLogger
	observer RetryObserver
}

// WithRetry 包装客户端
func WithRetry(c Client, policy Policy, logger logrus.FieldLogger) *RetryClient {
	return &RetryClient{inner: c, policy: policy, logger: logger}
}

// SetObserver 设置重试观察者
func (c *RetryClient) SetObserver(o RetryObserver) {
	c.observer = o
}

// IsTransient 判断错误是否值得重试
func IsTransient(err error) bool {
	return domain.IsErrorCode(err, domain.ErrCodeEngineUnavailable) ||
		domain.IsErrorCode(err, domain.ErrCodeTimeout)
}

// Classify 将超时转换为 TIMEOUT 错误，其他错误原样返回
func Classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if domain.GetErrorCode(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.WrapError(err, domain.ErrCodeTimeout, "engine did not respond in time")
	}
	return err
}

func (c *RetryClient) do(ctx context.Context, op string, timeout time.Duration, fn func(ctx context.Context) error) error {
	return retry.Do(
		func() error {
			attemptCtx, cancel := ctx, context.CancelFunc(func() {})
			if timeout > 0 {
				attemptCtx, cancel = context.WithTimeout(ctx, timeout)
			}
			defer cancel()
			return Classify(attemptCtx, fn(attemptCtx))
		},
		retry.Attempts(uint(1+c.policy.MaxRetries)),
		retry.Delay(c.policy.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil && IsTransient(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			if int(n) >= c.policy.MaxRetries {
				return
			}
			c.logger.WithFields(logrus.Fields{
				"op":      op,
				"attempt": n + 1,
			}).WithError(err).Warn("retrying engine call")
			if c.observer != nil {
				c.observer.ObserveRetry(op, err)
			}
		}),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
}

// Exec 执行语句，不受单查询超时限制
func (c *RetryClient) Exec(ctx context.Context, stmt string) error {
	return c.do(ctx, "exec", 0, func(ctx context.Context) error {
		return c.inner.Exec(ctx, stmt)
	})
}

// Submit 提交查询，每次尝试单独计时
func (c *RetryClient) Submit(ctx context.Context, q *domain.Query) (*domain.Response, error) {
	var resp *domain.Response
	err := c.do(ctx, "submit", c.policy.QueryTimeout, func(ctx context.Context) error {
		r, err := c.inner.Submit(ctx, q)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Load 装载数据，不受单查询超时限制
func (c *RetryClient) Load(ctx context.Context, req *domain.LoadRequest) (int64, error) {
	var rows int64
	err := c.do(ctx, "load", 0, func(ctx context.Context) error {
		n, err := c.inner.Load(ctx, req)
		if err != nil {
			return err
		}
		rows = n
		return nil
	})
	return rows, err
}

// Close 关闭底层客户端
func (c *RetryClient) Close() error {
	return c.inner.Close()
}
