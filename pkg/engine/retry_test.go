package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/cardbench/pkg/config"
	"github.com/kasuganosora/cardbench/pkg/domain"
	"github.com/kasuganosora/cardbench/pkg/logging"
)

type scriptedClient struct {
	calls  int32
	submit func(ctx context.Context, call int32) (*domain.Response, error)
}

func (c *scriptedClient) Exec(ctx context.Context, stmt string) error {
	n := atomic.AddInt32(&c.calls, 1)
	_, err := c.submit(ctx, n)
	return err
}

func (c *scriptedClient) Submit(ctx context.Context, q *domain.Query) (*domain.Response, error) {
	n := atomic.AddInt32(&c.calls, 1)
	return c.submit(ctx, n)
}

func (c *scriptedClient) Load(ctx context.Context, req *domain.LoadRequest) (int64, error) {
	n := atomic.AddInt32(&c.calls, 1)
	if _, err := c.submit(ctx, n); err != nil {
		return 0, err
	}
	return 7, nil
}

func (c *scriptedClient) Close() error { return nil }

type countingObserver struct{ retries int }

func (o *countingObserver) ObserveRetry(op string, err error) { o.retries++ }

func TestRetryTransientOnce(t *testing.T) {
	inner := &scriptedClient{submit: func(ctx context.Context, call int32) (*domain.Response, error) {
		if call == 1 {
			return nil, domain.Errorf(domain.ErrCodeEngineUnavailable, "connection refused")
		}
		return &domain.Response{Text: "ok"}, nil
	}}
	obs := &countingObserver{}
	c := WithRetry(inner, Policy{QueryTimeout: time.Second, MaxRetries: 1}, logging.NullLogger)
	c.SetObserver(obs)

	resp, err := c.Submit(context.Background(), &domain.Query{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, int32(2), inner.calls)
	assert.Equal(t, 1, obs.retries)
}

func TestRetryBounded(t *testing.T) {
	inner := &scriptedClient{submit: func(ctx context.Context, call int32) (*domain.Response, error) {
		return nil, domain.Errorf(domain.ErrCodeEngineUnavailable, "down")
	}}
	c := WithRetry(inner, Policy{MaxRetries: 2}, logging.NullLogger)

	_, err := c.Submit(context.Background(), &domain.Query{})
	require.Error(t, err)
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeEngineUnavailable))
	assert.Equal(t, int32(3), inner.calls)
}

func TestNoRetryOnPermanentError(t *testing.T) {
	inner := &scriptedClient{submit: func(ctx context.Context, call int32) (*domain.Response, error) {
		return nil, errors.New("syntax error")
	}}
	c := WithRetry(inner, Policy{MaxRetries: 3}, logging.NullLogger)

	err := c.Exec(context.Background(), "CREATE TABLE")
	require.Error(t, err)
	assert.Equal(t, "syntax error", err.Error())
	assert.Equal(t, int32(1), inner.calls)
}

func TestSubmitTimeout(t *testing.T) {
	inner := &scriptedClient{submit: func(ctx context.Context, call int32) (*domain.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	c := WithRetry(inner, Policy{QueryTimeout: 20 * time.Millisecond, MaxRetries: 1}, logging.NullLogger)

	start := time.Now()
	_, err := c.Submit(context.Background(), &domain.Query{})
	require.Error(t, err)
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeTimeout))
	assert.Equal(t, int32(2), inner.calls)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestLoadPassesRowCount(t *testing.T) {
	inner := &scriptedClient{submit: func(ctx context.Context, call int32) (*domain.Response, error) {
		return nil, nil
	}}
	c := WithRetry(inner, Policy{}, logging.NullLogger)
	rows, err := c.Load(context.Background(), &domain.LoadRequest{Table: "t"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), rows)
}

func TestCancelledContextStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inner := &scriptedClient{submit: func(_ context.Context, call int32) (*domain.Response, error) {
		cancel()
		return nil, domain.Errorf(domain.ErrCodeEngineUnavailable, "down")
	}}
	c := WithRetry(inner, Policy{MaxRetries: 5, RetryDelay: time.Second}, logging.NullLogger)

	_, err := c.Submit(ctx, &domain.Query{})
	require.Error(t, err)
	assert.Equal(t, int32(1), inner.calls)
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify(context.Background(), nil))

	coded := domain.Errorf(domain.ErrCodeParseFailure, "x")
	assert.Same(t, coded, Classify(context.Background(), coded))

	err := Classify(context.Background(), context.DeadlineExceeded)
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeTimeout))

	plain := errors.New("plain")
	assert.Equal(t, plain, Classify(context.Background(), plain))
}

type stubFactory struct{}

func (stubFactory) GetType() string { return "stub" }
func (stubFactory) Dialect() string { return "memory" }
func (stubFactory) Create(cfg config.EngineConfig, logger logrus.FieldLogger) (Client, error) {
	return &scriptedClient{}, nil
}

func TestFactoryRegistry(t *testing.T) {
	RegisterFactory(stubFactory{})
	assert.Contains(t, SupportedTypes(), "stub")

	c, f, err := Open(config.EngineConfig{Type: "stub"}, logging.NullLogger)
	require.NoError(t, err)
	assert.NotNil(t, c)
	assert.Equal(t, "memory", f.Dialect())

	_, _, err = Open(config.EngineConfig{Type: "oracle"}, logging.NullLogger)
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeNotSupported))
}
