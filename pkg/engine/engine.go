// Package engine defines the client interface the harness needs from a query
// engine, a factory registry for the concrete engines, and a wrapper that
// adds per-query timeouts and bounded retries.
package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kasuganosora/cardbench/pkg/config"
	"github.com/kasuganosora/cardbench/pkg/domain"
)

// Client 查询引擎客户端
type Client interface {
	// Exec 执行不返回结果的语句（DDL、统计信息构建等）
	Exec(ctx context.Context, stmt string) error

	// Submit 以计划/估算模式执行查询，返回引擎的原始响应
	Submit(ctx context.Context, q *domain.Query) (*domain.Response, error)

	// Load 装载分隔文件，返回装载后的表行数
	Load(ctx context.Context, req *domain.LoadRequest) (int64, error)

	// Close 释放连接或子进程资源
	Close() error
}

// Factory 引擎工厂
type Factory interface {
	// GetType 引擎类型，对应 engine.type 配置
	GetType() string

	// Dialect 该引擎使用的 schema 方言名
	Dialect() string

	// Create 按配置创建客户端
	Create(cfg config.EngineConfig, logger logrus.FieldLogger) (Client, error)
}

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// RegisterFactory 注册引擎工厂
func RegisterFactory(f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[f.GetType()] = f
}

// GetFactory 按类型获取工厂
func GetFactory(typ string) (Factory, error) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[typ]
	if !ok {
		return nil, domain.Errorf(domain.ErrCodeNotSupported, "unsupported engine type: %s", typ)
	}
	return f, nil
}

// SupportedTypes 已注册的引擎类型
func SupportedTypes() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	types := make([]string, 0, len(factories))
	for typ := range factories {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}

// Open 按配置创建引擎客户端
func Open(cfg config.EngineConfig, logger logrus.FieldLogger) (Client, Factory, error) {
	f, err := GetFactory(cfg.Type)
	if err != nil {
		return nil, nil, err
	}
	c, err := f.Create(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return c, f, nil
}
