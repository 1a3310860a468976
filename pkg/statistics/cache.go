package statistics

import "sync"

// StatisticsCache 按表名保存最近一次 ANALYZE 的结果。
// 表被删除后条目失效，之后对该表的估算退回默认选择率。
type StatisticsCache struct {
	mu     sync.RWMutex
	tables map[string]*TableStatistics
	found  int64
	absent int64
}

// CacheStats 估算时查找统计信息的计数
type CacheStats struct {
	Tables int   `json:"tables"`
	Found  int64 `json:"found"`
	// Absent 没有统计信息、使用默认选择率的查找次数
	Absent int64 `json:"absent"`
}

// NewStatisticsCache 创建空缓存
func NewStatisticsCache() *StatisticsCache {
	return &StatisticsCache{tables: make(map[string]*TableStatistics)}
}

// Get 查找表的统计信息
func (sc *StatisticsCache) Get(table string) (*TableStatistics, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	stats, ok := sc.tables[table]
	if ok {
		sc.found++
	} else {
		sc.absent++
	}
	return stats, ok
}

// Set 以 stats.Name 为键保存，覆盖之前的 ANALYZE 结果
func (sc *StatisticsCache) Set(stats *TableStatistics) {
	sc.mu.Lock()
	sc.tables[stats.Name] = stats
	sc.mu.Unlock()
}

// Invalidate 删除表的统计信息
func (sc *StatisticsCache) Invalidate(table string) {
	sc.mu.Lock()
	delete(sc.tables, table)
	sc.mu.Unlock()
}

// Stats 返回查找计数
func (sc *StatisticsCache) Stats() CacheStats {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return CacheStats{Tables: len(sc.tables), Found: sc.found, Absent: sc.absent}
}
