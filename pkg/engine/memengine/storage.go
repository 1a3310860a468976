package memengine

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/kasuganosora/cardbench/pkg/config"
	"github.com/kasuganosora/cardbench/pkg/datagen"
	"github.com/kasuganosora/cardbench/pkg/domain"
)

// Key prefixes
const (
	PrefixTable = "table:"
	PrefixRow   = "row:"
)

// scanCheckInterval 扫描与装载时每处理多少行检查一次 context
const scanCheckInterval = 1 << 14

// tableMeta 表元数据，保存在 table:{name}
type tableMeta struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Rows    int64    `json:"rows"`
}

// Store 基于 badger 的整数行存储
type Store struct {
	db *badger.DB
	// mu 串行化元数据的读改写
	mu sync.Mutex
}

// OpenStore 打开存储；InMemory 为 false 时数据写入 DataDir
func OpenStore(cfg config.MemoryConfig, logger logrus.FieldLogger) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.DataDir == "" {
			return nil, domain.InvalidParameters("engine.memory.data_dir must be set when in_memory is false")
		}
		opts = badger.DefaultOptions(cfg.DataDir)
	}
	// logrus 满足 badger.Logger
	opts = opts.WithLogger(logger.WithField("component", "badger"))

	db, err := badger.Open(opts)
	if err != nil {
		return nil, domain.WrapError(err, domain.ErrCodeEngineUnavailable, "failed to open badger database")
	}
	return &Store{db: db}, nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}

// EncodeTableKey Format: table:{table_name}
func EncodeTableKey(table string) []byte {
	return []byte(PrefixTable + table)
}

// EncodeRowPrefix Format: row:{table_name}:
func EncodeRowPrefix(table string) []byte {
	return []byte(PrefixRow + table + ":")
}

// EncodeRowKey Format: row:{table_name}:{big-endian seq}，保证按插入顺序迭代
func EncodeRowKey(table string, seq int64) []byte {
	key := EncodeRowPrefix(table)
	return binary.BigEndian.AppendUint64(key, uint64(seq))
}

func encodeRow(row []int64) []byte {
	buf := make([]byte, 0, len(row)*binary.MaxVarintLen64)
	for _, v := range row {
		buf = binary.AppendVarint(buf, v)
	}
	return buf
}

func decodeRow(val []byte, row []int64) error {
	for i := range row {
		v, n := binary.Varint(val)
		if n <= 0 {
			return fmt.Errorf("corrupt row: column %d", i)
		}
		row[i] = v
		val = val[n:]
	}
	if len(val) != 0 {
		return fmt.Errorf("corrupt row: %d trailing bytes", len(val))
	}
	return nil
}

func (s *Store) getMeta(txn *badger.Txn, table string) (*tableMeta, error) {
	item, err := txn.Get(EncodeTableKey(table))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.Errorf(domain.ErrCodeTableNotFound, "table %s does not exist", table)
	}
	if err != nil {
		return nil, err
	}
	meta := &tableMeta{}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, meta)
	})
	return meta, err
}

func setMeta(txn *badger.Txn, meta *tableMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return txn.Set(EncodeTableKey(meta.Name), data)
}

func (s *Store) meta(table string) (*tableMeta, error) {
	var meta *tableMeta
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		meta, err = s.getMeta(txn, table)
		return err
	})
	return meta, err
}

// CreateTable 创建表，表已存在时返回错误
func (s *Store) CreateTable(table string, columns []string) error {
	if len(columns) == 0 {
		return domain.InvalidParameters("table %s: no columns", table)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := s.getMeta(txn, table); err == nil {
			return domain.InvalidParameters("table %s already exists", table)
		} else if !domain.IsErrorCode(err, domain.ErrCodeTableNotFound) {
			return err
		}
		return setMeta(txn, &tableMeta{Name: table, Columns: columns})
	})
}

// DropTable 删除表及其所有行
func (s *Store) DropTable(table string, ifExists bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.meta(table); err != nil {
		if ifExists && domain.IsErrorCode(err, domain.ErrCodeTableNotFound) {
			return nil
		}
		return err
	}
	if err := s.db.DropPrefix(EncodeRowPrefix(table)); err != nil {
		return fmt.Errorf("drop rows of %s: %w", table, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(EncodeTableKey(table))
	})
}

// Columns 返回表的列名
func (s *Store) Columns(table string) ([]string, error) {
	meta, err := s.meta(table)
	if err != nil {
		return nil, err
	}
	return meta.Columns, nil
}

// RowCount 返回表行数
func (s *Store) RowCount(table string) (int64, error) {
	meta, err := s.meta(table)
	if err != nil {
		return 0, err
	}
	return meta.Rows, nil
}

// Append 追加数据集的所有行，返回追加后的表行数
func (s *Store) Append(ctx context.Context, table string, ds *datagen.Dataset) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.meta(table)
	if err != nil {
		return 0, err
	}
	if ds.Dims != len(meta.Columns) {
		return 0, domain.InvalidParameters("table %s has %d columns, data has %d", table, len(meta.Columns), ds.Dims)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	n := ds.Len()
	for i := 0; i < n; i++ {
		if i%scanCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		if err := wb.Set(EncodeRowKey(table, meta.Rows+int64(i)), encodeRow(ds.Row(i))); err != nil {
			return 0, fmt.Errorf("write row %d of %s: %w", i, table, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("flush %s: %w", table, err)
	}

	meta.Rows += int64(n)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return setMeta(txn, meta)
	}); err != nil {
		return 0, err
	}
	return meta.Rows, nil
}

// Scan 按插入顺序遍历表的每一行；fn 收到的切片在下一次回调时被复用
func (s *Store) Scan(ctx context.Context, table string, fn func(row []int64) error) error {
	meta, err := s.meta(table)
	if err != nil {
		return err
	}

	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = EncodeRowPrefix(table)
		it := txn.NewIterator(opts)
		defer it.Close()

		row := make([]int64, len(meta.Columns))
		n := 0
		for it.Rewind(); it.Valid(); it.Next() {
			if n%scanCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			n++
			if err := it.Item().Value(func(val []byte) error {
				return decodeRow(val, row)
			}); err != nil {
				return fmt.Errorf("table %s: %w", table, err)
			}
			if err := fn(row); err != nil {
				return err
			}
		}
		return nil
	})
}
