package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/viper"

	"github.com/kasuganosora/cardbench/pkg/domain"
)

// EnvPrefix 环境变量前缀，例如 CARDBENCH_ENGINE_TYPE
const EnvPrefix = "CARDBENCH"

// Config 应用程序配置
type Config struct {
	Benchmark BenchmarkConfig `json:"benchmark" mapstructure:"benchmark"`
	Generator GeneratorConfig `json:"generator" mapstructure:"generator"`
	Engine    EngineConfig    `json:"engine" mapstructure:"engine"`
	Harness   HarnessConfig   `json:"harness" mapstructure:"harness"`
	Report    ReportConfig    `json:"report" mapstructure:"report"`
	Store     StoreConfig     `json:"store" mapstructure:"store"`
	Metrics   MetricsConfig   `json:"metrics" mapstructure:"metrics"`
	Pool      PoolConfig      `json:"pool" mapstructure:"pool"`
	Log       LogConfig       `json:"log" mapstructure:"log"`
}

// BenchmarkConfig 实验参数
type BenchmarkConfig struct {
	Dims                []int        `json:"dims" mapstructure:"dims"`
	Tiers               []TierConfig `json:"tiers" mapstructure:"tiers"`
	RowCount            int64        `json:"row_count" mapstructure:"row_count"`
	Domain              DomainConfig `json:"domain" mapstructure:"domain"`
	SelectivityFraction float64      `json:"selectivity_fraction" mapstructure:"selectivity_fraction"`
	QueryCount          int          `json:"query_count" mapstructure:"query_count"`
	// CenterSampling gaussian 或 uniform
	CenterSampling string  `json:"center_sampling" mapstructure:"center_sampling"`
	CenterStdDev   float64 `json:"center_stddev" mapstructure:"center_stddev"`
	Seed           int64   `json:"seed" mapstructure:"seed"`
}

// TierConfig 相关性档位
type TierConfig struct {
	Name        string  `json:"name" mapstructure:"name"`
	Correlation float64 `json:"correlation" mapstructure:"correlation"`
}

// DomainConfig 值域 [low, high]
type DomainConfig struct {
	Low  int64 `json:"low" mapstructure:"low"`
	High int64 `json:"high" mapstructure:"high"`
}

// GeneratorConfig 数据生成配置
type GeneratorConfig struct {
	StdDev float64 `json:"stddev" mapstructure:"stddev"`
	Mean   float64 `json:"mean" mapstructure:"mean"`
	// Quantize truncate、floor 或 round
	Quantize  string `json:"quantize" mapstructure:"quantize"`
	Delimiter string `json:"delimiter" mapstructure:"delimiter"`
	OutputDir string `json:"output_dir" mapstructure:"output_dir"`
}

// EngineConfig 查询引擎配置
type EngineConfig struct {
	// Type memory、shell、postgres 或 mysql
	Type         string        `json:"type" mapstructure:"type"`
	QueryTimeout time.Duration `json:"query_timeout" mapstructure:"query_timeout"`
	MaxRetries   int           `json:"max_retries" mapstructure:"max_retries"`
	RetryDelay   time.Duration `json:"retry_delay" mapstructure:"retry_delay"`
	Shell        ShellConfig   `json:"shell" mapstructure:"shell"`
	SQL          SQLConfig     `json:"sql" mapstructure:"sql"`
	Memory       MemoryConfig  `json:"memory" mapstructure:"memory"`
}

// ShellConfig 子进程引擎配置
type ShellConfig struct {
	Path     string   `json:"path" mapstructure:"path"`
	Args     []string `json:"args" mapstructure:"args"`
	LoadArgs []string `json:"load_args" mapstructure:"load_args"`
	WorkDir  string   `json:"work_dir" mapstructure:"work_dir"`
}

// SQLConfig database/sql 引擎配置
type SQLConfig struct {
	Host           string        `json:"host" mapstructure:"host"`
	Port           int           `json:"port" mapstructure:"port"`
	User           string        `json:"user" mapstructure:"user"`
	Password       string        `json:"password" mapstructure:"password"`
	Database       string        `json:"database" mapstructure:"database"`
	SSLMode        string        `json:"ssl_mode" mapstructure:"ssl_mode"`
	MaxOpenConns   int           `json:"max_open_conns" mapstructure:"max_open_conns"`
	ConnectTimeout time.Duration `json:"connect_timeout" mapstructure:"connect_timeout"`
}

// MemoryConfig 进程内引擎配置
type MemoryConfig struct {
	DataDir  string `json:"data_dir" mapstructure:"data_dir"`
	InMemory bool   `json:"in_memory" mapstructure:"in_memory"`
	// Estimator htree 或 independent
	Estimator string `json:"estimator" mapstructure:"estimator"`
	// Histogram equi_depth 或 equi_width
	Histogram     string  `json:"histogram" mapstructure:"histogram"`
	BucketsPerDim int     `json:"buckets_per_dim" mapstructure:"buckets_per_dim"`
	SampleRate    float64 `json:"sample_rate" mapstructure:"sample_rate"`
}

// HarnessConfig 测量配置
type HarnessConfig struct {
	Tolerant bool `json:"tolerant" mapstructure:"tolerant"`
	// Parser auto、text 或 plan
	Parser    string          `json:"parser" mapstructure:"parser"`
	Selection SelectionConfig `json:"selection" mapstructure:"selection"`
	Baseline  bool            `json:"baseline" mapstructure:"baseline"`
}

// SelectionConfig 选择率标记的选取规则
type SelectionConfig struct {
	Operator string `json:"operator" mapstructure:"operator"`
	Position int    `json:"position" mapstructure:"position"`
}

// ReportConfig 报告配置
type ReportConfig struct {
	Formats   []string `json:"formats" mapstructure:"formats"`
	OutputDir string   `json:"output_dir" mapstructure:"output_dir"`
}

// StoreConfig 结果存储配置
type StoreConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Textfile string `json:"textfile" mapstructure:"textfile"`
}

// PoolConfig 生成阶段的并发配置
type PoolConfig struct {
	MaxWorkers int `json:"max_workers" mapstructure:"max_workers"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"` // json or text
	Output string `json:"output" mapstructure:"output"` // stdout, stderr or a file path
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Benchmark: BenchmarkConfig{
			Dims: []int{2, 3, 5},
			Tiers: []TierConfig{
				{Name: "low", Correlation: 0.1},
				{Name: "med", Correlation: 0.5},
				{Name: "hi", Correlation: 0.9},
			},
			RowCount:            500000,
			Domain:              DomainConfig{Low: -1000, High: 1000},
			SelectivityFraction: 0.01,
			QueryCount:          100,
			CenterSampling:      "gaussian",
			CenterStdDev:        340,
			Seed:                1,
		},
		Generator: GeneratorConfig{
			StdDev:    340,
			Mean:      0,
			Quantize:  "truncate",
			Delimiter: ",",
			OutputDir: "test_tables",
		},
		Engine: EngineConfig{
			Type:         "memory",
			QueryTimeout: 30 * time.Second,
			MaxRetries:   1,
			RetryDelay:   500 * time.Millisecond,
			Shell: ShellConfig{
				Path:     "../build/quickstep_cli_shell",
				Args:     []string{"--visualize_plan=true"},
				LoadArgs: []string{},
			},
			SQL: SQLConfig{
				Host:           "127.0.0.1",
				SSLMode:        "disable",
				MaxOpenConns:   1,
				ConnectTimeout: 10 * time.Second,
			},
			Memory: MemoryConfig{
				InMemory:      true,
				Estimator:     "htree",
				Histogram:     "equi_depth",
				BucketsPerDim: 10,
				SampleRate:    1.0,
			},
		},
		Harness: HarnessConfig{
			Tolerant: false,
			Parser:   "auto",
			Selection: SelectionConfig{
				Operator: "Selection",
				Position: 1,
			},
			Baseline: true,
		},
		Report: ReportConfig{
			Formats:   []string{"table", "json"},
			OutputDir: "results",
		},
		Store: StoreConfig{
			Enabled: false,
			Path:    "results/cardbench.db",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Textfile: "results/cardbench.prom",
		},
		Pool: PoolConfig{
			MaxWorkers: 4,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// NewViper 创建以默认配置为底的 viper 实例，并合并配置文件与环境变量
func NewViper(configPath string) (*viper.Viper, error) {
	v := viper.New()

	// 默认配置作为底层，保证所有键对环境变量可见
	defaults, err := json.Marshal(DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("marshal default config: %w", err)
	}
	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("read default config: %w", err)
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("配置文件不存在: %s", configPath)
		}
		v.SetConfigFile(configPath)
		if ext := strings.TrimPrefix(filepath.Ext(configPath), "."); ext != "" {
			v.SetConfigType(ext)
		}
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

// FromViper 解码并验证配置
func FromViper(v *viper.Viper) (*Config, error) {
	// 默认值已作为 viper 底层，这里解码到零值结构，避免切片与默认值合并
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig 从文件加载配置，路径为空时使用默认配置
func LoadConfig(configPath string) (*Config, error) {
	v, err := NewViper(configPath)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// validateConfig 验证配置
func validateConfig(cfg *Config) error {
	b := cfg.Benchmark
	if len(b.Dims) == 0 {
		return domain.InvalidParameters("benchmark.dims must not be empty")
	}
	for _, d := range b.Dims {
		if d < 1 {
			return domain.InvalidParameters("benchmark.dims: dimensionality must be >= 1, got %d", d)
		}
	}
	if len(b.Tiers) == 0 {
		return domain.InvalidParameters("benchmark.tiers must not be empty")
	}
	seen := make(map[string]bool, len(b.Tiers))
	for _, tier := range b.Tiers {
		if tier.Name == "" {
			return domain.InvalidParameters("benchmark.tiers: tier name must not be empty")
		}
		if seen[tier.Name] {
			return domain.InvalidParameters("benchmark.tiers: duplicate tier %q", tier.Name)
		}
		seen[tier.Name] = true
		if tier.Correlation < -1 || tier.Correlation > 1 {
			return domain.InvalidParameters("benchmark.tiers: correlation of %q must be within [-1,1], got %v", tier.Name, tier.Correlation)
		}
	}
	if b.RowCount < 1 {
		return domain.InvalidParameters("benchmark.row_count must be >= 1")
	}
	if b.Domain.Low >= b.Domain.High {
		return domain.InvalidParameters("benchmark.domain: low (%d) must be < high (%d)", b.Domain.Low, b.Domain.High)
	}
	if b.SelectivityFraction <= 0 || b.SelectivityFraction > 1 {
		return domain.InvalidParameters("benchmark.selectivity_fraction must be within (0,1], got %v", b.SelectivityFraction)
	}
	if b.QueryCount < 1 {
		return domain.InvalidParameters("benchmark.query_count must be >= 1")
	}
	switch b.CenterSampling {
	case "gaussian":
		if b.CenterStdDev <= 0 {
			return domain.InvalidParameters("benchmark.center_stddev must be > 0 for gaussian sampling")
		}
	case "uniform":
	default:
		return domain.InvalidParameters("benchmark.center_sampling must be gaussian or uniform, got %q", b.CenterSampling)
	}

	g := cfg.Generator
	if g.StdDev <= 0 {
		return domain.InvalidParameters("generator.stddev must be > 0")
	}
	switch g.Quantize {
	case "truncate", "floor", "round":
	default:
		return domain.InvalidParameters("generator.quantize must be truncate, floor or round, got %q", g.Quantize)
	}
	if utf8.RuneCountInString(g.Delimiter) != 1 {
		return domain.InvalidParameters("generator.delimiter must be a single character, got %q", g.Delimiter)
	}

	e := cfg.Engine
	switch e.Type {
	case "memory", "shell", "postgres", "mysql":
	default:
		return domain.InvalidParameters("engine.type must be memory, shell, postgres or mysql, got %q", e.Type)
	}
	if e.QueryTimeout <= 0 {
		return domain.InvalidParameters("engine.query_timeout must be > 0")
	}
	if e.MaxRetries < 0 {
		return domain.InvalidParameters("engine.max_retries must not be negative")
	}
	switch e.Memory.Estimator {
	case "htree", "independent":
	default:
		return domain.InvalidParameters("engine.memory.estimator must be htree or independent, got %q", e.Memory.Estimator)
	}
	switch e.Memory.Histogram {
	case "equi_depth", "equi_width":
	default:
		return domain.InvalidParameters("engine.memory.histogram must be equi_depth or equi_width, got %q", e.Memory.Histogram)
	}
	if e.Memory.BucketsPerDim < 1 {
		return domain.InvalidParameters("engine.memory.buckets_per_dim must be >= 1")
	}
	if e.Memory.SampleRate <= 0 || e.Memory.SampleRate > 1 {
		return domain.InvalidParameters("engine.memory.sample_rate must be within (0,1]")
	}

	switch cfg.Harness.Parser {
	case "auto", "text", "plan":
	default:
		return domain.InvalidParameters("harness.parser must be auto, text or plan, got %q", cfg.Harness.Parser)
	}
	if cfg.Harness.Selection.Position < 0 {
		return domain.InvalidParameters("harness.selection.position must not be negative")
	}

	for _, format := range cfg.Report.Formats {
		switch format {
		case "table", "json", "xlsx":
		default:
			return domain.InvalidParameters("report.formats: unknown format %q", format)
		}
	}

	if cfg.Pool.MaxWorkers < 1 {
		return domain.InvalidParameters("pool.max_workers must be >= 1")
	}
	return nil
}

// DelimiterRune 返回导出文件的分隔符
func (g GeneratorConfig) DelimiterRune() rune {
	r, _ := utf8.DecodeRuneInString(g.Delimiter)
	return r
}

// TierCorrelation 按名称查找档位相关系数
func (b BenchmarkConfig) TierCorrelation(name string) (float64, bool) {
	for _, tier := range b.Tiers {
		if tier.Name == name {
			return tier.Correlation, true
		}
	}
	return 0, false
}
