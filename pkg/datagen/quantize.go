package datagen

import (
	"math"

	"github.com/kasuganosora/cardbench/pkg/domain"
)

// QuantizeMode 实数到整数的量化方式
type QuantizeMode string

const (
	// QuantizeTruncate 向零截断
	QuantizeTruncate QuantizeMode = "truncate"
	// QuantizeFloor 向下取整
	QuantizeFloor QuantizeMode = "floor"
	// QuantizeRound 四舍五入（远离零）
	QuantizeRound QuantizeMode = "round"
)

// ParseQuantizeMode 解析量化方式，空字符串视为 truncate
func ParseQuantizeMode(s string) (QuantizeMode, error) {
	switch QuantizeMode(s) {
	case "", QuantizeTruncate:
		return QuantizeTruncate, nil
	case QuantizeFloor:
		return QuantizeFloor, nil
	case QuantizeRound:
		return QuantizeRound, nil
	}
	return "", domain.InvalidParameters("unknown quantize mode %q", s)
}

// Apply 量化单个值
func (m QuantizeMode) Apply(v float64) int64 {
	switch m {
	case QuantizeFloor:
		return int64(math.Floor(v))
	case QuantizeRound:
		return int64(math.Round(v))
	default:
		return int64(math.Trunc(v))
	}
}
