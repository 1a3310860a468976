// Package datagen synthesizes integer tuples drawn from a multivariate normal
// distribution with a prescribed pairwise correlation.
package datagen

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/kasuganosora/cardbench/pkg/domain"
)

// eigenTolerance 协方差特征值允许的数值误差（相对最大特征值）
const eigenTolerance = 1e-9

// cancelCheckInterval 每生成多少行检查一次 context
const cancelCheckInterval = 1 << 16

// Params 生成参数
type Params struct {
	Dims        int
	Rows        int64
	StdDev      float64
	Correlation float64
	// Mean 每维均值，为空时取原点；长度为 1 时复制到所有维度
	Mean     []float64
	Quantize QuantizeMode
	Seed     int64
}

// Validate 校验参数，失败返回 INVALID_PARAMETERS
func (p *Params) Validate() error {
	if p.Dims < 1 {
		return domain.InvalidParameters("dimensionality must be >= 1, got %d", p.Dims)
	}
	if p.Rows < 1 {
		return domain.InvalidParameters("row count must be >= 1, got %d", p.Rows)
	}
	if !(p.StdDev > 0) || math.IsInf(p.StdDev, 0) {
		return domain.InvalidParameters("stddev must be > 0, got %v", p.StdDev)
	}
	if math.IsNaN(p.Correlation) || math.Abs(p.Correlation) > 1 {
		return domain.InvalidParameters("correlation must be within [-1,1], got %v", p.Correlation)
	}
	if len(p.Mean) > 1 && len(p.Mean) != p.Dims {
		return domain.InvalidParameters("mean has %d entries, want 1 or %d", len(p.Mean), p.Dims)
	}
	if _, err := ParseQuantizeMode(string(p.Quantize)); err != nil {
		return err
	}
	return nil
}

func (p *Params) meanVector() []float64 {
	mean := make([]float64, p.Dims)
	switch len(p.Mean) {
	case 0:
	case 1:
		for i := range mean {
			mean[i] = p.Mean[0]
		}
	default:
		copy(mean, p.Mean)
	}
	return mean
}

// Covariance 构造 Σ = D·C·D，D = diag(stddev)，C 对角线为 1、其余为 rho
func Covariance(dims int, stddev, rho float64) (*mat.SymDense, error) {
	if dims < 1 {
		return nil, domain.InvalidParameters("dimensionality must be >= 1, got %d", dims)
	}
	if !(stddev > 0) {
		return nil, domain.InvalidParameters("stddev must be > 0, got %v", stddev)
	}
	if math.IsNaN(rho) || math.Abs(rho) > 1 {
		return nil, domain.InvalidParameters("correlation must be within [-1,1], got %v", rho)
	}

	corr := mat.NewSymDense(dims, nil)
	for i := 0; i < dims; i++ {
		for j := i; j < dims; j++ {
			if i == j {
				corr.SetSym(i, j, 1)
			} else {
				corr.SetSym(i, j, rho)
			}
		}
	}

	diag := make([]float64, dims)
	for i := range diag {
		diag[i] = stddev
	}
	d := mat.NewDiagDense(dims, diag)

	var dc mat.Dense
	dc.Mul(d, corr)
	var dcd mat.Dense
	dcd.Mul(&dc, d)

	sigma := mat.NewSymDense(dims, nil)
	for i := 0; i < dims; i++ {
		for j := i; j < dims; j++ {
			sigma.SetSym(i, j, dcd.At(i, j))
		}
	}
	return sigma, nil
}

// factor 返回 A 使得 A·Aᵀ = Σ。使用特征分解而不是 Cholesky，
// 这样 rho = ±1 时的奇异协方差也能采样。
func factor(sigma *mat.SymDense) (*mat.Dense, error) {
	n := sigma.SymmetricDim()

	var eig mat.EigenSym
	if ok := eig.Factorize(sigma, true); !ok {
		return nil, domain.InvalidParameters("covariance eigen-decomposition did not converge")
	}
	values := eig.Values(nil)

	maxAbs := 0.0
	for _, v := range values {
		maxAbs = math.Max(maxAbs, math.Abs(v))
	}
	for i, v := range values {
		if v < -eigenTolerance*maxAbs {
			return nil, domain.InvalidParameters(
				"covariance is not positive semi-definite (eigenvalue %v); correlation too negative for this dimensionality", v)
		}
		if v < 0 {
			values[i] = 0
		}
	}

	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	scale := make([]float64, n)
	for i, v := range values {
		scale[i] = math.Sqrt(v)
	}

	var a mat.Dense
	a.Mul(&vectors, mat.NewDiagDense(n, scale))
	return &a, nil
}

// Generate 抽取 p.Rows 个多元正态样本并量化为整数
func Generate(ctx context.Context, p Params) (*Dataset, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	quantize, _ := ParseQuantizeMode(string(p.Quantize))

	sigma, err := Covariance(p.Dims, p.StdDev, p.Correlation)
	if err != nil {
		return nil, err
	}
	a, err := factor(sigma)
	if err != nil {
		return nil, err
	}

	d := p.Dims
	raw := a.RawMatrix()
	mean := p.meanVector()
	rng := rand.New(rand.NewSource(p.Seed))

	values := make([]int64, int(p.Rows)*d)
	z := make([]float64, d)
	for row := 0; row < int(p.Rows); row++ {
		if row%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for k := range z {
			z[k] = rng.NormFloat64()
		}
		out := values[row*d : (row+1)*d]
		for i := 0; i < d; i++ {
			x := mean[i]
			aRow := raw.Data[i*raw.Stride : i*raw.Stride+d]
			for k, zk := range z {
				x += aRow[k] * zk
			}
			out[i] = quantize.Apply(x)
		}
	}

	return &Dataset{Dims: d, Values: values}, nil
}

// SeedFor 由基础种子与表名派生稳定的表级种子，与表的处理顺序无关
func SeedFor(base int64, name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return base ^ int64(h.Sum64())
}
