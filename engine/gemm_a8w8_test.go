package engine

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

// testTileParams is a small tile configuration so the tests exercise many
// block-edge cases cheaply. KVectorWidth of 1 keeps the K sweep unconstrained.
func testTileParams() GemmParams {
	return GemmParams{
		MPerBlock:    16,
		NPerBlock:    16,
		KPerBlock:    16,
		NVectorWidth: 4,
		KVectorWidth: 1,
		SplitK:       1,
	}
}

type gemmTestProblem struct {
	m, n, k        int
	xq, wq         []int8
	xScale, wScale []float32
}

func makeGemmTestProblem(rng *rand.Rand, m, n, k int) *gemmTestProblem {
	p := &gemmTestProblem{
		m: m, n: n, k: k,
		xq:     make([]int8, m*k),
		wq:     make([]int8, n*k),
		xScale: make([]float32, m),
		wScale: make([]float32, n),
	}
	for i := range p.xq {
		p.xq[i] = int8(rng.IntN(255) - 127)
	}
	for i := range p.wq {
		p.wq[i] = int8(rng.IntN(255) - 127)
	}
	for i := range p.xScale {
		p.xScale[i] = rng.Float32()*0.05 + 1e-3
	}
	for i := range p.wScale {
		p.wScale[i] = rng.Float32()*0.05 + 1e-3
	}
	return p
}

// reference computes the expected output in exact integer arithmetic followed
// by float64 scaling.
func (p *gemmTestProblem) reference() []float64 {
	want := make([]float64, p.m*p.n)
	for row := range p.m {
		for col := range p.n {
			var acc int64
			for kk := range p.k {
				acc += int64(p.xq[row*p.k+kk]) * int64(p.wq[col*p.k+kk])
			}
			want[row*p.n+col] = float64(acc) * float64(p.xScale[row]) * float64(p.wScale[col])
		}
	}
	return want
}

func (p *gemmTestProblem) buffers(e *Engine, outDType dtypes.DType) (xq, wq, xScale, wScale, y *Buffer) {
	xq = BufferFromFlatData(e, p.xq, p.m, p.k)
	wq = BufferFromFlatData(e, p.wq, p.n, p.k)
	xScale = BufferFromFlatData(e, p.xScale, p.m)
	wScale = BufferFromFlatData(e, p.wScale, p.n)
	if outDType == dtypes.Float16 {
		y = BufferFromFlatData(e, make([]float16.Float16, p.m*p.n), p.m, p.n)
	} else {
		y = BufferFromFlatData(e, make([]bfloat16.BFloat16, p.m*p.n), p.m, p.n)
	}
	return
}

// outputToFloat64 widens the 16-bit output to float64 for comparisons.
func outputToFloat64(y *Buffer) []float64 {
	switch flat := y.Flat().(type) {
	case []float16.Float16:
		out := make([]float64, len(flat))
		for i, v := range flat {
			out[i] = float64(v.Float32())
		}
		return out
	case []bfloat16.BFloat16:
		out := make([]float64, len(flat))
		for i, v := range flat {
			out[i] = float64(v.Float32())
		}
		return out
	}
	panic("unsupported output dtype")
}

// Relative tolerances of the two 16-bit output encodings: float16 has 10
// mantissa bits, bfloat16 only 7.
func toleranceFor(dtype dtypes.DType) float64 {
	if dtype == dtypes.Float16 {
		return 1e-2
	}
	return 8e-2
}

func assertGemmMatches(t *testing.T, p *gemmTestProblem, y *Buffer, outDType dtypes.DType) {
	t.Helper()
	want := p.reference()
	got := outputToFloat64(y)
	require.Len(t, got, len(want))
	tolerance := toleranceFor(outDType)
	for i := range want {
		diff := math.Abs(got[i] - want[i])
		scale := math.Max(math.Abs(want[i]), 1.0)
		if diff/scale > tolerance {
			t.Fatalf("output[%d]=%g, want %g (relative error %g > %g)",
				i, got[i], want[i], diff/scale, tolerance)
		}
	}
}

// runGemm launches and synchronizes one GEMM, failing the test on error.
func runGemm(t *testing.T, s *Stream, params GemmParams, p *gemmTestProblem, outDType dtypes.DType) *Buffer {
	t.Helper()
	e := s.Engine()
	xq, wq, xScale, wScale, y := p.buffers(e, outDType)
	require.NoError(t, s.GemmA8W8(params, xq, wq, xScale, wScale, y))
	s.Synchronize()
	return y
}

func TestGemmA8W8_PaddingSweep(t *testing.T) {
	e := New()
	s := e.DefaultStream()
	rng := rand.New(rand.NewPCG(1, 2))

	params := testTileParams()
	params.KPadded = true
	// K values straddling the tile boundaries, including the ragged cases.
	kValues := []int{1, 7, 15, 16, 17, 31, 32, 33, 48, 63, 100}
	mValues := []int{1, 5, 16, 17, 33}
	for _, m := range mValues {
		for _, k := range kValues {
			n := 32 // multiple of NPerBlock and NVectorWidth
			t.Run(fmt.Sprintf("M=%d,N=%d,K=%d", m, n, k), func(t *testing.T) {
				p := makeGemmTestProblem(rng, m, n, k)
				y := runGemm(t, s, params, p, dtypes.Float16)
				assertGemmMatches(t, p, y, dtypes.Float16)
			})
		}
	}
}

func TestGemmA8W8_ExactSpecialization(t *testing.T) {
	e := New()
	s := e.DefaultStream()
	rng := rand.New(rand.NewPCG(3, 4))

	params := testTileParams()
	require.False(t, params.KPadded)

	// Whole numbers of KPerBlock tiles work.
	for _, k := range []int{16, 32, 64, 128} {
		p := makeGemmTestProblem(rng, 17, 32, k)
		y := runGemm(t, s, params, p, dtypes.BFloat16)
		assertGemmMatches(t, p, y, dtypes.BFloat16)
	}

	// A ragged K is rejected up front instead of computing garbage.
	p := makeGemmTestProblem(rng, 4, 32, 17)
	xq, wq, xScale, wScale, y := p.buffers(e, dtypes.BFloat16)
	err := s.GemmA8W8(params, xq, wq, xScale, wScale, y)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedShape))
}

func TestGemmA8W8_Idempotence(t *testing.T) {
	e := New()
	s := e.DefaultStream()
	rng := rand.New(rand.NewPCG(5, 6))

	params := testTileParams()
	params.KPadded = true
	p := makeGemmTestProblem(rng, 16, 32, 50)

	y1 := runGemm(t, s, params, p, dtypes.Float16)
	y2 := runGemm(t, s, params, p, dtypes.Float16)

	// Same inputs, bit-identical outputs.
	flat1 := FlatOf[float16.Float16](y1)
	flat2 := FlatOf[float16.Float16](y2)
	for i := range flat1 {
		require.Equal(t, flat1[i].Bits(), flat2[i].Bits(), "output bit %d differs between runs", i)
	}
}

func TestGemmA8W8_SplitKConsistency(t *testing.T) {
	e := New()
	s := e.DefaultStream()
	rng := rand.New(rand.NewPCG(7, 8))

	// K=96 is 6 KPerBlock tiles: exact under splitK 1 and 2, ragged under 4.
	p := makeGemmTestProblem(rng, 17, 32, 96)

	var baseline []float16.Float16
	for _, splitK := range []int{1, 2, 4} {
		params := testTileParams()
		params.SplitK = splitK
		params.KPadded = p.k%(params.KPerBlock*splitK) != 0

		y := runGemm(t, s, params, p, dtypes.Float16)
		assertGemmMatches(t, p, y, dtypes.Float16)

		// Integer accumulation makes the split choice invisible bit-by-bit.
		flat := FlatOf[float16.Float16](y)
		if baseline == nil {
			baseline = append([]float16.Float16(nil), flat...)
			continue
		}
		for i := range flat {
			require.Equal(t, baseline[i].Bits(), flat[i].Bits(),
				"output bit %d differs between splitK=1 and splitK=%d", i, splitK)
		}
	}
}

func TestGemmA8W8_BothOutputDTypes(t *testing.T) {
	e := New()
	s := e.DefaultStream()
	rng := rand.New(rand.NewPCG(9, 10))

	params := testTileParams()
	params.KPadded = true
	p := makeGemmTestProblem(rng, 8, 32, 40)

	for _, dtype := range []dtypes.DType{dtypes.Float16, dtypes.BFloat16} {
		y := runGemm(t, s, params, p, dtype)
		assertGemmMatches(t, p, y, dtype)
	}
}

func TestGemmA8W8_BatchedInput(t *testing.T) {
	// xq with leading batch axes is treated as rows flattened to M.
	e := New()
	s := e.DefaultStream()
	rng := rand.New(rand.NewPCG(11, 12))

	params := testTileParams()
	params.KPadded = true
	const batch, seq, k, n = 2, 3, 24, 32
	p := makeGemmTestProblem(rng, batch*seq, n, k)

	xq := BufferFromFlatData(e, p.xq, batch, seq, k)
	wq := BufferFromFlatData(e, p.wq, n, k)
	xScale := BufferFromFlatData(e, p.xScale, batch*seq)
	wScale := BufferFromFlatData(e, p.wScale, n)
	y := BufferFromFlatData(e, make([]float16.Float16, batch*seq*n), batch*seq, n)

	require.NoError(t, s.GemmA8W8(params, xq, wq, xScale, wScale, y))
	s.Synchronize()
	assertGemmMatches(t, p, y, dtypes.Float16)
}

func TestGemmA8W8_UnsupportedShapes(t *testing.T) {
	e := New()
	s := e.DefaultStream()
	rng := rand.New(rand.NewPCG(13, 14))

	params := testTileParams()
	params.KPadded = true
	p := makeGemmTestProblem(rng, 8, 32, 16)
	xq, wq, xScale, wScale, y := p.buffers(e, dtypes.Float16)

	check := func(err error) {
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnsupportedShape), "expected ErrUnsupportedShape, got: %v", err)
	}

	// Wrong operand dtype.
	badXq := BufferFromFlatData(e, make([]float32, 8*16), 8, 16)
	check(s.GemmA8W8(params, badXq, wq, xScale, wScale, y))

	// Rank too small.
	badWq := BufferFromFlatData(e, make([]int8, 16), 16)
	check(s.GemmA8W8(params, xq, badWq, xScale, wScale, y))

	// Mismatched contracting dimensions.
	badWq2 := BufferFromFlatData(e, make([]int8, 32*24), 32, 24)
	check(s.GemmA8W8(params, xq, badWq2, xScale, wScale, y))

	// Wrong scale length.
	badXScale := BufferFromFlatData(e, make([]float32, 9), 9)
	check(s.GemmA8W8(params, xq, wq, badXScale, wScale, y))

	// Wrong scale dtype.
	badWScale := BufferFromFlatData(e, make([]int32, 32), 32)
	check(s.GemmA8W8(params, xq, wq, xScale, badWScale, y))

	// Wrong output dtype.
	badY := BufferFromFlatData(e, make([]float32, 8*32), 8, 32)
	check(s.GemmA8W8(params, xq, wq, xScale, wScale, badY))

	// Wrong output dimensions.
	badY2 := BufferFromFlatData(e, make([]float16.Float16, 32*8), 32, 8)
	check(s.GemmA8W8(params, xq, wq, xScale, wScale, badY2))

	// N not a multiple of the output vector width.
	p2 := makeGemmTestProblem(rng, 8, 30, 16)
	xq2, wq2, xScale2, wScale2, y2 := p2.buffers(e, dtypes.Float16)
	check(s.GemmA8W8(params, xq2, wq2, xScale2, wScale2, y2))

	// Unsupported split-K factor.
	badParams := params
	badParams.SplitK = 3
	check(s.GemmA8W8(badParams, xq, wq, xScale, wScale, y))

	// Finalized buffer.
	require.NoError(t, e.Finalize(y))
	check(s.GemmA8W8(params, xq, wq, xScale, wScale, y))
}

func TestGemmA8W8_NoParallelism(t *testing.T) {
	// The sequential path (parallelism disabled) must agree with the parallel one.
	e := New()
	e.SetMaxParallelism(0)
	s := e.DefaultStream()
	rng := rand.New(rand.NewPCG(15, 16))

	params := testTileParams()
	params.KPadded = true
	p := makeGemmTestProblem(rng, 33, 64, 70)
	y := runGemm(t, s, params, p, dtypes.BFloat16)
	assertGemmMatches(t, p, y, dtypes.BFloat16)
}
