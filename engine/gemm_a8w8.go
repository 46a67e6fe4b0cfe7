package engine

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/quantgemm/types/xsync"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrUnsupportedShape is returned when a problem shape violates a precondition of
// the compiled tile configuration being dispatched: misaligned dimensions, dtype
// mismatches or an Exact launch with a ragged reduction dimension.
//
// The failure is deterministic: retrying the same shape on the same configuration
// fails identically, so callers should not retry.
var ErrUnsupportedShape = errors.New("unsupported shape for compiled tile configuration")

// GemmParams carries the compile-time parameters of one tile-configuration
// specialization needed by the executor. The dispatch layer fills it from its
// TileConfig table; it is read-only configuration data, never mutated here.
type GemmParams struct {
	// Block-tile extents of the kernel instance.
	MPerBlock, NPerBlock, KPerBlock int

	// NVectorWidth is the vectorized-access width of the output transfer:
	// N must be a multiple of it.
	NVectorWidth int

	// KVectorWidth is the vectorized-access width of the operand transfers.
	// The Exact specialization requires K to be a multiple of it; the padded
	// one masks its loads instead.
	KVectorWidth int

	// KPadded selects the specialization that handles a ragged final K tile.
	// When false (the Exact specialization), K must be a multiple of
	// KPerBlock×SplitK.
	KPadded bool

	// SplitK is the number of independent partial-K passes the reduction is
	// divided into before the final accumulation. 1 means no split.
	SplitK int
}

// gemmSplitKFactors are the split factors the executor accepts.
var gemmSplitKFactors = map[int]bool{1: true, 2: true, 4: true}

// GemmA8W8 launches a rowwise-scaled quantized GEMM on the stream:
//
//	y[m,n] = cast(float32(Σ_k xq[m,k]·wq[n,k]) × xScale[m] × wScale[n])
//
// Shapes: xq int8 [..., K] with the leading axes flattened to M rows;
// wq int8 [N, K] (rank ≥ 2, K on the last axis); xScale float32 [M];
// wScale float32 [N]; y pre-shaped [M, N] with dtype Float16 or BFloat16.
//
// Validation is synchronous: on an unsupported shape, an error wrapping
// ErrUnsupportedShape is returned and nothing is enqueued. On success the
// kernel is issued on the stream and GemmA8W8 returns immediately; y is
// overwritten in place when the stream reaches the launch.
func (s *Stream) GemmA8W8(params GemmParams, xq, wq, xScale, wScale, y *Buffer) error {
	if params.MPerBlock <= 0 || params.NPerBlock <= 0 || params.KPerBlock <= 0 ||
		params.KPerBlock%8 != 0 || params.NPerBlock%4 != 0 || params.NVectorWidth%4 != 0 {
		return errors.Wrapf(ErrUnsupportedShape, "invalid tile configuration %+v", params)
	}
	if !gemmSplitKFactors[params.SplitK] {
		return errors.Wrapf(ErrUnsupportedShape, "split-K factor %d not supported", params.SplitK)
	}
	for name, b := range map[string]*Buffer{"xq": xq, "wq": wq, "xScale": xScale, "wScale": wScale, "y": y} {
		if !b.Ok() {
			return errors.Wrapf(ErrUnsupportedShape, "buffer %q is invalid or finalized", name)
		}
	}
	if xq.shape.DType != dtypes.Int8 || wq.shape.DType != dtypes.Int8 {
		return errors.Wrapf(ErrUnsupportedShape, "operands must be int8, got xq=%s, wq=%s", xq.shape, wq.shape)
	}
	if xq.shape.Rank() < 2 || wq.shape.Rank() < 2 {
		return errors.Wrapf(ErrUnsupportedShape, "operands must be rank ≥ 2, got xq=%s, wq=%s", xq.shape, wq.shape)
	}
	k := wq.shape.Dim(-1)
	if xq.shape.Dim(-1) != k {
		return errors.Wrapf(ErrUnsupportedShape, "contracting dimensions don't match: xq=%s, wq=%s", xq.shape, wq.shape)
	}
	m := xq.shape.Size() / k
	n := wq.shape.Size() / k
	if err := xScale.shape.Check(dtypes.Float32, m); err != nil {
		return errors.Wrapf(ErrUnsupportedShape, "xScale must be float32[M=%d]: %v", m, err)
	}
	if err := wScale.shape.Check(dtypes.Float32, n); err != nil {
		return errors.Wrapf(ErrUnsupportedShape, "wScale must be float32[N=%d]: %v", n, err)
	}
	if !gemmA8W8DequantDTypeMap.HasDType(y.shape.DType) {
		return errors.Wrapf(ErrUnsupportedShape, "output dtype %s not supported, must be Float16 or BFloat16", y.shape.DType)
	}
	if err := y.shape.CheckDims(m, n); err != nil {
		return errors.Wrapf(ErrUnsupportedShape, "output must be pre-shaped [M=%d, N=%d]: %v", m, n, err)
	}
	if n%params.NVectorWidth != 0 {
		return errors.Wrapf(ErrUnsupportedShape, "N=%d is not a multiple of the output vector width %d", n, params.NVectorWidth)
	}
	// The padded specialization masks its loads, so only the exact one
	// requires K aligned to the operand vector width.
	if !params.KPadded && params.KVectorWidth > 0 && k%params.KVectorWidth != 0 {
		return errors.Wrapf(ErrUnsupportedShape, "K=%d is not a multiple of the operand vector width %d", k, params.KVectorWidth)
	}
	if !params.KPadded && k%(params.KPerBlock*params.SplitK) != 0 {
		return errors.Wrapf(ErrUnsupportedShape,
			"Exact specialization requires K %% (KPerBlock×SplitK) == 0, got K=%d, KPerBlock=%d, SplitK=%d",
			k, params.KPerBlock, params.SplitK)
	}

	dequantFn := gemmA8W8DequantDTypeMap.Get(y.shape.DType).(dequantStoreFunc)
	klog.V(1).Infof("GemmA8W8 launch: M=%d N=%d K=%d tile=%dx%dx%d splitK=%d kPadded=%v out=%s",
		m, n, k, params.MPerBlock, params.NPerBlock, params.KPerBlock, params.SplitK, params.KPadded, y.shape.DType)

	s.Launch(func() {
		s.engine.execGemmA8W8(params, m, n, k, xq, wq, xScale, wScale, y, dequantFn)
	})
	return nil
}

// execGemmA8W8 runs the tiled kernel. It only runs on a stream goroutine.
func (e *Engine) execGemmA8W8(params GemmParams, m, n, k int,
	xq, wq, xScale, wScale, y *Buffer, dequantFn dequantStoreFunc) {
	xqFlat := xq.flat.([]int8)
	wqFlat := wq.flat.([]int8)

	// One int32 accumulator plane per split: partials are fully independent,
	// the final accumulation happens in reduceSplits below.
	splitK := params.SplitK
	accBufs := make([]*Buffer, splitK)
	accFlats := make([][]int32, splitK)
	for split := range splitK {
		accBufs[split] = e.getBuffer(dtypes.Int32, m*n)
		accBufs[split].Zeros()
		accFlats[split] = accBufs[split].flat.([]int32)
	}

	// Each split handles a contiguous K range, in whole KPerBlock tiles except
	// possibly the last tile of the last non-empty split (KPadded only).
	kChunk := alignUp(ceilDiv(k, splitK), params.KPerBlock)

	mBlocks := ceilDiv(m, params.MPerBlock)
	nBlocks := ceilDiv(n, params.NPerBlock)
	klog.V(2).Infof("GemmA8W8 exec: %dx%d tile grid, kChunk=%d per split", mBlocks, nBlocks, kChunk)

	wg := xsync.NewDynamicWaitGroup()
	for split := range splitK {
		kStart := split * kChunk
		kEnd := min(kStart+kChunk, k)
		if kStart >= kEnd {
			continue
		}
		var kernel tileKernelFunc
		if params.KPadded {
			kernel = buildA8W8TileKernelPadded(xqFlat, wqFlat, accFlats[split], params, m, n, k, kStart, kEnd)
		} else {
			kernel = buildA8W8TileKernelExact(xqFlat, wqFlat, accFlats[split], params, m, n, k, kStart, kEnd)
		}
		for mBlock := range mBlocks {
			for nBlock := range nBlocks {
				wg.Add(1)
				tileJob := func() {
					kernel(mBlock, nBlock)
					wg.Done()
				}
				if e.workers.IsEnabled() {
					e.workers.WaitToStart(tileJob)
				} else {
					tileJob()
				}
			}
		}
	}
	wg.Wait()

	reduceSplits(accFlats)
	dequantFn(accFlats[0], xScale.flat.([]float32), wScale.flat.([]float32), y)

	for _, buf := range accBufs {
		e.putBuffer(buf)
	}
}

// reduceSplits accumulates all split partials into accFlats[0].
// Sequential and in split order, so results are deterministic.
func reduceSplits(accFlats [][]int32) {
	acc0 := accFlats[0]
	for _, partial := range accFlats[1:] {
		for i, v := range partial {
			acc0[i] += v
		}
	}
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

func alignUp(a, multiple int) int { return ceilDiv(a, multiple) * multiple }
