// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/quantgemm/engine"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// DispatchFn is the caller-facing entry point of one (configuration, split-K)
// kernel instance: it launches the quantized GEMM
//
//	y = dequant(xq × wqᵀ, xScale, wScale)
//
// on the stream and returns y for chaining. y is written in place once the
// stream reaches the launch; xq, wq, the scales and y are owned by the caller,
// which must not touch y until the stream is synchronized.
//
// Errors (always synchronous, wrapping engine.ErrUnsupportedShape) propagate
// from the engine unchanged; a failed dispatch is fatal for that call and
// deterministic, so there are no retries.
type DispatchFn func(st *engine.Stream, xq, wq, xScale, wScale, y *engine.Buffer) (*engine.Buffer, error)

// DTypeOf returns the dtype of the output element type parameter.
func DTypeOf[T engine.OutputTypesConstraints]() dtypes.DType {
	var value T
	switch any(value).(type) {
	case float16.Float16:
		return dtypes.Float16
	case bfloat16.BFloat16:
		return dtypes.BFloat16
	}
	return dtypes.InvalidDType
}

// Dispatch builds the caller-facing function for one tile configuration and
// split-K factor, instantiated for the output element type T.
//
// The returned function resolves the specialization per call:
//
//  1. Read K from the last axis of the weight buffer.
//  2. Compute the effective tile KPerBlock×splitK.
//  3. Select KPadded when K is not a multiple of it, Exact otherwise.
//  4. Forward the call, with the split factor, to the engine.
//
// The decision is stateless: nothing survives across invocations.
//
// T is fixed at build time, matching the per-type compiled instances of the
// configuration; calling the T=Float16 instance with a BFloat16 output buffer
// is a caller contract violation, reported by the engine, not here.
func Dispatch[T engine.OutputTypesConstraints](cfg *TileConfig, splitK int) DispatchFn {
	dtype := DTypeOf[T]()
	return func(st *engine.Stream, xq, wq, xScale, wScale, y *engine.Buffer) (*engine.Buffer, error) {
		if splitK > 1 && !cfg.AllowSplitK {
			return nil, errors.Wrapf(engine.ErrUnsupportedShape,
				"tile configuration %s is not compiled with split-K support", cfg.Name)
		}
		if !wq.Ok() || wq.Shape().Rank() < 2 {
			return nil, errors.Wrap(engine.ErrUnsupportedShape,
				"weight buffer must be rank ≥ 2 with K on the last axis")
		}
		k := wq.Shape().Dim(-1)
		variant := cfg.VariantForK(k, splitK)
		klog.V(1).Infof("dispatch %s: K=%d splitK=%d -> %s (%s)", cfg.Name, k, splitK, variant, dtype)

		err := st.GemmA8W8(engine.GemmParams{
			MPerBlock:    cfg.MPerBlock,
			NPerBlock:    cfg.NPerBlock,
			KPerBlock:    cfg.KPerBlock,
			NVectorWidth: cfg.CShuffleVectorWidth,
			KVectorWidth: cfg.BBlockTransferVectorWidth,
			KPadded:      variant == KPadded,
			SplitK:       splitK,
		}, xq, wq, xScale, wScale, y)
		if err != nil {
			return nil, errors.WithMessagef(err, "dispatching %s (splitK=%d, %s)", cfg.Name, splitK, dtype)
		}
		return y, nil
	}
}
