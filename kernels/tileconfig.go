// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kernels holds the family of compiled tile configurations for the
// rowwise-quantized GEMM and the shape-aware dispatch that selects, per call,
// the specialization to launch on the engine.
//
// A TileConfig is compile-time data: it describes how one kernel instance
// partitions work across blocks, waves and threads. The instance family is
// enumerated as a table (see instances.go); Dispatch builds the caller-facing
// function for one (configuration, split-K factor) pair, generic over the
// output element type.
package kernels

import (
	"fmt"
)

// Scheduler selects the pipeline scheduling strategy of a kernel instance.
type Scheduler int

const (
	// Intrawave overlaps memory and math stages within a wave.
	Intrawave Scheduler = iota
	// Interwave overlaps stages across waves.
	Interwave
)

// String implements fmt.Stringer.
func (s Scheduler) String() string {
	switch s {
	case Intrawave:
		return "Intrawave"
	case Interwave:
		return "Interwave"
	}
	return fmt.Sprintf("Scheduler(%d)", int(s))
}

// PipelineVersion selects the software-pipelining variant of a kernel instance.
type PipelineVersion int

const (
	PipelineV1 PipelineVersion = iota + 1
	PipelineV2
	PipelineV3
	PipelineV4
	PipelineV5
)

// String implements fmt.Stringer.
func (p PipelineVersion) String() string { return fmt.Sprintf("v%d", int(p)) }

// Variant is the per-call specialization of a tile configuration.
//
// The two variants of one configuration are distinct compiled entities sharing
// all parameters except the handling of a ragged final reduction tile.
type Variant int

const (
	// Exact assumes the reduction dimension is a whole number of effective
	// tiles. It skips all tail handling, so launching it on a ragged K is
	// undefined behavior on a device -- the engine rejects it up front.
	Exact Variant = iota

	// KPadded safely handles a reduction dimension that is not evenly
	// divisible by the effective tile width.
	KPadded
)

// String implements fmt.Stringer.
func (v Variant) String() string {
	switch v {
	case Exact:
		return "Exact"
	case KPadded:
		return "KPadded"
	}
	return fmt.Sprintf("Variant(%d)", int(v))
}

// TileConfig is the immutable compile-time description of one kernel instance.
//
// Name follows the "BlockSize x MPerBlock x NPerBlock x KPerBlock" convention,
// e.g. "256x32x256x128". One TileConfig exists per compiled instance; it never
// changes at runtime.
type TileConfig struct {
	Name string

	// BlockSize is the number of threads per block.
	BlockSize int

	// Block-tile extents.
	MPerBlock, NPerBlock, KPerBlock int

	// Per-wave tile shape.
	WaveTileM, WaveTileN int

	// Repeat counts: how many wave tiles each wave computes per block tile.
	MRepeat, NRepeat int

	// Thread-cluster layouts of the two source-to-shared transfers,
	// as [K0, MN, K1] lengths.
	AThreadCluster, BThreadCluster [3]int

	// Vectorized-access widths of the two source-to-shared transfers.
	ABlockTransferVectorWidth, BBlockTransferVectorWidth int

	// CShuffleVectorWidth is the vector-access width of the output transfer;
	// N must be a multiple of it.
	CShuffleVectorWidth int

	// Pipeline scheduling of the instance.
	Scheduler Scheduler
	Pipeline  PipelineVersion

	// AllowSplitK marks the instances also compiled with split-K factors 2 and 4.
	AllowSplitK bool
}

// String implements fmt.Stringer.
func (cfg *TileConfig) String() string {
	return fmt.Sprintf("%s_%dx%d_%dx%d_%s_%s", cfg.Name,
		cfg.WaveTileM, cfg.WaveTileN, cfg.MRepeat, cfg.NRepeat, cfg.Scheduler, cfg.Pipeline)
}

// VariantForK returns the specialization to use for reduction dimension k under
// the given split-K factor.
//
// Each split handles a proportionally larger logical tile, so the padding test
// must use KPerBlock×splitK as the divisor: KPadded must be chosen whenever
// k is not a multiple of it. This is a correctness invariant, not a performance
// heuristic -- an Exact launch on a ragged K reads out of bounds on a device.
func (cfg *TileConfig) VariantForK(k, splitK int) Variant {
	effectiveTile := cfg.KPerBlock * splitK
	if k%effectiveTile != 0 {
		return KPadded
	}
	return Exact
}
