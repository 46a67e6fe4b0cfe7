// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"github.com/gomlx/exceptions"
)

// Instances is the family of compiled tile configurations, one entry per
// kernel instance. The table is ordered roughly from compute-bound (large
// MPerBlock) to skinny/reduction-bound (small MPerBlock) shapes; the skinny
// entries are the ones also compiled with split-K factors.
//
// Which instance to pick for a given (M, N, K) is up to the calling layer;
// DefaultInstance is a reasonable middle-ground fallback.
var Instances = []*TileConfig{
	{
		Name:      "256x256x256x64",
		BlockSize: 256, MPerBlock: 256, NPerBlock: 256, KPerBlock: 64,
		WaveTileM: 32, WaveTileN: 32, MRepeat: 4, NRepeat: 4,
		AThreadCluster: [3]int{4, 64, 1}, BThreadCluster: [3]int{4, 64, 1},
		ABlockTransferVectorWidth: 16, BBlockTransferVectorWidth: 16,
		CShuffleVectorWidth: 8,
		Scheduler:           Intrawave, Pipeline: PipelineV3,
	},
	{
		Name:      "256x256x224x64",
		BlockSize: 256, MPerBlock: 256, NPerBlock: 224, KPerBlock: 64,
		WaveTileM: 32, WaveTileN: 32, MRepeat: 4, NRepeat: 7,
		AThreadCluster: [3]int{4, 64, 1}, BThreadCluster: [3]int{4, 64, 1},
		ABlockTransferVectorWidth: 16, BBlockTransferVectorWidth: 16,
		CShuffleVectorWidth: 4,
		Scheduler:           Intrawave, Pipeline: PipelineV3,
	},
	{
		Name:      "256x256x128x64",
		BlockSize: 256, MPerBlock: 256, NPerBlock: 128, KPerBlock: 64,
		WaveTileM: 32, WaveTileN: 32, MRepeat: 4, NRepeat: 2,
		AThreadCluster: [3]int{4, 64, 1}, BThreadCluster: [3]int{4, 64, 1},
		ABlockTransferVectorWidth: 16, BBlockTransferVectorWidth: 16,
		CShuffleVectorWidth: 8,
		Scheduler:           Intrawave, Pipeline: PipelineV3,
	},
	{
		Name:      "256x128x256x64",
		BlockSize: 256, MPerBlock: 128, NPerBlock: 256, KPerBlock: 64,
		WaveTileM: 32, WaveTileN: 32, MRepeat: 2, NRepeat: 4,
		AThreadCluster: [3]int{4, 64, 1}, BThreadCluster: [3]int{4, 64, 1},
		ABlockTransferVectorWidth: 16, BBlockTransferVectorWidth: 16,
		CShuffleVectorWidth: 8,
		Scheduler:           Intrawave, Pipeline: PipelineV3,
	},
	{
		Name:      "256x128x128x128",
		BlockSize: 256, MPerBlock: 128, NPerBlock: 128, KPerBlock: 128,
		WaveTileM: 32, WaveTileN: 32, MRepeat: 2, NRepeat: 2,
		AThreadCluster: [3]int{8, 32, 1}, BThreadCluster: [3]int{8, 32, 1},
		ABlockTransferVectorWidth: 16, BBlockTransferVectorWidth: 16,
		CShuffleVectorWidth: 8,
		Scheduler:           Intrawave, Pipeline: PipelineV3,
		AllowSplitK:         true,
	},
	{
		Name:      "256x128x64x128",
		BlockSize: 256, MPerBlock: 128, NPerBlock: 64, KPerBlock: 128,
		WaveTileM: 32, WaveTileN: 32, MRepeat: 2, NRepeat: 1,
		AThreadCluster: [3]int{8, 32, 1}, BThreadCluster: [3]int{8, 32, 1},
		ABlockTransferVectorWidth: 16, BBlockTransferVectorWidth: 16,
		CShuffleVectorWidth: 8,
		Scheduler:           Intrawave, Pipeline: PipelineV3,
	},
	{
		Name:      "256x64x128x128",
		BlockSize: 256, MPerBlock: 64, NPerBlock: 128, KPerBlock: 128,
		WaveTileM: 32, WaveTileN: 32, MRepeat: 1, NRepeat: 2,
		AThreadCluster: [3]int{8, 32, 1}, BThreadCluster: [3]int{8, 32, 1},
		ABlockTransferVectorWidth: 16, BBlockTransferVectorWidth: 16,
		CShuffleVectorWidth: 8,
		Scheduler:           Intrawave, Pipeline: PipelineV3,
		AllowSplitK:         true,
	},
	{
		Name:      "256x32x256x128",
		BlockSize: 256, MPerBlock: 32, NPerBlock: 256, KPerBlock: 128,
		WaveTileM: 32, WaveTileN: 32, MRepeat: 1, NRepeat: 2,
		AThreadCluster: [3]int{8, 32, 1}, BThreadCluster: [3]int{8, 32, 1},
		ABlockTransferVectorWidth: 16, BBlockTransferVectorWidth: 16,
		CShuffleVectorWidth: 8,
		Scheduler:           Intrawave, Pipeline: PipelineV3,
		AllowSplitK:         true,
	},
	{
		Name:      "256x32x128x128",
		BlockSize: 256, MPerBlock: 32, NPerBlock: 128, KPerBlock: 128,
		WaveTileM: 32, WaveTileN: 32, MRepeat: 1, NRepeat: 1,
		AThreadCluster: [3]int{8, 32, 1}, BThreadCluster: [3]int{8, 32, 1},
		ABlockTransferVectorWidth: 16, BBlockTransferVectorWidth: 16,
		CShuffleVectorWidth: 8,
		Scheduler:           Interwave, Pipeline: PipelineV1,
		AllowSplitK:         true,
	},
	{
		Name:      "256x16x256x128",
		BlockSize: 256, MPerBlock: 16, NPerBlock: 256, KPerBlock: 128,
		WaveTileM: 16, WaveTileN: 16, MRepeat: 1, NRepeat: 4,
		AThreadCluster: [3]int{8, 16, 1}, BThreadCluster: [3]int{8, 16, 1},
		ABlockTransferVectorWidth: 16, BBlockTransferVectorWidth: 16,
		CShuffleVectorWidth: 8,
		Scheduler:           Interwave, Pipeline: PipelineV1,
		AllowSplitK:         true,
	},
	{
		Name:      "256x16x128x128",
		BlockSize: 256, MPerBlock: 16, NPerBlock: 128, KPerBlock: 128,
		WaveTileM: 16, WaveTileN: 16, MRepeat: 1, NRepeat: 2,
		AThreadCluster: [3]int{8, 16, 1}, BThreadCluster: [3]int{8, 16, 1},
		ABlockTransferVectorWidth: 16, BBlockTransferVectorWidth: 16,
		CShuffleVectorWidth: 8,
		Scheduler:           Interwave, Pipeline: PipelineV1,
		AllowSplitK:         true,
	},
	{
		Name:      "256x16x64x256",
		BlockSize: 256, MPerBlock: 16, NPerBlock: 64, KPerBlock: 256,
		WaveTileM: 16, WaveTileN: 16, MRepeat: 1, NRepeat: 1,
		AThreadCluster: [3]int{16, 16, 1}, BThreadCluster: [3]int{16, 16, 1},
		ABlockTransferVectorWidth: 16, BBlockTransferVectorWidth: 16,
		CShuffleVectorWidth: 4,
		Scheduler:           Interwave, Pipeline: PipelineV1,
		AllowSplitK:         true,
	},
	{
		Name:      "128x32x64x128",
		BlockSize: 128, MPerBlock: 32, NPerBlock: 64, KPerBlock: 128,
		WaveTileM: 32, WaveTileN: 32, MRepeat: 1, NRepeat: 1,
		AThreadCluster: [3]int{8, 16, 1}, BThreadCluster: [3]int{8, 16, 1},
		ABlockTransferVectorWidth: 16, BBlockTransferVectorWidth: 16,
		CShuffleVectorWidth: 4,
		Scheduler:           Interwave, Pipeline: PipelineV1,
	},
	{
		Name:      "128x16x32x256",
		BlockSize: 128, MPerBlock: 16, NPerBlock: 32, KPerBlock: 256,
		WaveTileM: 16, WaveTileN: 16, MRepeat: 1, NRepeat: 1,
		AThreadCluster: [3]int{16, 8, 1}, BThreadCluster: [3]int{16, 8, 1},
		ABlockTransferVectorWidth: 16, BBlockTransferVectorWidth: 16,
		CShuffleVectorWidth: 4,
		Scheduler:           Interwave, Pipeline: PipelineV1,
		AllowSplitK:         true,
	},
}

// instancesByName is built once from Instances.
var instancesByName = func() map[string]*TileConfig {
	byName := make(map[string]*TileConfig, len(Instances))
	for _, cfg := range Instances {
		if _, found := byName[cfg.Name]; found {
			exceptions.Panicf("duplicate tile configuration name %q", cfg.Name)
		}
		byName[cfg.Name] = cfg
	}
	return byName
}()

// ByName returns the tile configuration with the given name, or nil if there
// is no such instance.
func ByName(name string) *TileConfig {
	return instancesByName[name]
}

// DefaultInstance is a middle-ground configuration used as a fallback when the
// calling layer has no better information about the problem shape.
var DefaultInstance = ByName("256x128x128x128")
