// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"fmt"
	"sort"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/quantgemm/engine"
	"github.com/x448/float16"
)

// InstanceKey identifies one registered dispatch function: a tile
// configuration by name, a split-K factor and the output element dtype.
type InstanceKey struct {
	Name   string
	SplitK int
	DType  dtypes.DType
}

// String implements fmt.Stringer.
func (key InstanceKey) String() string {
	return fmt.Sprintf("%s/splitK=%d/%s", key.Name, key.SplitK, key.DType)
}

// registry holds one DispatchFn per compiled (configuration, split-K, dtype)
// triple. Built once at init from the Instances table; read-only afterward.
var registry = make(map[InstanceKey]DispatchFn)

// SplitKFactors are the split-K factors instances are compiled with.
// Configurations without AllowSplitK only get factor 1.
var SplitKFactors = []int{1, 2, 4}

func init() {
	for _, cfg := range Instances {
		factors := SplitKFactors
		if !cfg.AllowSplitK {
			factors = factors[:1]
		}
		for _, splitK := range factors {
			registerInstance[float16.Float16](cfg, splitK)
			registerInstance[bfloat16.BFloat16](cfg, splitK)
		}
	}
}

func registerInstance[T engine.OutputTypesConstraints](cfg *TileConfig, splitK int) {
	key := InstanceKey{Name: cfg.Name, SplitK: splitK, DType: DTypeOf[T]()}
	registry[key] = Dispatch[T](cfg, splitK)
}

// Lookup returns the registered dispatch function for the key, or nil if the
// triple was not compiled (unknown name, split-K on a non-split instance, or
// an unsupported output dtype).
func Lookup(key InstanceKey) DispatchFn {
	return registry[key]
}

// Keys returns all registered instance keys, sorted for stable iteration.
func Keys() []InstanceKey {
	keys := make([]InstanceKey, 0, len(registry))
	for key := range registry {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Name != keys[j].Name {
			return keys[i].Name < keys[j].Name
		}
		if keys[i].SplitK != keys[j].SplitK {
			return keys[i].SplitK < keys[j].SplitK
		}
		return keys[i].DType < keys[j].DType
	})
	return keys
}
