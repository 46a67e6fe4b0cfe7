package engine

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// MaxDTypes is the size of the dtype-indexed dispatch tables.
const MaxDTypes = 32

// DTypeMap maps a dtype to an arbitrary function (stored as any), usually a
// specialized instantiation of a generic kernel stage. Callers Get the entry
// and cast it back to the concrete function type.
type DTypeMap struct {
	Name  string
	fnMap [MaxDTypes]any
}

// NewDTypeMap creates a new map for a class of functions.
func NewDTypeMap(name string) *DTypeMap {
	return &DTypeMap{Name: name}
}

// Get the function registered for the dtype. It panics if the dtype is not registered.
func (m *DTypeMap) Get(dtype dtypes.DType) any {
	if dtype >= MaxDTypes {
		exceptions.Panicf("dtype %s not supported by %s", dtype, m.Name)
	}
	fn := m.fnMap[dtype]
	if fn == nil {
		exceptions.Panicf("dtype %s not supported by %s", dtype, m.Name)
	}
	return fn
}

// HasDType returns whether the dtype is registered.
func (m *DTypeMap) HasDType(dtype dtypes.DType) bool {
	return dtype < MaxDTypes && m.fnMap[dtype] != nil
}

// Register a function to handle a specific dtype.
// This overwrites any previous setting for the same dtype.
func (m *DTypeMap) Register(dtype dtypes.DType, fn any) {
	if dtype >= MaxDTypes {
		exceptions.Panicf("dtype %s not supported by %s", dtype, m.Name)
	}
	m.fnMap[dtype] = fn
}

// SupportedTypesConstraints enumerates the buffer element types supported by the engine:
// quantized operands, accumulators, scales and the two 16-bit float output encodings.
type SupportedTypesConstraints interface {
	int8 | int32 | float32 | float16.Float16 | bfloat16.BFloat16
}

// OutputTypesConstraints enumerates the supported GEMM output element types.
type OutputTypesConstraints interface {
	float16.Float16 | bfloat16.BFloat16
}
