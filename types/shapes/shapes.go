// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape, the metadata (DType and dimensions) attached to
// every buffer handled by the quantgemm engine.
//
// The DType enumeration comes from github.com/gomlx/gopjrt/dtypes. Float16
// support uses the github.com/x448/float16 implementation, and bfloat16 uses
// github.com/gomlx/gopjrt/dtypes/bfloat16.
//
// Glossary:
//
//   - Rank: number of axes (dimensions) of a buffer.
//   - Axis: the index of a dimension. Negative axes count from the end, so
//     axis=-1 refers to the last axis -- the contracting (K) axis for the
//     quantized weight buffers handled here.
//   - Dimension: the size of one axis.
package shapes

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gopjrt/dtypes"
)

// Shape represents the shape (DType and dimensions) of a buffer.
//
// Use Make to create a new Shape.
type Shape struct {
	DType      DType
	Dimensions []int
}

// Make returns a Shape structure filled with the values given.
func Make(dtype DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	for _, dim := range dimensions {
		if dim <= 0 {
			exceptions.Panicf("shapes.Make(%s): cannot create a shape with an axis with dimension <= 0", s)
		}
	}
	return s
}

// Scalar returns a scalar Shape for the given type.
func Scalar[T Number]() Shape {
	return Shape{DType: FromGenericsType[T]()}
}

// Invalid returns an invalid shape.
//
// Invalid().Ok() == false.
func Invalid() Shape {
	return Shape{DType: InvalidDType}
}

// Ok returns whether this is a valid Shape. A "zero" Shape{} is invalid.
func (s Shape) Ok() bool { return s.DType != InvalidDType }

// Rank of the shape, that is, the number of axes.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape represents a scalar: no axes, a single value.
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// Dim returns the dimension of the given axis. axis can take negative numbers, in
// which case it counts from the end -- so axis=-1 refers to the last axis.
// It panics for an out-of-bound axis.
func (s Shape) Dim(axis int) int {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjustedAxis]
}

// Size returns the number of elements of DType needed for this shape.
// It's the product of all dimensions.
func (s Shape) Size() (size int) {
	size = 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return
}

// Memory returns the memory used to store an array of the given shape, in bytes.
func (s Shape) Memory() uintptr {
	return s.DType.Memory() * uintptr(s.Size())
}

// Equal compares two shapes for equality: dtype and dimensions are compared.
func (s Shape) Equal(s2 Shape) bool {
	if s.DType != s2.DType {
		return false
	}
	return s.EqualDimensions(s2)
}

// EqualDimensions compares two shapes for equality of dimensions only.
// DTypes can be different.
func (s Shape) EqualDimensions(s2 Shape) bool {
	if s.Rank() != s2.Rank() {
		return false
	}
	if s.IsScalar() {
		return true
	}
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// Clone returns a new deep copy of the shape.
func (s Shape) Clone() (s2 Shape) {
	s2.DType = s.DType
	s2.Dimensions = slices.Clone(s.Dimensions)
	return
}

// Shape returns a shallow copy of itself. It implements the HasShape interface.
func (s Shape) Shape() Shape { return s }

// String implements fmt.Stringer and pretty-prints the shape.
func (s Shape) String() string {
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	return fmt.Sprintf("(%s)%v", s.DType, s.Dimensions)
}

// HasShape is an interface for objects that have an associated Shape.
type HasShape interface {
	Shape() Shape
}

// CheckDims checks that the shape has the given dimensions and rank.
// A value of -1 in dimensions means it can take any value and is not checked.
//
// It returns an error if the rank is different or any of the dimensions.
func (s Shape) CheckDims(dimensions ...int) error {
	if s.Rank() != len(dimensions) {
		return fmt.Errorf("shape (%s) has incompatible rank %d -- wanted %d", s, s.Rank(), len(dimensions))
	}
	for axis, wanted := range dimensions {
		if wanted != -1 && wanted != s.Dimensions[axis] {
			return fmt.Errorf("shape (%s) axis %d has dimension %d -- wanted %d", s, axis, s.Dimensions[axis], wanted)
		}
	}
	return nil
}

// Check that the shape has the given dtype, dimensions and rank.
// A value of -1 in dimensions means it can take any value and is not checked.
func (s Shape) Check(dtype DType, dimensions ...int) error {
	if s.DType != dtype {
		return fmt.Errorf("shape (%s) has dtype %s -- wanted %s", s, s.DType, dtype)
	}
	return s.CheckDims(dimensions...)
}

// ConcatenateDimensions of two shapes. The resulting rank is the sum of both ranks.
// They must have the same dtype; if any of them is invalid, the returned shape is invalid.
func ConcatenateDimensions(s1, s2 Shape) (shape Shape) {
	if !s1.Ok() || !s2.Ok() || s1.DType != s2.DType {
		return Invalid()
	}
	shape = Shape{
		DType:      s1.DType,
		Dimensions: make([]int, 0, s1.Rank()+s2.Rank()),
	}
	shape.Dimensions = append(shape.Dimensions, s1.Dimensions...)
	shape.Dimensions = append(shape.Dimensions, s2.Dimensions...)
	return
}
