package engine

import (
	"reflect"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/quantgemm/types/shapes"
	"github.com/pkg/errors"
)

// Buffer holds a shape and a reference to the flat data.
//
// Buffers are owned by the caller: the engine only reads shape metadata and
// the flat data during a dispatch, and never frees a caller's buffer on its
// own. Finalize returns a buffer to the engine pool for reuse.
type Buffer struct {
	shape shapes.Shape
	valid bool

	// flat is always a slice of the underlying data type (shape.DType).
	flat any
}

// Shape of the buffer.
func (b *Buffer) Shape() shapes.Shape { return b.shape }

// Ok returns whether the buffer is valid: not yet finalized and with a valid shape.
func (b *Buffer) Ok() bool { return b != nil && b.valid && b.shape.Ok() }

// Flat returns the raw flat data of the buffer, a slice of the Go type matching
// the buffer dtype.
func (b *Buffer) Flat() any { return b.flat }

// FlatOf returns the typed flat data of the buffer.
// It panics if T doesn't match the buffer dtype.
func FlatOf[T SupportedTypesConstraints](b *Buffer) []T {
	flat, ok := b.flat.([]T)
	if !ok {
		exceptions.Panicf("buffer holds %s, cannot view it as %T", b.shape, flat)
	}
	return flat
}

// Zeros sets all values of the buffer to zero.
func (b *Buffer) Zeros() {
	switch flat := b.flat.(type) {
	case []int8:
		clear(flat)
	case []int32:
		clear(flat)
	case []float32:
		clear(flat)
	default:
		// 16-bit float encodings and anything else: zero the underlying bytes.
		v := reflect.ValueOf(b.flat)
		v.Clear()
	}
}

type bufferPoolKey struct {
	dtype  dtypes.DType
	length int
}

// getBufferPool for given dtype/length.
func (e *Engine) getBufferPool(dtype dtypes.DType, length int) *sync.Pool {
	key := bufferPoolKey{dtype: dtype, length: length}
	poolInterface, ok := e.bufferPools.Load(key)
	if !ok {
		poolInterface, _ = e.bufferPools.LoadOrStore(key, &sync.Pool{
			New: func() interface{} {
				return &Buffer{
					flat:  reflect.MakeSlice(reflect.SliceOf(dtype.GoType()), length, length).Interface(),
					shape: shapes.Make(dtype, length),
				}
			},
		})
	}
	return poolInterface.(*sync.Pool)
}

// getBuffer from the engine pool of buffers.
func (e *Engine) getBuffer(dtype dtypes.DType, length int) *Buffer {
	pool := e.getBufferPool(dtype, length)
	buf := pool.Get().(*Buffer)
	buf.valid = true
	return buf
}

// putBuffer back into the engine pool of buffers.
// After this any references to the buffer should be dropped.
func (e *Engine) putBuffer(buffer *Buffer) {
	if buffer == nil || !buffer.shape.Ok() {
		return
	}
	buffer.valid = false
	pool := e.getBufferPool(buffer.shape.DType, buffer.shape.Size())
	pool.Put(buffer)
}

// NewBuffer creates a zero-initialized buffer with the given shape.
func (e *Engine) NewBuffer(shape shapes.Shape) *Buffer {
	buffer := e.getBuffer(shape.DType, shape.Size())
	buffer.shape = shape.Clone()
	buffer.Zeros()
	return buffer
}

// BufferFromFlatData creates a buffer with the given dimensions, copying over the
// flat data. The dtype is taken from the flat slice element type.
func BufferFromFlatData[T SupportedTypesConstraints](e *Engine, flat []T, dimensions ...int) *Buffer {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if shape.Size() != len(flat) {
		exceptions.Panicf("BufferFromFlatData: shape %s requires %d values, got %d", shape, shape.Size(), len(flat))
	}
	buffer := e.getBuffer(shape.DType, shape.Size())
	buffer.shape = shape.Clone()
	copy(buffer.flat.([]T), flat)
	return buffer
}

// Finalize informs the engine that the buffer is no longer needed, so the associated
// storage can be reused immediately.
//
// A finalized buffer should never be used again. Preferably, the caller should set
// its references to it to nil.
func (e *Engine) Finalize(buffer *Buffer) error {
	if buffer == nil || buffer.flat == nil || !buffer.shape.Ok() || !buffer.valid {
		var issues []string
		if buffer != nil {
			if buffer.flat == nil {
				issues = append(issues, "buffer.flat was nil")
			}
			if !buffer.shape.Ok() {
				issues = append(issues, "buffer.shape was invalid")
			}
			if !buffer.valid {
				issues = append(issues, "buffer was marked as invalid")
			}
		} else {
			issues = append(issues, "buffer was nil")
		}
		return errors.Errorf("Finalize(%p): %s -- buffer was already finalized!?", buffer, strings.Join(issues, ", "))
	}
	e.putBuffer(buffer)
	return nil
}
