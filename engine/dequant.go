package engine

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// dequantStoreFunc applies the rowwise dequantization to the int32 accumulator
// plane and stores the result into the output buffer:
//
//	y[row, col] = cast(float32(acc[row, col]) × xScale[row] × wScale[col])
//
// Accumulation happened in int32 and the scaling in float32; only the final
// store narrows to the 16-bit output encoding, mirroring the rule of keeping
// intermediary results in a wider type.
type dequantStoreFunc func(acc []int32, xScale, wScale []float32, y *Buffer)

var gemmA8W8DequantDTypeMap = NewDTypeMap("GemmA8W8DequantStore")

func init() {
	gemmA8W8DequantDTypeMap.Register(dtypes.Float16, dequantStoreFunc(dequantStoreFloat16))
	gemmA8W8DequantDTypeMap.Register(dtypes.BFloat16, dequantStoreFunc(dequantStoreBFloat16))
}

// dequantStoreFloat16 is the Float16 instantiation of the dequantize-and-store stage.
func dequantStoreFloat16(acc []int32, xScale, wScale []float32, y *Buffer) {
	yFlat := y.flat.([]float16.Float16)
	n := len(wScale)
	idx := 0
	for _, rowScale := range xScale {
		for col := range n {
			yFlat[idx] = float16.Fromfloat32(float32(acc[idx]) * rowScale * wScale[col])
			idx++
		}
	}
}

// dequantStoreBFloat16 is the BFloat16 instantiation of the dequantize-and-store stage.
func dequantStoreBFloat16(acc []int32, xScale, wScale []float32, y *Buffer) {
	yFlat := y.flat.([]bfloat16.BFloat16)
	n := len(wScale)
	idx := 0
	for _, rowScale := range xScale {
		for col := range n {
			yFlat[idx] = bfloat16.FromFloat32(float32(acc[idx]) * rowScale * wScale[col])
			idx++
		}
	}
}
