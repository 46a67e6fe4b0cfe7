package engine

// This file contains the int8×int8→int32 tile kernels behind GemmA8W8.
//
// A kernel instance computes one [MPerBlock, NPerBlock] output tile over a
// contiguous K range, accumulating in int32 to avoid overflow. Both operands
// are K-contiguous (xq is [M, K] row-major, wq is [N, K] row-major), so the
// inner loops are plain dot products, unrolled 4 output columns × 8
// contracting steps at a time.
//
// The two specializations share all parameters except the handling of the
// final K tile:
//
//   - Exact assumes the K range is a whole number of KPerBlock tiles and runs
//     no tail logic at all. Launching it on a ragged K range reads the wrong
//     data, which is why the executor validates the alignment up front.
//   - Padded clamps the final tile, paying a tail loop per dot product.

// tileKernelFunc computes the output tile at the given block coordinates.
type tileKernelFunc func(mBlock, nBlock int)

// buildA8W8TileKernelExact returns the Exact specialization over [kStart, kEnd).
// kEnd-kStart must be a multiple of KPerBlock, and KPerBlock a multiple of 8.
func buildA8W8TileKernelExact(xqFlat, wqFlat []int8, accFlat []int32,
	params GemmParams, m, n, k, kStart, kEnd int) tileKernelFunc {
	return func(mBlock, nBlock int) {
		mStart := mBlock * params.MPerBlock
		mEnd := min(mStart+params.MPerBlock, m)
		nStart := nBlock * params.NPerBlock
		nEnd := min(nStart+params.NPerBlock, n)

		for k0 := kStart; k0 < kEnd; k0 += params.KPerBlock {
			for row := mStart; row < mEnd; row++ {
				xqRow := xqFlat[row*k:]
				accRow := accFlat[row*n:]
				// 4 output columns at a time; N and NPerBlock are multiples of 4.
				for col := nStart; col < nEnd; col += 4 {
					wqRow0 := wqFlat[col*k:]
					wqRow1 := wqFlat[(col+1)*k:]
					wqRow2 := wqFlat[(col+2)*k:]
					wqRow3 := wqFlat[(col+3)*k:]
					sum0 := accRow[col]
					sum1 := accRow[col+1]
					sum2 := accRow[col+2]
					sum3 := accRow[col+3]
					// Full tile: unrolled 8 at a time, no tail.
					for kk := k0; kk < k0+params.KPerBlock; kk += 8 {
						for i := kk; i < kk+8; i++ {
							xqVal := int32(xqRow[i])
							sum0 += xqVal * int32(wqRow0[i])
							sum1 += xqVal * int32(wqRow1[i])
							sum2 += xqVal * int32(wqRow2[i])
							sum3 += xqVal * int32(wqRow3[i])
						}
					}
					accRow[col] = sum0
					accRow[col+1] = sum1
					accRow[col+2] = sum2
					accRow[col+3] = sum3
				}
			}
		}
	}
}

// buildA8W8TileKernelPadded returns the KPadded specialization over [kStart, kEnd):
// same as Exact except the final K tile may be ragged.
func buildA8W8TileKernelPadded(xqFlat, wqFlat []int8, accFlat []int32,
	params GemmParams, m, n, k, kStart, kEnd int) tileKernelFunc {
	return func(mBlock, nBlock int) {
		mStart := mBlock * params.MPerBlock
		mEnd := min(mStart+params.MPerBlock, m)
		nStart := nBlock * params.NPerBlock
		nEnd := min(nStart+params.NPerBlock, n)

		for k0 := kStart; k0 < kEnd; k0 += params.KPerBlock {
			kTileEnd := min(k0+params.KPerBlock, kEnd)
			for row := mStart; row < mEnd; row++ {
				xqRow := xqFlat[row*k:]
				accRow := accFlat[row*n:]
				for col := nStart; col < nEnd; col += 4 {
					wqRow0 := wqFlat[col*k:]
					wqRow1 := wqFlat[(col+1)*k:]
					wqRow2 := wqFlat[(col+2)*k:]
					wqRow3 := wqFlat[(col+3)*k:]
					sum0 := accRow[col]
					sum1 := accRow[col+1]
					sum2 := accRow[col+2]
					sum3 := accRow[col+3]
					kk := k0
					for ; kk+8 <= kTileEnd; kk += 8 {
						for i := kk; i < kk+8; i++ {
							xqVal := int32(xqRow[i])
							sum0 += xqVal * int32(wqRow0[i])
							sum1 += xqVal * int32(wqRow1[i])
							sum2 += xqVal * int32(wqRow2[i])
							sum3 += xqVal * int32(wqRow3[i])
						}
					}
					// Ragged final tile.
					for ; kk < kTileEnd; kk++ {
						xqVal := int32(xqRow[kk])
						sum0 += xqVal * int32(wqRow0[kk])
						sum1 += xqVal * int32(wqRow1[kk])
						sum2 += xqVal * int32(wqRow2[kk])
						sum3 += xqVal * int32(wqRow3[kk])
					}
					accRow[col] = sum0
					accRow[col+1] = sum1
					accRow[col+2] = sum2
					accRow[col+3] = sum3
				}
			}
		}
	}
}
