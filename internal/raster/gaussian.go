package raster

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// gaussianTruncate is the kernel half-width in standard deviations.
const gaussianTruncate = 4.0

// GaussianFilter smooths a row-major rows×cols raster with a separable
// Gaussian of standard deviation sigma (in cells). Boundaries are handled by
// half-sample reflection (d c b a | a b c d | d c b a). A sigma of zero
// returns an unmodified copy.
func GaussianFilter(data []float64, rows, cols int, sigma float64) []float64 {
	out := append([]float64(nil), data...)
	if sigma <= 1e-15 || rows == 0 || cols == 0 {
		return out
	}
	kernel := gaussianKernel(sigma)

	line := make([]float64, max(rows, cols))
	// Along latitude (axis 0), then longitude (axis 1).
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			line[r] = out[r*cols+c]
		}
		smoothed := correlate(line[:rows], kernel)
		for r := 0; r < rows; r++ {
			out[r*cols+c] = smoothed[r]
		}
	}
	for r := 0; r < rows; r++ {
		copy(line[:cols], out[r*cols:(r+1)*cols])
		copy(out[r*cols:(r+1)*cols], correlate(line[:cols], kernel))
	}
	return out
}

// gaussianKernel returns the normalized 1-D kernel of radius int(4σ+0.5).
func gaussianKernel(sigma float64) []float64 {
	radius := int(gaussianTruncate*sigma + 0.5)
	kernel := make([]float64, 2*radius+1)
	for i := range kernel {
		x := float64(i - radius)
		kernel[i] = math.Exp(-0.5 * x * x / (sigma * sigma))
	}
	floats.Scale(1/floats.Sum(kernel), kernel)
	return kernel
}

// correlate applies kernel to line with reflect boundary handling.
func correlate(line, kernel []float64) []float64 {
	n := len(line)
	radius := len(kernel) / 2
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var acc float64
		for k, w := range kernel {
			acc += w * line[reflect(i+k-radius, n)]
		}
		out[i] = acc
	}
	return out
}

// reflect maps an out-of-range index into [0, n) by half-sample symmetry.
func reflect(i, n int) int {
	period := 2 * n
	m := i % period
	if m < 0 {
		m += period
	}
	if m >= n {
		m = period - m - 1
	}
	return m
}
