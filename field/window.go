package field

import "math"

// RectWindow weights n steps equally
func RectWindow(n int) []float32 {
	w := make([]float32, n)
	for i := range w {
		w[i] = 1
	}
	return w
}

// HannWindow returns the n point Hann window
func HannWindow(n int) []float32 {
	return cosineWindow(n, 0.5, 0.5)
}

// HammingWindow returns the n point Hamming window
func HammingWindow(n int) []float32 {
	return cosineWindow(n, 0.54, 0.46)
}

func cosineWindow(n int, a0, a1 float64) []float32 {
	w := make([]float32, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = float32(a0 - a1*math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}
