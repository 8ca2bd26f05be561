// Package analysis computes offline statistics over recorded goal
// traces: per-joint tracking summaries and the frequency content of the
// error signal, which surfaces oscillation around waypoint steps.
package analysis

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/simbridge/simbridge/internal/storage"
)

// FFT computes the discrete Fourier transform via radix-2
// decimation. The input length must be a power of two; Spectrum pads
// for callers.
func FFT(data []float64) []complex128 {
	n := len(data)
	if n <= 1 {
		out := make([]complex128, n)
		for i := range data {
			out[i] = complex(data[i], 0)
		}
		return out
	}
	if n%2 != 0 {
		panic("fft requires power of 2 length")
	}

	even := make([]float64, n/2)
	odd := make([]float64, n/2)
	for i := 0; i < n/2; i++ {
		even[i] = data[2*i]
		odd[i] = data[2*i+1]
	}
	feven := FFT(even)
	fodd := FFT(odd)

	out := make([]complex128, n)
	for k := 0; k < n/2; k++ {
		w := cmplx.Exp(complex(0, -2*math.Pi*float64(k)/float64(n)))
		out[k] = feven[k] + w*fodd[k]
		out[k+n/2] = feven[k] - w*fodd[k]
	}
	return out
}

// Spectrum returns the magnitude spectrum of data, zero-padded to the
// next power of two. Index i maps to frequency i*sampleRate/n.
func Spectrum(data []float64) []float64 {
	n := 1
	for n < len(data) {
		n *= 2
	}
	padded := make([]float64, n)
	copy(padded, data)

	fft := FFT(padded)
	ps := make([]float64, len(fft)/2)
	for i := range ps {
		ps[i] = cmplx.Abs(fft[i])
	}
	return ps
}

// DominantFrequency finds the strongest nonzero frequency in data
// sampled at sampleRate Hz. It returns 0 for flat or too-short signals.
func DominantFrequency(data []float64, sampleRate float64) float64 {
	if len(data) < 4 || sampleRate <= 0 {
		return 0
	}
	ps := Spectrum(data)

	best, bestMag := 0, 0.0
	for i := 1; i < len(ps); i++ { // skip the DC bin
		if ps[i] > bestMag {
			best, bestMag = i, ps[i]
		}
	}
	if bestMag == 0 {
		return 0
	}
	n := 1
	for n < len(data) {
		n *= 2
	}
	return float64(best) * sampleRate / float64(n)
}

// JointReport summarizes one joint's tracking over a trace.
type JointReport struct {
	Name       string
	RMSError   float64
	MaxError   float64
	DominantHz float64
}

// Analyze reports per-joint tracking statistics for a recorded trace.
func Analyze(tr *storage.Trace) ([]JointReport, error) {
	if tr == nil || tr.Len() < 2 {
		return nil, fmt.Errorf("trace too short to analyze")
	}
	dt := (tr.Times[tr.Len()-1] - tr.Times[0]) / float64(tr.Len()-1)
	if dt <= 0 {
		return nil, fmt.Errorf("trace times not increasing")
	}
	rate := 1.0 / dt

	reports := make([]JointReport, len(tr.JointNames))
	for j, name := range tr.JointNames {
		errs := make([]float64, tr.Len())
		var sumSq, max float64
		for i := range tr.Times {
			e := tr.Error[i][j]
			errs[i] = e
			sumSq += e * e
			if a := math.Abs(e); a > max {
				max = a
			}
		}
		reports[j] = JointReport{
			Name:       name,
			RMSError:   math.Sqrt(sumSq / float64(tr.Len())),
			MaxError:   max,
			DominantHz: DominantFrequency(errs, rate),
		}
	}
	return reports, nil
}
