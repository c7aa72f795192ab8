package field

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var ErrInvalidStimulus = errors.New("invalid stimulus")

// Stimulus is a piecewise-constant current waveform: S[k] µA holds from T[k]
// (ms) until T[k+1]. The value before T[0] is zero.
type Stimulus struct {
	T []float64 `json:"t"`
	S []float64 `json:"s"`
}

func (s Stimulus) Validate() error {
	if len(s.T) != len(s.S) {
		return fmt.Errorf("%w: %d times for %d values", ErrInvalidStimulus, len(s.T), len(s.S))
	}
	for i := 1; i < len(s.T); i++ {
		if s.T[i] < s.T[i-1] {
			return fmt.Errorf("%w: times not ascending at %d", ErrInvalidStimulus, i)
		}
	}
	return nil
}

// Value returns the current at time t.
func (s Stimulus) Value(t float64) float64 {
	k := sort.Search(len(s.T), func(i int) bool { return s.T[i] > t }) - 1
	if k < 0 {
		return 0
	}
	return s.S[k]
}

// Pulse is a monophasic rectangular pulse.
func Pulse(start, amplitude, duration float64) Stimulus {
	return Stimulus{T: []float64{start, start + duration}, S: []float64{amplitude, 0}}
}

// Biphasic is a charge-balanced pulse: amplitude for duration, a gap, then
// -amplitude for duration.
func Biphasic(start, amplitude, duration, gap float64) Stimulus {
	return Stimulus{
		T: []float64{start, start + duration, start + duration + gap, start + 2*duration + gap},
		S: []float64{amplitude, 0, -amplitude, 0},
	}
}

// PulseTrain repeats Pulse count times every period ms.
func PulseTrain(start, amplitude, duration, period float64, count int) Stimulus {
	var out Stimulus
	for i := 0; i < count; i++ {
		t0 := start + float64(i)*period
		out.T = append(out.T, t0, t0+duration)
		out.S = append(out.S, amplitude, 0)
	}
	return out
}

// Sine samples amplitude*sin(2π f t) every dt ms over duration, with f in kHz.
func Sine(start, amplitude, freqKHz, duration, dt float64) Stimulus {
	if dt <= 0 || duration <= 0 {
		return Stimulus{}
	}
	n := int(math.Round(duration / dt))
	out := Stimulus{T: make([]float64, 0, n+1), S: make([]float64, 0, n+1)}
	for i := 0; i < n; i++ {
		t := float64(i) * dt
		out.T = append(out.T, start+t)
		out.S = append(out.S, amplitude*math.Sin(2*math.Pi*freqKHz*t))
	}
	out.T = append(out.T, start+duration)
	out.S = append(out.S, 0)
	return out
}

// Combine sums waveforms over the union of their breakpoints.
func Combine(stims ...Stimulus) Stimulus {
	var times []float64
	for _, s := range stims {
		times = append(times, s.T...)
	}
	sort.Float64s(times)
	var out Stimulus
	for i, t := range times {
		if i > 0 && t == times[i-1] {
			continue
		}
		var v float64
		for _, s := range stims {
			v += s.Value(t)
		}
		out.T = append(out.T, t)
		out.S = append(out.S, v)
	}
	return out
}

// Scaled multiplies every amplitude by k.
func (s Stimulus) Scaled(k float64) Stimulus {
	out := Stimulus{T: append([]float64(nil), s.T...), S: make([]float64, len(s.S))}
	for i, v := range s.S {
		out.S[i] = v * k
	}
	return out
}
