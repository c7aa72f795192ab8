package raster

import (
	"math"
	"reflect"
	"testing"

	"nervesim/internal/model"
)

func pulseTrace(n int, rest, peak float64, windows ...[2]int) []float64 {
	trace := make([]float64, n)
	for i := range trace {
		trace[i] = rest
	}
	for _, w := range windows {
		for i := w[0]; i < w[1] && i < n; i++ {
			trace[i] = peak
		}
	}
	return trace
}

func timeAxis(n int, dt float64) []float64 {
	t := make([]float64, n)
	for i := range t {
		t[i] = float64(i) * dt
	}
	return t
}

func TestDetectSingleSpike(t *testing.T) {
	const dt = 0.001
	v := [][]float64{pulseTrace(1000, -70, 20, [2]int{100, 300})}
	events := Detect(v, timeAxis(1000, dt), []float64{500}, nil, DetectOptions{
		Threshold:        -40,
		Dt:               dt,
		RefractoryPeriod: 1,
		MinSpikeDuration: 0.1,
	})
	if len(events) != 1 {
		t.Fatalf("expected one event, got %+v", events)
	}
	if events[0].TimeIndex != 99 || math.Abs(events[0].Time-0.099) > 1e-12 {
		t.Fatalf("unexpected event timing: %+v", events[0])
	}
	if events[0].X != 500 || events[0].Compartment != 0 {
		t.Fatalf("unexpected event position: %+v", events[0])
	}
}

func TestDetectRejectsShortCrossing(t *testing.T) {
	const dt = 0.001
	v := [][]float64{pulseTrace(1000, -70, 20, [2]int{100, 105})}
	events := Detect(v, timeAxis(1000, dt), []float64{0}, nil, DetectOptions{
		Threshold:        -40,
		Dt:               dt,
		RefractoryPeriod: 1,
		MinSpikeDuration: 0.1,
	})
	if len(events) != 0 {
		t.Fatalf("expected crossing shorter than min duration to be ignored, got %+v", events)
	}
}

func TestDetectNegativeMinSpikeDuration(t *testing.T) {
	trace := pulseTrace(20, -70, 20, [2]int{5, 10})
	trace[4] = -40
	v := [][]float64{trace}
	opts := DetectOptions{Threshold: -40, Dt: 1, MinSpikeDuration: -5}
	events := Detect(v, timeAxis(20, 1), []float64{0}, nil, opts)
	if len(events) != 1 || events[0].TimeIndex != 4 {
		t.Fatalf("expected one crossing at index 4, got %+v", events)
	}
	opts.MinSpikeDuration = 0
	if zero := Detect(v, timeAxis(20, 1), []float64{0}, nil, opts); !reflect.DeepEqual(events, zero) {
		t.Fatalf("negative duration should behave as zero: %+v vs %+v", events, zero)
	}
}

func TestDetectRefractoryPeriod(t *testing.T) {
	const dt = 0.01
	n := 1000
	trace := pulseTrace(n, -70, 20, [2]int{100, 120}, [2]int{150, 170}, [2]int{400, 420})
	v := [][]float64{trace}
	tAxis := timeAxis(n, dt)

	cases := []struct {
		name       string
		refractory float64
		want       int
	}{
		{name: "long refractory merges close spikes", refractory: 1.0, want: 2},
		{name: "short refractory keeps all", refractory: 0.2, want: 3},
		{name: "huge refractory keeps first", refractory: 10, want: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			events := Detect(v, tAxis, []float64{0}, nil, DetectOptions{
				Threshold:        0,
				Dt:               dt,
				RefractoryPeriod: tc.refractory,
				MinSpikeDuration: 0.1,
			})
			if len(events) != tc.want {
				t.Fatalf("got %d events want %d: %+v", len(events), tc.want, events)
			}
			for i := 1; i < len(events); i++ {
				if events[i].Time-events[i-1].Time <= tc.refractory {
					t.Fatalf("refractory violated between %+v and %+v", events[i-1], events[i])
				}
			}
		})
	}
}

func TestDetectClampsPersistenceCheckAtStop(t *testing.T) {
	const dt = 0.001
	v := [][]float64{pulseTrace(1000, -70, 20, [2]int{995, 1000})}
	events := Detect(v, timeAxis(1000, dt), []float64{0}, nil, DetectOptions{
		Threshold:        -40,
		Dt:               dt,
		RefractoryPeriod: 1,
		MinSpikeDuration: 0.1,
	})
	if len(events) != 1 || events[0].TimeIndex != 994 {
		t.Fatalf("expected trailing crossing to be detected through the clamp, got %+v", events)
	}
}

func TestDetectWindowAndCompartments(t *testing.T) {
	const dt = 0.01
	n := 500
	v := [][]float64{
		pulseTrace(n, -70, 20, [2]int{50, 80}, [2]int{300, 330}),
		pulseTrace(n, -70, 20, [2]int{60, 90}),
	}
	x := []float64{0, 100}
	events := Detect(v, timeAxis(n, dt), x, []int{0}, DetectOptions{
		Threshold:        0,
		Dt:               dt,
		TStart:           1.0,
		TStop:            4.0,
		RefractoryPeriod: 1,
		MinSpikeDuration: 0.1,
	})
	if len(events) != 1 || events[0].TimeIndex != 299 {
		t.Fatalf("expected only the in-window spike on compartment 0, got %+v", events)
	}

	all := Detect(v, timeAxis(n, dt), x, nil, DetectOptions{Threshold: 0, Dt: dt, RefractoryPeriod: 1, MinSpikeDuration: 0.1})
	if len(all) != 3 {
		t.Fatalf("expected 3 events across compartments, got %+v", all)
	}
	if all[2].Compartment != 1 || all[2].X != 100 {
		t.Fatalf("expected compartment 1 event last, got %+v", all[2])
	}
}

func TestDetectIsDeterministic(t *testing.T) {
	const dt = 0.005
	n := 2000
	v := make([][]float64, 4)
	for i := range v {
		v[i] = make([]float64, n)
		for j := range v[i] {
			v[i][j] = 40 * math.Sin(float64(j)*dt*2*math.Pi/(1.5+float64(i)*0.3))
		}
	}
	opts := DetectOptions{Threshold: 0, Dt: dt, RefractoryPeriod: 0.5, MinSpikeDuration: 0.05}
	a := Detect(v, timeAxis(n, dt), []float64{0, 1, 2, 3}, nil, opts)
	b := Detect(v, timeAxis(n, dt), []float64{0, 1, 2, 3}, nil, opts)
	if len(a) == 0 {
		t.Fatal("expected events from oscillating traces")
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatal("expected identical events for identical inputs")
	}
}

func TestDetectEmptyInputs(t *testing.T) {
	if events := Detect(nil, nil, nil, nil, DetectOptions{Dt: 0.01}); events != nil {
		t.Fatalf("expected nil events, got %+v", events)
	}
	flat := [][]float64{pulseTrace(100, -70, -70)}
	if events := Detect(flat, timeAxis(100, 0.01), []float64{0}, nil, DetectOptions{Dt: 0.01}); len(events) != 0 {
		t.Fatalf("expected no events on a flat trace, got %+v", events)
	}
}

func propagation(length float64, from, to float64, step, t0, dtPerStep float64) []model.RasterEvent {
	var events []model.RasterEvent
	dir := 1.0
	if to < from {
		dir = -1
	}
	for i, x := 0, from; (dir > 0 && x <= to) || (dir < 0 && x >= to); i, x = i+1, x+dir*step {
		events = append(events, model.RasterEvent{Compartment: int(x / step), X: x, Time: t0 + float64(i)*dtPerStep})
	}
	return events
}

func TestClassifyBlock(t *testing.T) {
	const length = 10000.0
	forward := BlockQuery{TestPulseTime: 5, TestPulsePosition: 0, ElectrodePosition: length / 2, AxonLength: length}
	backward := BlockQuery{TestPulseTime: 5, TestPulsePosition: length, ElectrodePosition: length / 2, AxonLength: length}

	withGap := propagation(length, 0, 1000, 1000, 5.1, 0.05)
	withGap = append(withGap, propagation(length, 5000, 10000, 1000, 5.5, 0.05)...)

	// A blocked test pulse followed by a full propagation from a later stimulus.
	laterStimulus := propagation(length, 0, 5000, 1000, 5.1, 0.05)
	laterStimulus = append(laterStimulus, propagation(length, 0, 10000, 1000, 20, 0.05)...)
	windowed := forward
	windowed.TestPulseWindow = 5

	cases := []struct {
		name   string
		events []model.RasterEvent
		query  BlockQuery
		want   model.BlockState
	}{
		{name: "no events", query: forward, want: model.BlockUnknown},
		{name: "only events before pulse", events: propagation(length, 0, 10000, 1000, 1, 0.05), query: forward, want: model.BlockUnknown},
		{name: "forward full propagation", events: propagation(length, 0, 10000, 1000, 5.1, 0.05), query: forward, want: model.NotBlocked},
		{name: "forward stops mid axon", events: propagation(length, 0, 5000, 1000, 5.1, 0.05), query: forward, want: model.Blocked},
		{name: "forward gap", events: withGap, query: forward, want: model.Blocked},
		{name: "backward full propagation", events: propagation(length, 10000, 0, 1000, 5.1, 0.05), query: backward, want: model.NotBlocked},
		{name: "backward stops mid axon", events: propagation(length, 10000, 6000, 1000, 5.1, 0.05), query: backward, want: model.Blocked},
		{name: "open window reads later stimulus", events: laterStimulus, query: forward, want: model.NotBlocked},
		{name: "bounded window ignores later stimulus", events: laterStimulus, query: windowed, want: model.Blocked},
		{name: "nothing inside bounded window", events: propagation(length, 0, 10000, 1000, 20, 0.05), query: windowed, want: model.BlockUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyBlock(tc.events, tc.query); got != tc.want {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}
}

func TestClassifyBlockUnknownIffNoEventAfterPulse(t *testing.T) {
	q := BlockQuery{TestPulseTime: 3, TestPulsePosition: 0, ElectrodePosition: 500, AxonLength: 1000}
	for _, events := range [][]model.RasterEvent{
		nil,
		{{X: 100, Time: 2.9}},
		{{X: 100, Time: 3}},
		{{X: 100, Time: 3.5}, {X: 1000, Time: 4}},
	} {
		got := ClassifyBlock(events, q)
		hasAfter := false
		for _, e := range events {
			if e.Time >= q.TestPulseTime {
				hasAfter = true
			}
		}
		if (got == model.BlockUnknown) == hasAfter {
			t.Fatalf("unknown verdict mismatch for %+v: got %s", events, got)
		}
	}
}

func TestCountOnsetSpikes(t *testing.T) {
	events := []model.RasterEvent{
		{Compartment: 9, X: 9000, Time: 0.5},
		{Compartment: 9, X: 9000, Time: 2.0},
		{Compartment: 9, X: 9000, Time: 6.0},
		{Compartment: 2, X: 2000, Time: 0.4},
	}
	xs := []float64{0, 1000, 2000, 3000, 4000, 5000, 6000, 7000, 8000, 9000}
	if got := CountOnsetSpikes(events, xs, 10000, 5); got != 2 {
		t.Fatalf("expected 2 onset spikes at the far end, got %d", got)
	}
	if got := CountOnsetSpikes(nil, xs, 0, 5); got != 0 {
		t.Fatalf("expected 0 onset spikes for no events, got %d", got)
	}
}

func TestCountOnsetSpikesSilentElectrodeCompartment(t *testing.T) {
	events := []model.RasterEvent{
		{Compartment: 0, X: 0, Time: 0.5},
		{Compartment: 0, X: 0, Time: 2},
	}
	xs := []float64{0, 1000, 2000, 3000, 4000, 5000}
	if got := CountOnsetSpikes(events, xs, 5000, 3); got != 0 {
		t.Fatalf("expected no onset spikes under a silent electrode, got %d", got)
	}
	if got := CountOnsetSpikes(events, xs, 200, 3); got != 2 {
		t.Fatalf("expected 2 onset spikes next to x=0, got %d", got)
	}
}

func TestIsRecruited(t *testing.T) {
	events := []model.RasterEvent{{X: 0, Time: 1.5}}
	if !IsRecruited(events, 1, 0) {
		t.Fatal("expected recruitment inside open window")
	}
	if IsRecruited(events, 2, 0) {
		t.Fatal("expected no recruitment after tStart")
	}
	if IsRecruited(events, 0, 1) {
		t.Fatal("expected no recruitment before tStop")
	}
}

func TestConductionVelocity(t *testing.T) {
	var events []model.RasterEvent
	for i := 0; i < 10; i++ {
		events = append(events, model.RasterEvent{Compartment: i, X: float64(i) * 1000, Time: 1 + float64(i)*0.05})
		// A later second spike on the same compartment must not bias the fit.
		events = append(events, model.RasterEvent{Compartment: i, X: float64(i) * 1000, Time: 8 + float64(i)*0.01})
	}
	got := ConductionVelocity(events, 0)
	if math.Abs(got-20) > 1e-6 {
		t.Fatalf("expected 20 m/s, got %v", got)
	}
	if v := ConductionVelocity(events[:1], 0); v != 0 {
		t.Fatalf("expected 0 velocity for a single compartment, got %v", v)
	}
}
