// Package report exports simulated fascicles as per-axon CSV tables and
// summary statistics.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"nervesim/internal/model"
)

const (
	AxonsFile   = "axons.csv"
	SummaryFile = "summary.json"
)

// AxonRow is one line of axons.csv. Position columns are zero when the
// fascicle geometry is not available.
type AxonRow struct {
	AxonID      int     `csv:"axon_id"`
	Diameter    float64 `csv:"diameter_um"`
	Myelinated  bool    `csv:"myelinated"`
	Y           float64 `csv:"y_um"`
	Z           float64 `csv:"z_um"`
	Recruited   bool    `csv:"recruited"`
	Block       string  `csv:"block_state"`
	OnsetSpikes int     `csv:"onset_spikes"`
	Velocity    float64 `csv:"velocity_m_s"`
	Spikes      int     `csv:"spikes"`
	FirstSpike  float64 `csv:"first_spike_ms"` // -1 without events
}

// Distribution summarizes one sample.
type Distribution struct {
	N      int     `json:"n"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

type Summary struct {
	FascicleID           string               `json:"fascicle_id"`
	Counts               model.FascicleCounts `json:"counts"`
	Missing              []int                `json:"missing,omitempty"`
	RecruitedFraction    float64              `json:"recruited_fraction"`
	MyelinatedFraction   float64              `json:"recruited_myelinated_fraction"`
	UnmyelinatedFraction float64              `json:"recruited_unmyelinated_fraction"`
	BlockedFraction      float64              `json:"blocked_fraction"`
	Diameter             Distribution         `json:"diameter_um"`
	Velocity             Distribution         `json:"velocity_m_s"`
}

// Rows lists the simulated axons in ascending ID order. fascicle may be nil.
func Rows(fascicle *model.Fascicle, result model.FascicleResult) []AxonRow {
	ids := result.SortedIDs()
	rows := make([]AxonRow, 0, len(ids))
	for _, id := range ids {
		r := result.Axons[id]
		row := AxonRow{
			AxonID:      r.ID,
			Diameter:    r.Diameter,
			Myelinated:  r.Myelinated,
			Recruited:   r.Recruited,
			Block:       r.Block.String(),
			OnsetSpikes: r.OnsetSpikes,
			Velocity:    r.Velocity,
			Spikes:      len(r.Events),
			FirstSpike:  -1,
		}
		for _, e := range r.Events {
			if row.FirstSpike < 0 || e.Time < row.FirstSpike {
				row.FirstSpike = e.Time
			}
		}
		if fascicle != nil {
			if axon, ok := fascicle.Axon(id); ok {
				row.Y, row.Z = axon.Y, axon.Z
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// Summarize computes recruitment fractions and the diameter distribution of
// all simulated axons plus the velocity distribution of recruited axons
// with a measured velocity.
func Summarize(result model.FascicleResult) Summary {
	counts := result.Counts
	s := Summary{
		FascicleID: result.FascicleID,
		Counts:     counts,
		Missing:    append([]int(nil), result.Missing...),
	}
	var diameters, velocities []float64
	var myelinated, unmyelinated int
	for _, id := range result.SortedIDs() {
		r := result.Axons[id]
		diameters = append(diameters, r.Diameter)
		if r.Myelinated {
			myelinated++
		} else {
			unmyelinated++
		}
		if r.Recruited && r.Velocity > 0 {
			velocities = append(velocities, r.Velocity)
		}
	}
	s.RecruitedFraction = fraction(counts.Recruited, len(diameters))
	s.MyelinatedFraction = fraction(counts.RecruitedMyelinated, myelinated)
	s.UnmyelinatedFraction = fraction(counts.RecruitedUnmyelinated, unmyelinated)
	s.BlockedFraction = fraction(counts.Blocked, counts.Blocked+counts.NotBlocked)
	s.Diameter = describe(diameters)
	s.Velocity = describe(velocities)
	return s
}

func describe(x []float64) Distribution {
	if len(x) == 0 {
		return Distribution{}
	}
	d := Distribution{N: len(x), Min: floats.Min(x), Max: floats.Max(x)}
	if len(x) == 1 {
		d.Mean = x[0]
		return d
	}
	d.Mean, d.StdDev = stat.MeanStdDev(x, nil)
	if math.IsNaN(d.StdDev) {
		d.StdDev = 0
	}
	return d
}

func fraction(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

// WriteCSV writes rows with a header line.
func WriteCSV(w io.Writer, rows []AxonRow) error {
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("writing %s: %w", AxonsFile, err)
	}
	return nil
}

func ReadCSV(r io.Reader) ([]AxonRow, error) {
	var rows []AxonRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("reading %s: %w", AxonsFile, err)
	}
	return rows, nil
}

// Export writes axons.csv and summary.json into outDir/<fascicle id> and
// returns that directory.
func Export(outDir string, fascicle *model.Fascicle, result model.FascicleResult) (string, error) {
	if result.FascicleID == "" {
		return "", errors.New("fascicle id is required")
	}
	dst := filepath.Join(outDir, result.FascicleID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	f, err := os.Create(filepath.Join(dst, AxonsFile))
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", AxonsFile, err)
	}
	if err := WriteCSV(f, Rows(fascicle, result)); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(dst, SummaryFile), Summarize(result)); err != nil {
		return "", err
	}
	return dst, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
