package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Axon is the immutable per-axon descriptor. Only Y and Z change, and only
// while a population is being packed.
type Axon struct {
	ID         int     `json:"id"`
	Diameter   float64 `json:"diameter"`
	Myelinated bool    `json:"myelinated"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Length     float64 `json:"length"`
	NodeShift  float64 `json:"node_shift"`
}

func (a Axon) Radius() float64 {
	return a.Diameter / 2
}

type Point struct {
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Fascicle struct {
	VersionedRecord
	ID            string  `json:"id"`
	Contour       Contour `json:"contour"`
	GravityCenter Point   `json:"gravity_center"`
	TargetFVF     float64 `json:"target_fvf"`
	AxonLength    float64 `json:"axon_length"`
	Axons         []Axon  `json:"axons"`
}

// AxonIDs returns the axon IDs in ascending order.
func (f Fascicle) AxonIDs() []int {
	ids := make([]int, 0, len(f.Axons))
	for _, axon := range f.Axons {
		ids = append(ids, axon.ID)
	}
	sortInts(ids)
	return ids
}

func (f Fascicle) Axon(id int) (Axon, bool) {
	for _, axon := range f.Axons {
		if axon.ID == id {
			return axon, true
		}
	}
	return Axon{}, false
}

// SimulationRecord is the raw output of one cable-equation run.
type SimulationRecord struct {
	VersionedRecord
	AxonID     int         `json:"axon_id"`
	Diameter   float64     `json:"diameter"`
	Myelinated bool        `json:"myelinated"`
	Length     float64     `json:"length"`
	Dt         float64     `json:"dt"`
	T          []float64   `json:"t"`
	X          []float64   `json:"x_rec"`
	NodeX      []float64   `json:"x_nodes,omitempty"`
	V          [][]float64 `json:"v_mem"`
}

type RasterEvent struct {
	Compartment int     `json:"compartment"`
	X           float64 `json:"x"`
	TimeIndex   int     `json:"time_index"`
	Time        float64 `json:"time"`
}

// BlockState replaces a nullable boolean: BlockUnknown means the test pulse
// never produced a spike, which is not the same as "not blocked".
type BlockState int

const (
	BlockUnknown BlockState = iota
	Blocked
	NotBlocked
)

func (s BlockState) String() string {
	switch s {
	case Blocked:
		return "blocked"
	case NotBlocked:
		return "not_blocked"
	default:
		return "unknown"
	}
}

// Bool returns the verdict and whether one exists.
func (s BlockState) Bool() (blocked bool, ok bool) {
	switch s {
	case Blocked:
		return true, true
	case NotBlocked:
		return false, true
	default:
		return false, false
	}
}

type AxonResult struct {
	ID          int           `json:"id"`
	Diameter    float64       `json:"diameter"`
	Myelinated  bool          `json:"myelinated"`
	Events      []RasterEvent `json:"events"`
	Recruited   bool          `json:"recruited"`
	Block       BlockState    `json:"block_state"`
	OnsetSpikes int           `json:"onset_spikes"`
	Velocity    float64       `json:"velocity"`
}

// AxonRecord is the per-axon document persisted as sim_axon_<id>.
type AxonRecord struct {
	VersionedRecord
	FascicleID string            `json:"fascicle_id"`
	Result     AxonResult        `json:"result"`
	Record     *SimulationRecord `json:"record,omitempty"`
}

type WorkerStatus int

const (
	StatusPreparing WorkerStatus = iota
	StatusComputing
	StatusServer
	StatusSuccess
	StatusError
)

func (s WorkerStatus) String() string {
	switch s {
	case StatusPreparing:
		return "preparing"
	case StatusComputing:
		return "computing"
	case StatusServer:
		return "server"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

func (s WorkerStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusError
}

type FascicleCounts struct {
	Simulated             int `json:"simulated"`
	Recruited             int `json:"recruited"`
	RecruitedMyelinated   int `json:"recruited_myelinated"`
	RecruitedUnmyelinated int `json:"recruited_unmyelinated"`
	Blocked               int `json:"blocked"`
	NotBlocked            int `json:"not_blocked"`
	BlockUnknown          int `json:"block_unknown"`
	OnsetSpikes           int `json:"onset_spikes"`
	Missing               int `json:"missing"`
}

type FascicleResult struct {
	VersionedRecord
	FascicleID string             `json:"fascicle_id"`
	Requested  []int              `json:"requested"`
	Axons      map[int]AxonResult `json:"axons"`
	Missing    []int              `json:"missing,omitempty"`
	Statuses   []WorkerStatus     `json:"statuses"`
	Counts     FascicleCounts     `json:"counts"`
}

func NewFascicleResult(fascicleID string) FascicleResult {
	return FascicleResult{
		FascicleID: fascicleID,
		Axons:      make(map[int]AxonResult),
	}
}

// Tally recomputes Counts from Axons and Missing.
func (r *FascicleResult) Tally() {
	counts := FascicleCounts{Simulated: len(r.Axons), Missing: len(r.Missing)}
	for _, axon := range r.Axons {
		if axon.Recruited {
			counts.Recruited++
			if axon.Myelinated {
				counts.RecruitedMyelinated++
			} else {
				counts.RecruitedUnmyelinated++
			}
		}
		switch axon.Block {
		case Blocked:
			counts.Blocked++
		case NotBlocked:
			counts.NotBlocked++
		default:
			counts.BlockUnknown++
		}
		counts.OnsetSpikes += axon.OnsetSpikes
	}
	r.Counts = counts
}

// SortedIDs returns the IDs present in Axons in ascending order.
func (r FascicleResult) SortedIDs() []int {
	ids := make([]int, 0, len(r.Axons))
	for id := range r.Axons {
		ids = append(ids, id)
	}
	sortInts(ids)
	return ids
}
