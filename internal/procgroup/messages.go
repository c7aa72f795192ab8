package procgroup

import "nervesim/internal/model"

// Message is the closed set of point-to-point payloads exchanged between ranks.
type Message interface {
	isMessage()
}

// FieldRequest asks the root for the solved field at an axon's compartments.
type FieldRequest struct {
	Rank   int
	AxonID int
	X      []float64
	Y      []float64
	Z      []float64
}

// FieldReply carries one row of potentials per FEM label, in ascending label
// order. Err is set instead when the evaluation failed.
type FieldReply struct {
	V   [][]float64
	Err string
}

// StatusReport announces a worker state change. AxonID is the axon being
// processed when Status is StatusError, and -1 otherwise.
type StatusReport struct {
	Rank   int
	Status model.WorkerStatus
	AxonID int
	Err    string
}

func (FieldRequest) isMessage() {}
func (FieldReply) isMessage()   {}
func (StatusReport) isMessage() {}

// Envelope is a received message tagged with its sender.
type Envelope struct {
	Source int
	Msg    Message
}
