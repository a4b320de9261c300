package ortho

import "time"

// Phase marks a boundary in the orthorectification of one image.
type Phase string

const (
	// PhaseFootprint fires once the output bounds are solved.
	PhaseFootprint = Phase("footprint")
	// PhaseElevationGrid fires once the aligned elevation grid is ready.
	PhaseElevationGrid = Phase("elevation_grid")
	// PhaseTile fires after each output tile is handed to the writer.
	PhaseTile = Phase("tile")
)

// Observer receives phase boundary notifications with the elapsed time
// of the completed phase. It replaces in-line profiling: callers that
// want timings accumulate them here, everyone else passes nil.
type Observer func(phase Phase, elapsed time.Duration)

func (o Observer) notify(phase Phase, start time.Time) {
	if o != nil {
		o(phase, time.Since(start))
	}
}
