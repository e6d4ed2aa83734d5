package pipeline

import "math"

// Progress bands for one job run. 0-30 is reserved for model load and
// setup, recognition reports inside [asrFloor, asrCeiling], and 90-100 is
// reserved for diarization and result persistence.
const (
	asrFloor   = 30
	asrSpan    = 60
	asrCeiling = asrFloor + asrSpan
)

// Tracker maps positions inside the recognition stage to the job's 0-100
// progress scale and publishes them on a channel the orchestrator drains.
// Repeated or regressive values are suppressed, so consumers only ever see
// strictly increasing progress.
type Tracker struct {
	total   float64
	last    int
	updates chan<- int
}

// NewTracker creates a tracker for audio of the given total duration that
// publishes into updates. A non-positive duration disables emission.
func NewTracker(totalDuration float64, updates chan<- int) *Tracker {
	return &Tracker{
		total:   totalDuration,
		last:    0,
		updates: updates,
	}
}

// Mark reports that recognition reached time t seconds into the audio.
func (tr *Tracker) Mark(t float64) {
	if tr.total <= 0 || tr.updates == nil {
		return
	}

	value := asrFloor + int(math.Floor(t/tr.total*asrSpan))
	if value < asrFloor {
		value = asrFloor
	}
	if value > asrCeiling {
		value = asrCeiling
	}

	if value <= tr.last {
		return
	}
	tr.last = value
	tr.updates <- value
}
