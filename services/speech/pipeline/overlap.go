package pipeline

import "github.com/voxkit/backend/services/speech/entity"

// AssignSpeakers labels each transcript segment with the speaker whose
// turn overlaps it the most. Ties keep the first turn encountered at the
// maximum, so turn order matters and must be preserved as the diarization
// engine returned it. Segments without any overlapping turn keep a nil
// speaker. The input slices are not mutated.
func AssignSpeakers(segments []entity.Segment, turns []entity.SpeakerTurn) []entity.Segment {
	out := make([]entity.Segment, len(segments))
	copy(out, segments)

	for i := range out {
		var bestSpeaker *string
		bestOverlap := 0.0

		for j := range turns {
			overlap := overlapSeconds(out[i].Start, out[i].End, turns[j].Start, turns[j].End)
			if overlap > bestOverlap {
				bestOverlap = overlap
				bestSpeaker = &turns[j].Speaker
			}
		}

		if bestSpeaker != nil {
			speaker := *bestSpeaker
			out[i].Speaker = &speaker
		}
	}

	return out
}

func overlapSeconds(aStart, aEnd, bStart, bEnd float64) float64 {
	start := aStart
	if bStart > start {
		start = bStart
	}
	end := aEnd
	if bEnd < end {
		end = bEnd
	}

	if end <= start {
		return 0
	}
	return end - start
}
