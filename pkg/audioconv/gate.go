package audioconv

// Gate finds the end of an utterance in a stream of fixed-size frames.
// Leading silence is dropped; once speech starts, Hold consecutive quiet
// frames end it.
type Gate struct {
	Threshold float64 // RMS above which a frame counts as speech
	Hold      int

	speaking bool
	quiet    int
}

// Push classifies one frame. keep reports whether the frame belongs to the
// utterance; done reports that the utterance has ended.
func (g *Gate) Push(frame []float32) (keep, done bool) {
	if RMS(frame) > g.Threshold {
		g.speaking = true
		g.quiet = 0
		return true, false
	}
	if !g.speaking {
		return false, false
	}
	g.quiet++
	if g.quiet >= g.Hold {
		return false, true
	}
	return true, false
}

// Heard reports whether any speech has been seen.
func (g *Gate) Heard() bool { return g.speaking }
