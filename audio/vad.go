package audio

import "iter"

// EventKind tags a voice-activity event
type EventKind int

const (
	// EventPause marks the start of user speech; playback should stop
	EventPause EventKind = iota
	// EventResume marks speech that was too short to count as an utterance
	EventResume
	// EventSegment carries one complete utterance as PCM16
	EventSegment
)

func (k EventKind) String() string {
	switch k {
	case EventPause:
		return "pause"
	case EventResume:
		return "resume"
	case EventSegment:
		return "segment"
	default:
		return "unknown"
	}
}

// Event is produced by a Detector. PCM is only set for EventSegment.
type Event struct {
	Kind EventKind
	PCM  []byte
}

// Detector segments a stream of samples into voice-activity events.
// Detect returns a single-use lazy sequence; detector state advances as the
// sequence is consumed, so each returned sequence must be ranged over once.
type Detector interface {
	Detect(samples []float32) iter.Seq[Event]
}

// EnergyConfig tunes EnergyDetector
type EnergyConfig struct {
	FrameSize       int     // samples per analysis frame
	Threshold       float64 // RMS above which a frame counts as speech
	StartFrames     int     // consecutive speech frames that open an utterance
	EndFrames       int     // consecutive silent frames that close it
	MinSpeechFrames int     // voiced frames required for a segment, fewer resumes
}

// DefaultEnergyConfig returns 32ms frames at 16 kHz with a ~640ms hang-over
func DefaultEnergyConfig() EnergyConfig {
	return EnergyConfig{
		FrameSize:       512,
		Threshold:       0.02,
		StartFrames:     3,
		EndFrames:       20,
		MinSpeechFrames: 5,
	}
}

// EnergyDetector is an RMS energy voice-activity detector.
// It is not safe for concurrent use; each client owns one.
type EnergyDetector struct {
	cfg EnergyConfig

	pending  []float32
	preroll  []float32
	segment  []float32
	speaking bool
	hits     int
	silence  int
}

// NewEnergyDetector creates a detector, filling zero fields from DefaultEnergyConfig
func NewEnergyDetector(cfg EnergyConfig) *EnergyDetector {
	def := DefaultEnergyConfig()
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = def.FrameSize
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.StartFrames <= 0 {
		cfg.StartFrames = def.StartFrames
	}
	if cfg.EndFrames <= 0 {
		cfg.EndFrames = def.EndFrames
	}
	if cfg.MinSpeechFrames <= 0 {
		cfg.MinSpeechFrames = def.MinSpeechFrames
	}
	return &EnergyDetector{cfg: cfg}
}

// Detect appends samples to the detector and yields the events they complete
func (d *EnergyDetector) Detect(samples []float32) iter.Seq[Event] {
	d.pending = append(d.pending, samples...)
	return func(yield func(Event) bool) {
		for len(d.pending) >= d.cfg.FrameSize {
			frame := d.pending[:d.cfg.FrameSize]
			ev, ok := d.step(frame)
			d.pending = d.pending[d.cfg.FrameSize:]
			if ok && !yield(ev) {
				return
			}
		}
	}
}

func (d *EnergyDetector) step(frame []float32) (Event, bool) {
	loud := RMS(frame) >= d.cfg.Threshold

	if !d.speaking {
		if !loud {
			d.hits = 0
			d.preroll = d.preroll[:0]
			return Event{}, false
		}
		d.hits++
		d.preroll = append(d.preroll, frame...)
		if d.hits < d.cfg.StartFrames {
			return Event{}, false
		}
		d.speaking = true
		d.silence = 0
		d.segment = append(d.segment[:0], d.preroll...)
		d.preroll = d.preroll[:0]
		return Event{Kind: EventPause}, true
	}

	d.segment = append(d.segment, frame...)
	if loud {
		d.silence = 0
		return Event{}, false
	}
	d.silence++
	if d.silence < d.cfg.EndFrames {
		return Event{}, false
	}

	voiced := len(d.segment)/d.cfg.FrameSize - d.cfg.EndFrames
	pcm := EncodePCM16(d.segment)
	d.speaking = false
	d.hits = 0
	d.silence = 0
	d.segment = d.segment[:0]

	if voiced < d.cfg.MinSpeechFrames {
		return Event{Kind: EventResume}, true
	}
	return Event{Kind: EventSegment, PCM: pcm}, true
}
