package audio

import (
	"fmt"

	"go.uber.org/zap"
)

// Control texts emitted by the pipeline
const (
	ControlInterrupt = "interrupt"
	ControlMicEnd    = "mic-audio-end"
)

// DefaultMinSegmentBytes is the smallest PCM16 segment worth transcribing
const DefaultMinSegmentBytes = 1024

// SampleSink receives decoded speech samples
type SampleSink interface {
	Append(samples []float32) error
}

// ControlSender delivers control signals back to the client
type ControlSender interface {
	SendControl(text string) error
}

// Pipeline pushes raw client audio through a Detector into a sample buffer
type Pipeline struct {
	MinSegmentBytes int
}

// Push runs one chunk through det. A pause emits an interrupt control, a
// speech segment larger than MinSegmentBytes is appended to sink and
// immediately followed by a synthetic end-of-utterance control. It returns
// the number of segments appended.
func (p Pipeline) Push(det Detector, samples []float32, sink SampleSink, out ControlSender) (int, error) {
	minBytes := p.MinSegmentBytes
	if minBytes <= 0 {
		minBytes = DefaultMinSegmentBytes
	}

	segments := 0
	for ev := range det.Detect(samples) {
		switch ev.Kind {
		case EventPause:
			zap.S().Debug("🎙️ VAD detected pause")
			if err := out.SendControl(ControlInterrupt); err != nil {
				return segments, fmt.Errorf("send interrupt control: %w", err)
			}
		case EventResume:
			zap.S().Debug("🎙️ VAD detected resume")
		case EventSegment:
			if len(ev.PCM) <= minBytes {
				continue
			}
			if err := sink.Append(DecodePCM16(ev.PCM)); err != nil {
				return segments, err
			}
			segments++
			zap.S().Debugf("🎙️ VAD detected speech: %d bytes", len(ev.PCM))
			if err := out.SendControl(ControlMicEnd); err != nil {
				return segments, fmt.Errorf("send end-of-utterance control: %w", err)
			}
		}
	}
	return segments, nil
}
