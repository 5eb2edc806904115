// Package audio holds the sample codecs, voice-activity detection and the
// ingestion pipeline that feeds client audio into a session buffer.
package audio

import (
	"bytes"
	"encoding/binary"
	"math"
)

// SampleRate is the rate of every sample buffer handled by the server
const SampleRate = 16000

var muLawToPcmTable [256]int16

// DecodePCM16 converts little-endian signed 16-bit PCM into samples in [-1, 1).
// A trailing odd byte is ignored.
func DecodePCM16(data []byte) []float32 {
	samples := make([]float32, len(data)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
		samples[i] = float32(v) / 32768
	}
	return samples
}

// EncodePCM16 converts samples to little-endian signed 16-bit PCM, clipping
// anything outside [-1, 1].
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(toInt16(s)))
	}
	return out
}

func toInt16(s float32) int16 {
	switch {
	case s >= 1:
		return math.MaxInt16
	case s <= -1:
		return math.MinInt16
	default:
		return int16(s * 32767)
	}
}

// DecodeMuLaw converts G.711 mu-law bytes into samples, one sample per byte.
// Telephony clients stream 8 kHz audio; each sample is duplicated to reach 16 kHz.
func DecodeMuLaw(data []byte) []float32 {
	samples := make([]float32, 0, len(data)*2)
	for _, b := range data {
		s := float32(muLawToPcmTable[b]) / 32768
		samples = append(samples, s, s)
	}
	return samples
}

// EncodeWAV wraps samples in a mono 16-bit WAV container
func EncodeWAV(samples []float32, sampleRate int) []byte {
	pcm := EncodePCM16(samples)
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// RMS returns the root mean square of a frame
func RMS(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// Volumes computes the RMS envelope of samples in slices of sliceMs
// milliseconds, normalized so the loudest slice is 1.
func Volumes(samples []float32, sampleRate, sliceMs int) []float64 {
	size := sampleRate * sliceMs / 1000
	if size <= 0 || len(samples) == 0 {
		return []float64{}
	}

	volumes := make([]float64, 0, len(samples)/size+1)
	peak := 0.0
	for start := 0; start < len(samples); start += size {
		end := min(start+size, len(samples))
		v := RMS(samples[start:end])
		peak = max(peak, v)
		volumes = append(volumes, v)
	}
	if peak == 0 {
		return volumes
	}
	for i := range volumes {
		volumes[i] /= peak
	}
	return volumes
}

func init() {
	for i := 0; i < 256; i++ {
		muLawToPcmTable[i] = decodeMuLawByte(byte(i))
	}
}

// decodeMuLawByte follows the Sun Microsystems G.711 reference decoder
func decodeMuLawByte(uVal byte) int16 {
	// mu-law bytes are stored inverted
	uVal = ^uVal

	sign := uVal & 0x80
	exponent := (uVal >> 4) & 0x07
	mantissa := uVal & 0x0F

	// 0x84 is the aligned bias of 33
	sample := int16((int32(mantissa)<<3 + 0x84) << exponent)
	sample -= 0x84

	if sign != 0 {
		return -sample
	}
	return sample
}

// PcmToMuLawByte encodes one 16-bit sample as G.711 mu-law
func PcmToMuLawByte(pcm int16) byte {
	const (
		bias = 0x84
		clip = 32635
	)

	sign := (pcm >> 8) & 0x80
	if pcm < 0 {
		pcm = -pcm
	}
	if pcm > clip {
		pcm = clip
	}
	pcm += bias

	exponent := 7
	for mask := 0x4000; (pcm&int16(mask)) == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (pcm >> (exponent + 3)) & 0x0F

	return ^byte(sign | (int16(exponent) << 4) | mantissa)
}
