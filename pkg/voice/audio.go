package voice

import (
	"encoding/base64"
	"encoding/binary"
	"math"
	"time"

	"github.com/atelierhq/studio/pkg/gateway/live/protocol"
)

const (
	// InputSampleRateHz is the microphone capture rate sent upstream.
	InputSampleRateHz = 16000
	// OutputSampleRateHz is the rate of audio the gateway sends back.
	OutputSampleRateHz = 24000

	bytesPerSample = 2
)

// Format describes a PCM16 little-endian mono/stereo audio shape.
type Format struct {
	SampleRateHz int
	Channels     int
}

// InputFormat returns the default capture format.
func InputFormat() Format { return Format{SampleRateHz: InputSampleRateHz, Channels: 1} }

// OutputFormat returns the default playback format.
func OutputFormat() Format { return Format{SampleRateHz: OutputSampleRateHz, Channels: 1} }

// Protocol converts the format into its wire representation.
func (f Format) Protocol() protocol.AudioFormat {
	return protocol.AudioFormat{
		Encoding:     protocol.EncodingPCM16LE,
		SampleRateHz: f.SampleRateHz,
		Channels:     f.Channels,
	}
}

// BytesPerSecond returns the PCM byte rate for the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRateHz * f.Channels * bytesPerSample
}

// Duration returns the playback duration of n PCM bytes.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// FrameBytes returns the PCM byte size of one frame of the given duration,
// rounded down to a whole number of samples.
func (f Format) FrameBytes(d time.Duration) int {
	samples := int(int64(f.SampleRateHz) * int64(d) / int64(time.Second))
	if samples < 1 {
		samples = 1
	}
	return samples * f.Channels * bytesPerSample
}

// Frame is one fixed-size block of PCM16 little-endian audio. A frame is
// produced by a Capture and consumed exactly once, either by the outbound
// channel or dropped during teardown.
type Frame struct {
	PCM    []byte
	Format Format
}

// Duration returns the playback duration of the frame.
func (fr Frame) Duration() time.Duration { return fr.Format.Duration(len(fr.PCM)) }

// EncodeBase64 returns the transport encoding of the frame payload.
func (fr Frame) EncodeBase64() string {
	return base64.StdEncoding.EncodeToString(fr.PCM)
}

// PCM16FromFloat32 converts floating-point samples in [-1, 1] to PCM16
// little-endian bytes. Samples outside the range are clamped rather than
// truncated, since naive multiplication overflows at +1.0.
func PCM16FromFloat32(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		v := float64(s)
		if v > 1.0 {
			v = 1.0
		} else if v < -1.0 {
			v = -1.0
		}
		n := int16(math.Round(v * 32767.0))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(n))
	}
	return out
}

// PeakAmplitude returns the maximum absolute PCM16 sample value in p.
func PeakAmplitude(p []byte) int {
	var peak int
	for i := 0; i+1 < len(p); i += 2 {
		v := int(int16(binary.LittleEndian.Uint16(p[i : i+2])))
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}
