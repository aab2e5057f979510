package backend

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dialtone-ai/sentra/internal/model"
)

// sipWAV builds a minimal WAV clip from a per-frame voiced pattern
// (30ms frames at 8kHz, amplitude 2000 for voiced frames).
func sipWAV(frames []bool) []byte {
	const samplesPerFrame = 240 // 30ms at 8kHz
	wav := make([]byte, 44, 44+len(frames)*samplesPerFrame*2)
	for _, voiced := range frames {
		var amp uint16
		if voiced {
			amp = 2000
		}
		for i := 0; i < samplesPerFrame; i++ {
			var s [2]byte
			binary.LittleEndian.PutUint16(s[:], amp)
			wav = append(wav, s[0], s[1])
		}
	}
	return wav
}

func repeatFrames(voiced bool, n int) []bool {
	frames := make([]bool, n)
	for i := range frames {
		frames[i] = voiced
	}
	return frames
}

func TestSIPSilentPristineLinkReadsMachine(t *testing.T) {
	b := NewSIPBackend(0.75)

	// Dead silence on a perfect link: every signal points at
	// infrastructure, none at a handset.
	res := b.Analyze(context.Background(), Snapshot{
		WAV:        sipWAV(repeatFrames(false, 100)), // 3s silence
		MuLawBytes: 24000,
		SampleRate: 8000,
		Meta:       model.CallMetadata{SIP: model.SIPMetrics{PacketLoss: 0, JitterMs: 1}},
	})
	assert.Equal(t, model.DetectionMachine, res.Detection)
	assert.GreaterOrEqual(t, res.Confidence, 0.75)
}

func TestSIPConversationalPatternReadsHuman(t *testing.T) {
	b := NewSIPBackend(0.75)

	// Alternating bursts (a "hello? ... hello?") on a lossy, jittery
	// mobile leg.
	frames := make([]bool, 100)
	for i := range frames {
		frames[i] = i%2 == 0
	}
	res := b.Analyze(context.Background(), Snapshot{
		WAV:        sipWAV(frames),
		MuLawBytes: 24000,
		SampleRate: 8000,
		Meta:       model.CallMetadata{SIP: model.SIPMetrics{PacketLoss: 0.05, JitterMs: 20}},
	})
	assert.Equal(t, model.DetectionHuman, res.Detection)
	assert.GreaterOrEqual(t, res.Confidence, 0.75)
	assert.Nil(t, res.Metadata[MetaFallback])
}

func TestSIPAmbiguousSignalsFallBackToHuman(t *testing.T) {
	b := NewSIPBackend(0.75)

	// Sustained monotone speech on a pristine link: voice activity says
	// human, everything else says machine, nobody clears the bar.
	res := b.Analyze(context.Background(), Snapshot{
		WAV:        sipWAV(repeatFrames(true, 100)),
		MuLawBytes: 24000,
		SampleRate: 8000,
		Meta:       model.CallMetadata{SIP: model.SIPMetrics{PacketLoss: 0, JitterMs: 1}},
	})
	assert.Equal(t, model.DetectionHuman, res.Detection)
	assert.InDelta(t, 0.60, res.Confidence, 1e-9)
	assert.Equal(t, true, res.Metadata[MetaFallback])
}

func TestMeasureVoiceActivityEmptyClip(t *testing.T) {
	voice := measureVoiceActivity(nil, 8000)
	assert.Zero(t, voice.activityRatio)
	assert.Zero(t, voice.cadence)
	assert.Zero(t, voice.meanPause)
}

func TestMeasureVoiceActivityPauses(t *testing.T) {
	// Two bursts separated by a 10-frame (300ms) gap.
	frames := make([]bool, 0, 30)
	frames = append(frames, repeatFrames(true, 10)...)
	frames = append(frames, repeatFrames(false, 10)...)
	frames = append(frames, repeatFrames(true, 10)...)

	voice := measureVoiceActivity(sipWAV(frames), 8000)
	assert.InDelta(t, 20.0/30.0, voice.activityRatio, 1e-9)
	assert.Equal(t, 300*time.Millisecond, voice.meanPause)
}
