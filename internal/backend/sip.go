package backend

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dialtone-ai/sentra/internal/model"
)

// SIPBackend synthesizes a verdict from connection-quality signals
// (packet loss, jitter) and voice-activity signals computed from the
// decoded audio (activity ratio, speech cadence, pause lengths). Each
// signal contributes a bounded increment to a human/machine score
// accumulator; the higher normalized side wins only above a
// configurable threshold, otherwise the verdict defaults to human.
type SIPBackend struct {
	threshold float64
}

// NewSIPBackend constructs the SIP-heuristic backend. A non-positive
// threshold uses the 0.75 default.
func NewSIPBackend(threshold float64) *SIPBackend {
	if threshold <= 0 {
		threshold = 0.75
	}
	return &SIPBackend{threshold: threshold}
}

func (b *SIPBackend) Strategy() model.Strategy { return model.StrategySIP }

func (b *SIPBackend) Analyze(_ context.Context, snap Snapshot) model.DetectionResult {
	start := time.Now()

	voice := measureVoiceActivity(snap.WAV, snap.SampleRate)
	var humanScore, machineScore float64

	// Connection quality. Pristine links look like call-center or
	// voicemail infrastructure; lossy, jittery links look like handsets.
	if snap.Meta.SIP.PacketLoss < 0.02 {
		machineScore += 0.20
	} else {
		humanScore += 0.10
	}

	switch {
	case snap.Meta.SIP.JitterMs < 5:
		machineScore += 0.15
	case snap.Meta.SIP.JitterMs > 15:
		humanScore += 0.10
	}

	// Voice activity: sustained speech right after pickup is a greeting
	// being recited; sparse activity with a quick burst is a "hello?".
	switch {
	case voice.activityRatio > 0.6:
		humanScore += 0.30
	case voice.activityRatio < 0.4:
		machineScore += 0.25
	}

	switch {
	case voice.cadence > 0.7:
		humanScore += 0.25
	case voice.cadence < 0.3:
		machineScore += 0.30
	}

	switch {
	case voice.meanPause > 1500*time.Millisecond:
		machineScore += 0.20
	case voice.meanPause > 0 && voice.meanPause < 800*time.Millisecond:
		humanScore += 0.15
	}

	// Normalize to the winner's share of all accumulated evidence so
	// the threshold reads as "how one-sided the signals are".
	var normHuman, normMachine float64
	if total := humanScore + machineScore; total > 0 {
		normHuman = humanScore / total
		normMachine = machineScore / total
	}

	meta := map[string]any{
		MetaAudioBytes: snap.MuLawBytes,
		MetaMethod:     "sip_enhanced",
		MetaScores: map[string]float64{
			"human":   normHuman,
			"machine": normMachine,
		},
		"packet_loss":    snap.Meta.SIP.PacketLoss,
		"jitter_ms":      snap.Meta.SIP.JitterMs,
		"activity_ratio": voice.activityRatio,
		"speech_cadence": voice.cadence,
		"mean_pause_ms":  voice.meanPause.Milliseconds(),
	}

	latency := time.Since(start).Milliseconds()
	switch {
	case normHuman >= b.threshold && normHuman > normMachine:
		return model.DetectionResult{
			Detection:  model.DetectionHuman,
			Confidence: Clamp(normHuman),
			LatencyMs:  latency,
			Rationale:  fmt.Sprintf("human signals dominate (%.2f vs %.2f)", normHuman, normMachine),
			Metadata:   meta,
		}
	case normMachine >= b.threshold && normMachine > normHuman:
		return model.DetectionResult{
			Detection:  model.DetectionMachine,
			Confidence: Clamp(normMachine),
			LatencyMs:  latency,
			Rationale:  fmt.Sprintf("machine signals dominate (%.2f vs %.2f)", normMachine, normHuman),
			Metadata:   meta,
		}
	}

	res := fallbackResult(0.60, fmt.Sprintf("ambiguous signals (human %.2f, machine %.2f), defaulting to human", normHuman, normMachine), meta)
	res.LatencyMs = latency
	return res
}

// voiceActivity summarizes the speech pattern of a PCM clip.
type voiceActivity struct {
	activityRatio float64       // fraction of frames with speech energy
	cadence       float64       // rate of speech/silence alternation, normalized
	meanPause     time.Duration // mean length of silent gaps between speech
}

// speech frame parameters: 30 ms windows, mean-absolute-amplitude gate.
const (
	vadFrameMs        = 30
	vadEnergyFloor    = 500.0 // int16 amplitude units
	vadMaxTransitions = 8.0   // transitions/sec at natural conversational cadence
)

// measureVoiceActivity runs a frame-energy loop over the PCM payload of
// a rendered WAV clip.
func measureVoiceActivity(wav []byte, sampleRate int) voiceActivity {
	if sampleRate <= 0 {
		sampleRate = 8000
	}
	if len(wav) <= 44 {
		return voiceActivity{}
	}
	pcm := wav[44:]
	samplesPerFrame := sampleRate * vadFrameMs / 1000
	if samplesPerFrame == 0 {
		return voiceActivity{}
	}

	var (
		totalFrames, voicedFrames, transitions int
		pauses                                 []int // lengths in frames
		pauseRun                               int
		prevVoiced                             bool
	)
	for off := 0; off+samplesPerFrame*2 <= len(pcm); off += samplesPerFrame * 2 {
		var sum float64
		for i := 0; i < samplesPerFrame; i++ {
			s := int16(binary.LittleEndian.Uint16(pcm[off+i*2:]))
			if s < 0 {
				s = -s
			}
			sum += float64(s)
		}
		voiced := sum/float64(samplesPerFrame) >= vadEnergyFloor

		if voiced {
			voicedFrames++
			if pauseRun > 0 {
				pauses = append(pauses, pauseRun)
				pauseRun = 0
			}
		} else {
			pauseRun++
		}
		if totalFrames > 0 && voiced != prevVoiced {
			transitions++
		}
		prevVoiced = voiced
		totalFrames++
	}
	if totalFrames == 0 {
		return voiceActivity{}
	}

	durationSec := float64(totalFrames*vadFrameMs) / 1000
	cadence := 0.0
	if durationSec > 0 {
		cadence = float64(transitions) / durationSec / vadMaxTransitions
		if cadence > 1 {
			cadence = 1
		}
	}

	var meanPause time.Duration
	if len(pauses) > 0 {
		total := 0
		for _, p := range pauses {
			total += p
		}
		meanPause = time.Duration(total*vadFrameMs/len(pauses)) * time.Millisecond
	}

	return voiceActivity{
		activityRatio: float64(voicedFrames) / float64(totalFrames),
		cadence:       cadence,
		meanPause:     meanPause,
	}
}
