package audio

import "encoding/binary"

const wavHeaderSize = 44

// DecodeMuLaw converts one ITU-T G.711 µ-law byte to a 16-bit linear
// PCM sample using the table-free inverse transform.
func DecodeMuLaw(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F

	sample := (int32(mantissa)<<3 + 0x84) << exponent
	if sign != 0 {
		sample = -sample
	}
	return int16(sample)
}

// MuLawToPCM decodes a µ-law byte sequence to little-endian 16-bit PCM.
// Output is exactly twice the input length.
func MuLawToPCM(mulaw []byte) []byte {
	pcm := make([]byte, len(mulaw)*2)
	for i, mb := range mulaw {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(DecodeMuLaw(mb)))
	}
	return pcm
}

// MuLawToWAV decodes µ-law audio and prepends the canonical 44-byte
// RIFF/WAVE header (PCM, mono, 16-bit). Output length is always
// 44 + 2×len(mulaw).
func MuLawToWAV(mulaw []byte, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	pcm := MuLawToPCM(mulaw)
	out := make([]byte, 0, wavHeaderSize+len(pcm))
	out = append(out, wavHeader(len(pcm), sampleRate, 1, 16)...)
	return append(out, pcm...)
}

// wavHeader builds the 44-byte RIFF/WAVE header for a PCM data chunk.
func wavHeader(dataLen, sampleRate, channels, bitsPerSample int) []byte {
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	h := make([]byte, wavHeaderSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+dataLen))
	copy(h[8:12], "WAVE")

	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16) // PCM subchunk size
	binary.LittleEndian.PutUint16(h[20:22], 1)  // format tag: PCM
	binary.LittleEndian.PutUint16(h[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(h[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:36], uint16(bitsPerSample))

	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataLen))
	return h
}
