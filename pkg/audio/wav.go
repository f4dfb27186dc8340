package audio

import (
	"encoding/binary"
)

// AppendWAV appends a RIFF/WAVE rendering of raw PCM16LE bytes to dst and
// returns the extended slice. Pair it with a BufferPool on hot paths.
func AppendWAV(dst, pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)
	dataLen := uint32(len(pcm))

	dst = append(dst, "RIFF"...)
	dst = binary.LittleEndian.AppendUint32(dst, 4+(8+16)+(8+dataLen))
	dst = append(dst, "WAVE"...)
	dst = append(dst, "fmt "...)
	dst = binary.LittleEndian.AppendUint32(dst, 16)
	dst = binary.LittleEndian.AppendUint16(dst, 1)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(channels))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(sampleRate))
	dst = binary.LittleEndian.AppendUint32(dst, byteRate)
	dst = binary.LittleEndian.AppendUint16(dst, blockAlign)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(bitsPerSample))
	dst = append(dst, "data"...)
	dst = binary.LittleEndian.AppendUint32(dst, dataLen)
	dst = append(dst, pcm...)
	return dst
}

// BuildWAV wraps raw PCM16LE bytes in a RIFF/WAVE header so HTTP inference
// backends can consume them as audio/wav.
func BuildWAV(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	return AppendWAV(make([]byte, 0, 44+len(pcm)), pcm, sampleRate, channels, bitsPerSample)
}
