package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// DecodeBase64PCM decodes the base64 payload carried by stream-data frames
// into raw PCM16LE bytes.
func DecodeBase64PCM(encoded string) ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode pcm payload: %w", err)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm payload has odd length %d", len(pcm))
	}
	return pcm, nil
}

// Samples converts PCM16LE bytes into int16 samples. A trailing odd byte is
// ignored.
func Samples(pcm []byte) []int16 {
	n := len(pcm) / 2
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// RMS returns the root-mean-square amplitude of PCM16LE audio, normalized
// to [0, 1]. Empty input yields 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += s * s
	}
	return math.Sqrt(sum/float64(n)) / 32768.0
}

// Peak returns the largest absolute sample value normalized to [0, 1].
func Peak(pcm []byte) float64 {
	n := len(pcm) / 2
	var peak float64
	for i := 0; i < n; i++ {
		s := math.Abs(float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))))
		if s > peak {
			peak = s
		}
	}
	return peak / 32768.0
}
