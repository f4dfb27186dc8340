package audio

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"math"
	"testing"
)

func pcmFromSamples(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}

func TestDecodeBase64PCM(t *testing.T) {
	raw := pcmFromSamples([]int16{100, -100, 32767, -32768})
	encoded := base64.StdEncoding.EncodeToString(raw)

	pcm, err := DecodeBase64PCM(encoded)
	if err != nil {
		t.Fatalf("DecodeBase64PCM() error = %v", err)
	}
	if len(pcm) != len(raw) {
		t.Errorf("len = %d, want %d", len(pcm), len(raw))
	}

	samples := Samples(pcm)
	want := []int16{100, -100, 32767, -32768}
	for i, s := range samples {
		if s != want[i] {
			t.Errorf("sample[%d] = %d, want %d", i, s, want[i])
		}
	}
}

func TestDecodeBase64PCM_Invalid(t *testing.T) {
	if _, err := DecodeBase64PCM("not base64!!!"); err == nil {
		t.Error("DecodeBase64PCM() should reject invalid base64")
	}

	// 3 bytes decodes fine but is not a whole number of 16-bit samples
	odd := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	if _, err := DecodeBase64PCM(odd); err == nil {
		t.Error("DecodeBase64PCM() should reject odd-length payloads")
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}

	silence := pcmFromSamples(make([]int16, 160))
	if got := RMS(silence); got != 0 {
		t.Errorf("RMS(silence) = %v, want 0", got)
	}

	// Constant amplitude 16384 -> RMS 0.5
	loud := make([]int16, 160)
	for i := range loud {
		loud[i] = 16384
	}
	if got := RMS(pcmFromSamples(loud)); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("RMS(const 16384) = %v, want 0.5", got)
	}
}

func TestPeak(t *testing.T) {
	pcm := pcmFromSamples([]int16{0, 100, -16384, 200})
	if got := Peak(pcm); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("Peak() = %v, want 0.5", got)
	}
}

func TestBuildWAV(t *testing.T) {
	pcm := pcmFromSamples([]int16{1, 2, 3, 4})
	wav := BuildWAV(pcm, 16000, 1, 16)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE markers")
	}
	if sr := binary.LittleEndian.Uint32(wav[24:28]); sr != 16000 {
		t.Errorf("sample rate = %d, want 16000", sr)
	}
	if dataLen := binary.LittleEndian.Uint32(wav[40:44]); dataLen != uint32(len(pcm)) {
		t.Errorf("data length = %d, want %d", dataLen, len(pcm))
	}
}

func TestAppendWAVWithPool(t *testing.T) {
	pool := NewBufferPool()
	pcm := pcmFromSamples([]int16{5, 6, 7, 8})
	want := BuildWAV(pcm, 48000, 2, 16)

	for i := 0; i < 3; i++ {
		wav := AppendWAV(pool.Get(0), pcm, 48000, 2, 16)
		if !bytes.Equal(wav, want) {
			t.Fatalf("round %d: pooled AppendWAV differs from BuildWAV", i)
		}
		pool.Put(wav)
	}
}

func TestBufferPool(t *testing.T) {
	pool := NewBufferPool()

	b := pool.Get(1024)
	if len(b) != 1024 {
		t.Errorf("Get(1024) len = %d, want 1024", len(b))
	}
	pool.Put(b)

	big := pool.Get(1 << 20)
	if len(big) != 1<<20 {
		t.Errorf("Get(1MB) len = %d", len(big))
	}
	pool.Put(big)
}
