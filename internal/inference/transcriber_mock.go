package inference

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"voxrelay/internal/core/domain"
	"voxrelay/pkg/audio"
)

const (
	// rmsGate separates voiced chunks from silence.
	rmsGate = 0.015

	// silentChunksToFinal trailing silent chunks close an utterance.
	silentChunksToFinal = 2

	// maxUtterance forces a final result even while the speaker keeps going.
	maxUtterance = 5 * time.Second

	statePruneInterval = time.Minute
	stateMaxIdle       = 10 * time.Minute
)

var koPhrases = [][]string{
	{"안녕하세요", "만나서", "반갑습니다"},
	{"오늘", "회의를", "시작하겠습니다"},
	{"질문이", "있으면", "말씀해", "주세요"},
	{"감사합니다", "좋은", "하루", "되세요"},
}

var enPhrases = [][]string{
	{"hello", "nice", "to", "meet", "you"},
	{"let", "us", "begin", "the", "meeting"},
	{"please", "ask", "your", "questions"},
	{"thank", "you", "and", "goodbye"},
}

type utteranceState struct {
	phraseIndex    int
	wordIndex      int
	voiced         bool
	silentChunks   int
	voicedDuration time.Duration
	lastSeen       time.Time
}

// MockTranscriber synthesizes deterministic transcripts from audio energy.
// Voiced chunks reveal a phrase word by word as interim results; trailing
// silence or an overlong utterance produces the final result. Useful for
// development and for exercising the pipeline without a speech backend.
type MockTranscriber struct {
	language string
	phrases  [][]string
	logger   *zap.Logger

	mu        sync.Mutex
	streams   map[domain.StreamKey]*utteranceState
	lastPrune time.Time
}

// NewMockTranscriber creates a transcriber emitting phrases in language
// (phrase bank selected by its primary subtag, ko or en).
func NewMockTranscriber(language string, logger *zap.Logger) *MockTranscriber {
	phrases := enPhrases
	if strings.HasPrefix(language, "ko") {
		phrases = koPhrases
	}
	return &MockTranscriber{
		language:  language,
		phrases:   phrases,
		logger:    logger,
		streams:   make(map[domain.StreamKey]*utteranceState),
		lastPrune: time.Now(),
	}
}

func (m *MockTranscriber) Name() string { return "mock-transcriber" }

func (m *MockTranscriber) Ready() bool { return true }

func (m *MockTranscriber) Close() error {
	m.mu.Lock()
	m.streams = make(map[domain.StreamKey]*utteranceState)
	m.mu.Unlock()
	return nil
}

// Process consumes one chunk and returns an interim result, a final result,
// or nothing (silence outside an utterance).
func (m *MockTranscriber) Process(ctx context.Context, chunk *domain.AudioChunk) (*domain.TranscriptionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rms := audio.RMS(chunk.PCM)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneLocked()

	st, ok := m.streams[chunk.Key]
	if !ok {
		st = &utteranceState{}
		m.streams[chunk.Key] = st
	}
	st.lastSeen = time.Now()

	if rms < rmsGate {
		if !st.voiced {
			return nil, nil
		}
		st.silentChunks++
		if st.silentChunks >= silentChunksToFinal {
			return m.finalizeLocked(st), nil
		}
		return nil, nil
	}

	st.voiced = true
	st.silentChunks = 0
	st.voicedDuration += chunk.Duration()

	phrase := m.phrases[st.phraseIndex%len(m.phrases)]
	if st.wordIndex < len(phrase) {
		st.wordIndex++
	}

	if st.voicedDuration >= maxUtterance {
		return m.finalizeLocked(st), nil
	}

	return &domain.TranscriptionResult{
		Text:       strings.Join(phrase[:st.wordIndex], " "),
		IsFinal:    false,
		Language:   m.language,
		Confidence: 0.6,
	}, nil
}

// finalizeLocked closes the current utterance and advances to the next
// phrase. Caller holds m.mu.
func (m *MockTranscriber) finalizeLocked(st *utteranceState) *domain.TranscriptionResult {
	phrase := m.phrases[st.phraseIndex%len(m.phrases)]

	st.phraseIndex++
	st.wordIndex = 0
	st.voiced = false
	st.silentChunks = 0
	st.voicedDuration = 0

	return &domain.TranscriptionResult{
		Text:       strings.Join(phrase, " "),
		IsFinal:    true,
		Language:   m.language,
		Confidence: 0.92,
	}
}

// pruneLocked drops state for streams idle past stateMaxIdle. Caller holds
// m.mu.
func (m *MockTranscriber) pruneLocked() {
	now := time.Now()
	if now.Sub(m.lastPrune) < statePruneInterval {
		return
	}
	m.lastPrune = now

	for key, st := range m.streams {
		if now.Sub(st.lastSeen) > stateMaxIdle {
			delete(m.streams, key)
		}
	}
}
