package inference

import (
	"context"
	"fmt"

	"voxrelay/internal/core/domain"
)

// koEnPhrases translates the mock transcriber's phrase bank so an
// end-to-end mock pipeline produces plausible output.
var koEnPhrases = map[string]string{
	"안녕하세요 만나서 반갑습니다": "Hello, nice to meet you.",
	"오늘 회의를 시작하겠습니다":  "Let us begin today's meeting.",
	"질문이 있으면 말씀해 주세요": "Please speak up if you have questions.",
	"감사합니다 좋은 하루 되세요": "Thank you, have a good day.",
}

// MockTranslator performs deterministic dictionary translation for the
// configured language pair, falling back to a tagged passthrough for text
// outside the dictionary.
type MockTranslator struct {
	source string
	target string
	dict   map[string]string
}

// NewMockTranslator creates a translator for the source→target pair. The
// built-in dictionary covers ko→en; other pairs always take the fallback.
func NewMockTranslator(source, target string) *MockTranslator {
	dict := map[string]string{}
	if source == "ko" && target == "en" {
		dict = koEnPhrases
	}
	return &MockTranslator{
		source: source,
		target: target,
		dict:   dict,
	}
}

func (m *MockTranslator) Name() string { return "mock-translator" }

func (m *MockTranslator) Ready() bool { return true }

func (m *MockTranslator) Close() error { return nil }

func (m *MockTranslator) Process(ctx context.Context, key domain.StreamKey, text string) (*domain.TranslationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	translated, ok := m.dict[text]
	if !ok {
		translated = fmt.Sprintf("[%s] %s", m.target, text)
	}

	return &domain.TranslationResult{
		SourceText:     text,
		TranslatedText: translated,
		SourceLanguage: m.source,
		TargetLanguage: m.target,
	}, nil
}
