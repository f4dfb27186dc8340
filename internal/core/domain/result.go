package domain

// TranscriptionResult is the output of the speech recognition stage.
type TranscriptionResult struct {
	Text       string  `json:"text"`
	IsFinal    bool    `json:"isFinal"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

// TranslationResult is the output of the translation stage.
type TranslationResult struct {
	SourceText     string `json:"sourceText"`
	TranslatedText string `json:"translatedText"`
	SourceLanguage string `json:"sourceLanguage"`
	TargetLanguage string `json:"targetLanguage"`
}

type EmotionCategory string

const (
	EmotionNeutral   EmotionCategory = "neutral"
	EmotionHappy     EmotionCategory = "happy"
	EmotionSad       EmotionCategory = "sad"
	EmotionAngry     EmotionCategory = "angry"
	EmotionFearful   EmotionCategory = "fearful"
	EmotionDisgusted EmotionCategory = "disgusted"
	EmotionSurprised EmotionCategory = "surprised"
)

// EmotionCategories lists every category a weight map must cover.
var EmotionCategories = []EmotionCategory{
	EmotionNeutral,
	EmotionHappy,
	EmotionSad,
	EmotionAngry,
	EmotionFearful,
	EmotionDisgusted,
	EmotionSurprised,
}

// EmotionResult is the output of the emotion analysis stage.
// Weights holds a full distribution over EmotionCategories summing to 1.0.
type EmotionResult struct {
	Category   EmotionCategory             `json:"category"`
	Confidence float64                     `json:"confidence"`
	Weights    map[EmotionCategory]float64 `json:"weights"`
}

// NormalizeWeights rescales the weight map so it sums to exactly 1.0 and
// refreshes Category to the heaviest entry. A zero-total map collapses to
// all-neutral.
func (r *EmotionResult) NormalizeWeights() {
	var total float64
	for _, w := range r.Weights {
		total += w
	}
	if total <= 0 {
		r.Weights = map[EmotionCategory]float64{EmotionNeutral: 1.0}
		r.Category = EmotionNeutral
		r.Confidence = 1.0
		return
	}

	best := r.Category
	var bestWeight float64
	for cat, w := range r.Weights {
		r.Weights[cat] = w / total
		if r.Weights[cat] > bestWeight {
			best = cat
			bestWeight = r.Weights[cat]
		}
	}
	r.Category = best
	r.Confidence = bestWeight
}
