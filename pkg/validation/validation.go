package validation

import (
	"fmt"
	"net/url"
	"regexp"
)

var (
	// IdentifierRegex validates room/peer/producer identifier format
	IdentifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// LanguageRegex validates BCP-47-ish language codes (ko, en, en-US)
	LanguageRegex = regexp.MustCompile(`^[a-z]{2,3}(-[A-Za-z0-9]{2,8})*$`)
)

// ValidateIdentifier validates a room, peer or producer ID.
func ValidateIdentifier(id, fieldName string) error {
	if id == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if len(id) > 100 {
		return fmt.Errorf("%s is too long (max 100 characters)", fieldName)
	}
	if !IdentifierRegex.MatchString(id) {
		return fmt.Errorf("invalid %s format (only letters, numbers, _, - allowed)", fieldName)
	}
	return nil
}

// ValidateRoomID validates a room ID.
func ValidateRoomID(roomID string) error {
	return ValidateIdentifier(roomID, "room ID")
}

// ValidatePeerID validates a peer ID.
func ValidatePeerID(peerID string) error {
	return ValidateIdentifier(peerID, "peer ID")
}

// ValidateProducerID validates a producer ID.
func ValidateProducerID(producerID string) error {
	return ValidateIdentifier(producerID, "producer ID")
}

// ValidateLanguage validates a language code.
func ValidateLanguage(lang string) error {
	if lang == "" {
		return fmt.Errorf("language is required")
	}
	if !LanguageRegex.MatchString(lang) {
		return fmt.Errorf("invalid language code %q", lang)
	}
	return nil
}

// ValidateSampleRate validates a PCM sample rate.
func ValidateSampleRate(rate int) error {
	switch rate {
	case 8000, 16000, 22050, 24000, 44100, 48000:
		return nil
	default:
		return fmt.Errorf("unsupported sample rate %d", rate)
	}
}

// ValidateChannels validates a PCM channel count.
func ValidateChannels(channels int) error {
	if channels < 1 || channels > 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", channels)
	}
	return nil
}

// ValidateWebSocketURL validates an upstream WebSocket URL.
func ValidateWebSocketURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be ws or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateHTTPURL validates a remote provider endpoint URL.
func ValidateHTTPURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme (must be http or https)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := len(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
