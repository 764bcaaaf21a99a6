// Package lang validates and normalizes the language hint accepted by
// the transcription API. The upstream service takes ISO 639-1 base
// codes only, so regional locales are reduced to their base language.
package lang

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid indicates a language hint outside the supported set.
var ErrInvalid = errors.New("invalid language code")

// supported holds the ISO 639-1 codes the transcription service accepts.
// Not exhaustive, but covers every language the service documents.
var supported = map[string]bool{
	"af": true, "ar": true, "bg": true, "bn": true, "ca": true,
	"cs": true, "da": true, "de": true, "el": true, "en": true,
	"es": true, "et": true, "fa": true, "fi": true, "fr": true,
	"gu": true, "he": true, "hi": true, "hr": true, "hu": true,
	"id": true, "it": true, "ja": true, "kn": true, "ko": true,
	"lt": true, "lv": true, "mk": true, "ml": true, "mr": true,
	"ms": true, "nl": true, "no": true, "pa": true, "pl": true,
	"pt": true, "ro": true, "ru": true, "sk": true, "sl": true,
	"sr": true, "sv": true, "sw": true, "ta": true, "te": true,
	"th": true, "tl": true, "tr": true, "uk": true, "ur": true,
	"vi": true, "zh": true,
}

// Normalize lowercases a code and unifies the locale separator:
// "pt_BR", "PT-BR" and "pt-br" all become "pt-br".
func Normalize(code string) string {
	return strings.ToLower(strings.ReplaceAll(code, "_", "-"))
}

// Base reduces a locale to its ISO 639-1 base code ("pt-BR" -> "pt").
// Empty input stays empty, which means auto-detect upstream.
func Base(code string) string {
	normalized := Normalize(code)
	if idx := strings.Index(normalized, "-"); idx != -1 {
		return normalized[:idx]
	}
	return normalized
}

// Validate accepts base codes and regional locales whose base language
// is supported. Empty input is valid and means auto-detect.
func Validate(code string) error {
	if code == "" {
		return nil
	}
	if !supported[Base(code)] {
		return fmt.Errorf("language %q is not a supported ISO 639-1 code: %w",
			code, ErrInvalid)
	}
	return nil
}
