package logger

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Length caps for values copied from requests into log fields
const (
	MaxPathLength          = 500
	MaxIDLength            = 128
	MaxEventLength         = 64
	MaxGeneralStringLength = 2000
)

const truncatedSuffix = "..."

// SanitizeString makes free text from a request safe to log: invalid UTF-8
// and control characters other than tab and line breaks are dropped, and the
// result is capped at maxLength bytes. A non-positive maxLength uses
// MaxGeneralStringLength.
func SanitizeString(s string, maxLength int) string {
	return sanitize(s, maxLength, true)
}

// SanitizePath sanitizes a URL path for logging. Paths never keep line breaks.
func SanitizePath(path string) string {
	return sanitize(path, MaxPathLength, false)
}

// SanitizeID sanitizes an externally supplied identifier such as a webhook
// record id or an employee or team id
func SanitizeID(id string) string {
	return sanitize(id, MaxIDLength, false)
}

// SanitizeEvent sanitizes a webhook event name
func SanitizeEvent(event string) string {
	return sanitize(event, MaxEventLength, false)
}

func sanitize(s string, maxLength int, multiline bool) string {
	if s == "" {
		return ""
	}
	if maxLength <= 0 {
		maxLength = MaxGeneralStringLength
	}

	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == utf8.RuneError:
			return -1
		case r == '\t' || r == ' ':
			return r
		case r == '\n' || r == '\r':
			if multiline {
				return r
			}
			return -1
		case unicode.IsPrint(r):
			return r
		default:
			return -1
		}
	}, strings.ToValidUTF8(s, ""))

	if len(cleaned) > maxLength {
		cut := maxLength
		for cut > 0 && !isRuneStart(cleaned[cut]) {
			cut--
		}
		cleaned = cleaned[:cut] + truncatedSuffix
	}
	return cleaned
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
