package mailparse

import (
	"encoding/base64"
	"mime"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/emersion/go-message/charset"
)

// encodedWord matches one RFC 2047 encoded-word: =?charset?B|Q?text?=
var encodedWord = regexp.MustCompile(`=\?([^?\s]+)\?([bBqQ])\?([^?\s]*)\?=`)

// interWordSpace matches whitespace that only separates two encoded-words
var interWordSpace = regexp.MustCompile(`^[ \t\r\n]+$`)

var headerArtifacts = strings.NewReplacer(`"`, "", "'", "", "<", "", ">", "", "\x00", "")

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// DecodeHeader decodes MIME-encoded headers (e.g., "=?UTF-8?B?...?=") to plain text.
// Each encoded-word is decoded with its own charset, falling back to UTF-8 when the
// charset is unknown; undecodable bytes of a fragment are dropped. Quotes,
// angle brackets and NUL bytes left over from address formatting are removed.
func DecodeHeader(encoded string) string {
	if encoded == "" {
		return ""
	}

	var b strings.Builder
	last := 0
	prevWasWord := false
	for _, loc := range encodedWord.FindAllStringSubmatchIndex(encoded, -1) {
		between := encoded[last:loc[0]]
		// RFC 2047: whitespace between adjacent encoded-words is not displayed
		if !(prevWasWord && interWordSpace.MatchString(between)) {
			b.WriteString(between)
		}
		b.WriteString(decodeWord(encoded[loc[2]:loc[3]], encoded[loc[4]:loc[5]], encoded[loc[6]:loc[7]]))
		last = loc[1]
		prevWasWord = true
	}
	b.WriteString(encoded[last:])

	decoded := strings.ToValidUTF8(b.String(), "")
	return strings.TrimSpace(headerArtifacts.Replace(decoded))
}

func decodeWord(charsetName, encoding, text string) string {
	if decoded, ok := decodeWordAs(charsetName, encoding, text); ok {
		return decoded
	}
	if !strings.EqualFold(encoding, "b") {
		return ""
	}
	// Corrupt base64: keep what decodes before the first bad byte
	if valid := validBase64Prefix(text); valid != "" {
		decoded, _ := decodeWordAs(charsetName, "B", valid)
		return decoded
	}
	return ""
}

// decodeWordAs decodes one encoded-word, reinterpreting the payload as UTF-8 when its
// charset is unsupported or mislabelled
func decodeWordAs(charsetName, encoding, text string) (string, bool) {
	if decoded, err := wordDecoder.Decode("=?" + charsetName + "?" + encoding + "?" + text + "?="); err == nil {
		return decoded, true
	}
	if decoded, err := wordDecoder.Decode("=?utf-8?" + encoding + "?" + text + "?="); err == nil {
		return decoded, true
	}
	return "", false
}

// validBase64Prefix re-encodes the bytes carried by the leading base64 characters of text
func validBase64Prefix(text string) string {
	end := strings.IndexFunc(text, func(r rune) bool {
		return !(r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '+' || r == '/')
	})
	if end < 0 {
		end = len(text)
	}
	prefix := text[:end]
	if len(prefix)%4 == 1 {
		prefix = prefix[:len(prefix)-1]
	}
	data, err := base64.RawStdEncoding.DecodeString(prefix)
	if err != nil || len(data) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

// trailingComment matches a parenthesised comment at the end of a date, e.g. "(UTC)"
var trailingComment = regexp.MustCompile(`\s*\([^()]*\)\s*$`)

// ParseDate extracts a timestamp from a loosely formatted Date header. Only the text
// after the last newline and the last semicolon is considered. It reports false when
// nothing usable is found; callers substitute the processing time.
func ParseDate(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}

	candidate := raw
	if i := strings.LastIndex(candidate, "\n"); i >= 0 {
		candidate = candidate[i+1:]
	}
	if i := strings.LastIndex(candidate, ";"); i >= 0 {
		candidate = candidate[i+1:]
	}
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return time.Time{}, false
	}

	if t, err := mail.ParseDate(candidate); err == nil && plausibleDate(t) {
		return t, true
	}

	candidate = trailingComment.ReplaceAllString(candidate, "")
	if t, err := dateparse.ParseIn(candidate, time.UTC); err == nil && plausibleDate(t) {
		return t, true
	}

	return time.Time{}, false
}

// plausibleDate rejects the zero-year results lenient parsing produces for fragments like "Mon, 1"
func plausibleDate(t time.Time) bool {
	return t.Year() >= 1
}
