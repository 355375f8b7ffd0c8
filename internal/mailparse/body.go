package mailparse

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// rawFallbackLength is how much of the raw message is kept when no text part exists
const rawFallbackLength = 200

// ExtractBody returns a best-effort plain-text body. Inline text/plain parts win over
// text/html parts; HTML is reduced to its visible text; when neither yields anything
// the start of the raw message is used so the body is never silently empty. The
// result is restricted to printable characters with whitespace collapsed.
func ExtractBody(msg *Message) string {
	var plain, htmlBuf []string

	for _, p := range msg.Parts {
		if isAttachment(p) {
			continue
		}
		switch p.ContentType {
		case "text/plain":
			plain = append(plain, strings.ToValidUTF8(string(p.Body), "\uFFFD"))
		case "text/html":
			htmlBuf = append(htmlBuf, strings.ToValidUTF8(string(p.Body), "\uFFFD"))
		}
	}

	if text := strings.TrimSpace(strings.Join(plain, " ")); text != "" {
		return cleanText(text)
	}

	if text := strings.TrimSpace(htmlToText(strings.Join(htmlBuf, ""))); text != "" {
		return cleanText(text)
	}

	raw := strings.ToValidUTF8(string(msg.Raw), "")
	if len(raw) > rawFallbackLength {
		raw = strings.ToValidUTF8(raw[:rawFallbackLength], "")
	}
	return cleanText(raw)
}

func isAttachment(p Part) bool {
	return strings.Contains(strings.ToLower(p.Disposition), "attachment")
}

// htmlToText keeps the text tokens of an HTML document, skipping script and style
func htmlToText(htmlBody string) string {
	if htmlBody == "" {
		return ""
	}

	z := html.NewTokenizer(strings.NewReader(htmlBody))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.StartTagToken:
			if name, _ := z.TagName(); isHiddenTag(string(name)) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isHiddenTag(string(name)) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			if t := strings.TrimSpace(string(z.Text())); t != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(t)
			}
		}
	}
}

func isHiddenTag(name string) bool {
	return name == "script" || name == "style"
}

// cleanText drops non-printable characters and collapses whitespace runs to one space
func cleanText(s string) string {
	printable := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return ' '
		}
		if !unicode.IsPrint(r) {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(printable), " ")
}
