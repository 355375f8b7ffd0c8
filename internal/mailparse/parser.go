package mailparse

import (
	"bytes"
	"io"
	"strings"

	"github.com/emersion/go-message"

	// Register charset decoders (windows-1252, iso-8859-*, koi8-r, etc.)
	_ "github.com/emersion/go-message/charset"
)

// maxPartDepth bounds multipart nesting
const maxPartDepth = 32

// Part is one leaf of a message's MIME tree. Transfer encoding is removed and text
// parts in a known charset are already converted to UTF-8.
type Part struct {
	ContentType string // lowercase media type, e.g. "text/plain"
	Charset     string
	Disposition string // raw Content-Disposition value
	Filename    string // raw, possibly encoded
	Body        []byte
}

// Message is a raw message decomposed into headers and leaf parts in traversal order
type Message struct {
	Header message.Header
	Parts  []Part
	Raw    []byte
}

// Parse decodes a raw RFC 822 message. It always returns a usable Message: unknown
// charsets or transfer encodings keep the undecoded bytes, a broken multipart stops
// at the last readable part, and an unreadable header block yields a message with no
// parts. The returned error only reports such degradation.
func Parse(raw []byte) (*Message, error) {
	msg := &Message{Raw: raw}

	entity, err := message.Read(bytes.NewReader(raw))
	if entity == nil {
		return msg, err
	}

	msg.Header = entity.Header
	walk(entity, 0, func(p Part) {
		msg.Parts = append(msg.Parts, p)
	})

	return msg, err
}

// Get returns a raw header value
func (m *Message) Get(key string) string {
	return m.Header.Get(key)
}

func walk(e *message.Entity, depth int, visit func(Part)) {
	if mr := e.MultipartReader(); mr != nil {
		if depth >= maxPartDepth {
			return
		}
		for {
			// unknown charset errors still come with a readable part
			p, err := mr.NextPart()
			if err == io.EOF || p == nil {
				return
			}
			walk(p, depth+1, visit)
		}
	}

	visit(readPart(e))
}

func readPart(e *message.Entity) Part {
	p := Part{
		Disposition: e.Header.Get("Content-Disposition"),
	}

	mediaType, params, err := e.Header.ContentType()
	if err != nil || mediaType == "" {
		mediaType = "text/plain"
	}
	p.ContentType = strings.ToLower(mediaType)
	p.Charset = params["charset"]

	if _, dispParams, err := e.Header.ContentDisposition(); err == nil {
		p.Filename = dispParams["filename"]
	}
	if p.Filename == "" {
		p.Filename = params["name"]
	}

	body, _ := io.ReadAll(e.Body)
	p.Body = body

	return p
}
