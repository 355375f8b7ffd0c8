package mailparse

// Attachment is a decoded attachment part
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// ExtractAttachments returns the parts whose disposition marks them as attachments,
// in MIME traversal order. Parts without a filename are skipped.
func ExtractAttachments(msg *Message) []Attachment {
	var attachments []Attachment
	for _, p := range msg.Parts {
		if !isAttachment(p) || p.Filename == "" {
			continue
		}
		filename := DecodeHeader(p.Filename)
		if filename == "" {
			continue
		}
		attachments = append(attachments, Attachment{
			Filename:    filename,
			ContentType: p.ContentType,
			Content:     p.Body,
		})
	}
	return attachments
}
