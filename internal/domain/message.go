package domain

import "time"

// AttachmentKind tags the single media variant a message may carry.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentAudio    AttachmentKind = "audio"
	AttachmentVideo    AttachmentKind = "video"
	AttachmentDocument AttachmentKind = "document"
)

// Attachment is the one primary media payload of a message. Text is set
// instead of Data for text-extractable documents (inlined into the prompt
// rather than sent as binary).
type Attachment struct {
	Kind      AttachmentKind
	MediaType string
	Data      []byte
	Text      string
	Size      int64
}

// Summary returns the history marker recorded alongside a turn that
// carried this attachment.
func (a *Attachment) Summary() string {
	switch a.Kind {
	case AttachmentImage:
		return "[User sent an IMAGE]"
	case AttachmentAudio:
		return "[User sent a VOICE MESSAGE]"
	case AttachmentVideo:
		return "[User sent a VIDEO]"
	case AttachmentDocument:
		return "[User sent a DOCUMENT]"
	}
	return ""
}

type InboundMessage struct {
	Channel    string
	ChatID     string
	SenderID   string
	SenderName string
	Content    string
	Attachment *Attachment
	Timestamp  time.Time
	Provider   string // optional: manual provider override for this message
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	Format  string // text | markdown
}
