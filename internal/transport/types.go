package transport

import (
	"context"
	"errors"
	"fmt"
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
	// UpdateStart is a /start command, optionally carrying a deep-link payload.
	UpdateStart UpdateKind = "start"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	FromName     string
	Text         string
	// StartPayload is the argument of "/start <payload>", empty otherwise.
	StartPayload string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// PayloadKind tags the Payload union.
type PayloadKind string

const (
	PayloadText       PayloadKind = "text"
	PayloadAttachment PayloadKind = "attachment"
	PayloadGroup      PayloadKind = "group"
)

type AttachmentKind string

const (
	AttachPhoto    AttachmentKind = "photo"
	AttachDocument AttachmentKind = "document"
	AttachVideo    AttachmentKind = "video"
)

// Attachment references an already uploaded file (telegram file_id).
type Attachment struct {
	Kind AttachmentKind `json:"type"`
	Ref  string         `json:"file_id"`
}

// Entity is a rich-text annotation span over Text or Caption, in UTF-16 units.
type Entity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
	URL    string `json:"url,omitempty"`
	UserID int64  `json:"user_id,omitempty"`
	Lang   string `json:"language,omitempty"`
	Emoji  string `json:"custom_emoji_id,omitempty"`
}

// Payload is what a campaign (or a keyword material) delivers:
//   - text: Text plus Entities
//   - attachment: one attachment with Caption plus Entities
//   - group: 2..10 attachments sent as one album; Caption goes on the first item
type Payload struct {
	Kind        PayloadKind  `json:"kind"`
	Text        string       `json:"text,omitempty"`
	Caption     string       `json:"caption,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Entities    []Entity     `json:"entities,omitempty"`
}

const MaxGroupSize = 10

var ErrBadPayload = errors.New("transport: malformed payload")

func TextPayload(text string, entities ...Entity) Payload {
	return Payload{Kind: PayloadText, Text: text, Entities: entities}
}

// AttachmentsPayload picks the single or group shape from the number of files.
func AttachmentsPayload(caption string, items []Attachment, entities ...Entity) Payload {
	kind := PayloadGroup
	if len(items) == 1 {
		kind = PayloadAttachment
	}
	return Payload{Kind: kind, Caption: caption, Attachments: items, Entities: entities}
}

func (p Payload) Validate() error {
	switch p.Kind {
	case PayloadText:
		if p.Text == "" {
			return fmt.Errorf("%w: empty text", ErrBadPayload)
		}
		return nil
	case PayloadAttachment:
		if len(p.Attachments) != 1 {
			return fmt.Errorf("%w: attachment payload with %d items", ErrBadPayload, len(p.Attachments))
		}
	case PayloadGroup:
		if len(p.Attachments) < 2 || len(p.Attachments) > MaxGroupSize {
			return fmt.Errorf("%w: group of %d items", ErrBadPayload, len(p.Attachments))
		}
	default:
		return fmt.Errorf("%w: kind %q", ErrBadPayload, p.Kind)
	}
	for _, a := range p.Attachments {
		switch a.Kind {
		case AttachPhoto, AttachDocument, AttachVideo:
		default:
			return fmt.Errorf("%w: attachment kind %q", ErrBadPayload, a.Kind)
		}
		if a.Ref == "" {
			return fmt.Errorf("%w: attachment without file reference", ErrBadPayload)
		}
	}
	return nil
}

// Deliverer sends one payload to one chat. Errors are opaque to callers.
type Deliverer interface {
	Deliver(ctx context.Context, to ChatTarget, p Payload) error
}

type Adapter interface {
	Deliverer

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}
