package adapter

import (
	"fmt"

	tele "gopkg.in/telebot.v4"

	kit "mailbot/internal/transport"
)

func toEntities(in []kit.Entity) tele.Entities {
	if len(in) == 0 {
		return nil
	}
	out := make(tele.Entities, 0, len(in))
	for _, e := range in {
		te := tele.MessageEntity{
			Type:          tele.EntityType(e.Type),
			Offset:        e.Offset,
			Length:        e.Length,
			URL:           e.URL,
			Language:      e.Lang,
			CustomEmojiID: e.Emoji,
		}
		if e.UserID != 0 {
			te.User = &tele.User{ID: e.UserID}
		}
		out = append(out, te)
	}
	return out
}

// toMedia builds the telebot sendable for one already uploaded file.
func toMedia(a kit.Attachment, caption string) (tele.Sendable, error) {
	file := tele.File{FileID: a.Ref}
	switch a.Kind {
	case kit.AttachPhoto:
		return &tele.Photo{File: file, Caption: caption}, nil
	case kit.AttachDocument:
		return &tele.Document{File: file, Caption: caption}, nil
	case kit.AttachVideo:
		return &tele.Video{File: file, Caption: caption}, nil
	}
	return nil, fmt.Errorf("%w: attachment kind %q", kit.ErrBadPayload, a.Kind)
}

// inputMedia is one element of sendMediaGroup's "media" array.
type inputMedia struct {
	Type            string        `json:"type"`
	Media           string        `json:"media"`
	Caption         string        `json:"caption,omitempty"`
	CaptionEntities tele.Entities `json:"caption_entities,omitempty"`
}

// albumParams builds the sendMediaGroup request. Caption and entities ride on
// the first item only, which is where telegram shows an album caption.
func albumParams(to kit.ChatTarget, p kit.Payload) (map[string]any, error) {
	media := make([]inputMedia, 0, len(p.Attachments))
	for i, a := range p.Attachments {
		switch a.Kind {
		case kit.AttachPhoto, kit.AttachDocument, kit.AttachVideo:
		default:
			return nil, fmt.Errorf("%w: attachment kind %q", kit.ErrBadPayload, a.Kind)
		}
		im := inputMedia{Type: string(a.Kind), Media: a.Ref}
		if i == 0 {
			im.Caption = p.Caption
			im.CaptionEntities = toEntities(p.Entities)
		}
		media = append(media, im)
	}
	params := map[string]any{
		"chat_id": chatIDString(to.ChatID),
		"media":   media,
	}
	if to.ThreadID != 0 {
		params["message_thread_id"] = to.ThreadID
	}
	return params, nil
}
