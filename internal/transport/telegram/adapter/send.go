package adapter

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "mailbot/internal/transport"
	logx "mailbot/pkg/logx"
)

const telegramTextLimit = 4000

// Deliver sends one payload to one chat.
func (a *Adapter) Deliver(ctx context.Context, to kit.ChatTarget, p kit.Payload) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	chat := &tele.Chat{ID: to.ChatID}

	switch p.Kind {
	case kit.PayloadText:
		if len(p.Entities) == 0 {
			_, err := a.SendText(ctx, to, p.Text, &kit.SendOptions{DisablePreview: true})
			return err
		}
		// Entity offsets index into the whole text, so it goes out unsplit.
		_, err := a.bot.Send(chat, p.Text, &tele.SendOptions{
			ThreadID:              to.ThreadID,
			Entities:              toEntities(p.Entities),
			DisableWebPagePreview: true,
		})
		return err

	case kit.PayloadAttachment:
		what, err := toMedia(p.Attachments[0], p.Caption)
		if err != nil {
			return err
		}
		_, err = a.bot.Send(chat, what, &tele.SendOptions{
			ThreadID: to.ThreadID,
			Entities: toEntities(p.Entities),
		})
		return err

	case kit.PayloadGroup:
		params, err := albumParams(to, p)
		if err != nil {
			return err
		}
		_, err = a.bot.Raw("sendMediaGroup", params)
		return err
	}
	return fmt.Errorf("%w: kind %q", kit.ErrBadPayload, p.Kind)
}

// SendText sends plain text, split into chunks below the telegram limit.
// The returned ref points at the first chunk.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range splitTelegramText(text, telegramTextLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// LogSink adapts the adapter to the logx chat sink.
func (a *Adapter) LogSink() logx.ChatSender { return logSink{a: a} }

type logSink struct{ a *Adapter }

func (s logSink) SendText(ctx context.Context, chatID int64, text string) error {
	_, err := s.a.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// splitTelegramText splits long text into chunks telegram accepts. It prefers
// newline boundaries and, for HTML, avoids cutting inside a tag.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if strings.EqualFold(parseMode, "HTML") && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func chatIDString(id int64) string { return strconv.FormatInt(id, 10) }
