package app

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"mailbot/internal/config"
	"mailbot/internal/keyword"
	kit "mailbot/internal/transport"
	logx "mailbot/pkg/logx"
)

const (
	defaultWelcomeText  = "Hello! This bot delivers updates, recommendations and materials."
	defaultNotFoundText = "Link not found or no longer valid."
	defaultExpiredText  = "This link has expired or reached its click limit."
)

type accountToucher interface {
	TouchAccount(ctx context.Context, tgID int64, username string, at time.Time) error
}

type keywordAccess interface {
	Access(ctx context.Context, kw string, v keyword.Visitor) (kit.Payload, error)
}

type replier interface {
	kit.Deliverer
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type replyTexts struct {
	Welcome  string
	NotFound string
	Expired  string
}

func mapReplyTexts(cfg *config.Config) replyTexts {
	pick := func(v, def string) string {
		if strings.TrimSpace(v) == "" {
			return def
		}
		return v
	}
	return replyTexts{
		Welcome:  pick(cfg.Telegram.WelcomeText, defaultWelcomeText),
		NotFound: pick(cfg.Keyword.NotFoundText, defaultNotFoundText),
		Expired:  pick(cfg.Keyword.ExpiredText, defaultExpiredText),
	}
}

// inbound answers updates coming from the transport: it records the sender's
// last interaction and serves /start deep links.
type inbound struct {
	accounts accountToucher
	keywords keywordAccess
	out      replier
	log      logx.Logger
	now      func() time.Time

	texts atomic.Pointer[replyTexts]

	replyTimeout time.Duration
}

func newInbound(accounts accountToucher, keywords keywordAccess, out replier, texts replyTexts, log logx.Logger) *inbound {
	in := &inbound{
		accounts:     accounts,
		keywords:     keywords,
		out:          out,
		log:          log,
		now:          time.Now,
		replyTimeout: 30 * time.Second,
	}
	in.setTexts(texts)
	return in
}

func (in *inbound) setTexts(t replyTexts) { in.texts.Store(&t) }

// Loop consumes updates until ctx is done or updates is closed.
func (in *inbound) Loop(ctx context.Context, updates <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			in.handle(ctx, up)
		}
	}
}

func (in *inbound) handle(ctx context.Context, up kit.Update) {
	m := up.Message
	if m == nil {
		return
	}
	if m.FromID != 0 {
		if err := in.accounts.TouchAccount(ctx, m.FromID, m.FromUsername, in.now().UTC()); err != nil {
			in.log.Debug("touch account failed", logx.Int64("tg_id", m.FromID), logx.Err(err))
		}
	}
	if up.Kind != kit.UpdateStart {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, in.replyTimeout)
	defer cancel()

	to := kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
	texts := *in.texts.Load()

	kw, ok := keyword.ParseStart(m.StartPayload)
	if !ok {
		in.reply(ctx, to, texts.Welcome)
		return
	}

	p, err := in.keywords.Access(ctx, kw, keyword.Visitor{TgID: m.FromID, Username: m.FromUsername})
	switch {
	case errors.Is(err, keyword.ErrLinkNotFound):
		in.reply(ctx, to, texts.NotFound)
		return
	case errors.Is(err, keyword.ErrLinkExpired):
		in.reply(ctx, to, texts.Expired)
		return
	case err != nil:
		in.log.Error("keyword access failed", logx.String("keyword", kw), logx.Int64("tg_id", m.FromID), logx.Err(err))
		in.reply(ctx, to, texts.NotFound)
		return
	}
	if err := in.out.Deliver(ctx, to, p); err != nil {
		in.log.Warn("keyword delivery failed", logx.String("keyword", kw), logx.Int64("chat_id", m.ChatID), logx.Err(err))
	}
}

func (in *inbound) reply(ctx context.Context, to kit.ChatTarget, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if _, err := in.out.SendText(ctx, to, text, nil); err != nil {
		in.log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}
