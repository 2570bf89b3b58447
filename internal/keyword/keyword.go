// Package keyword serves keyword deep links: "/start keyword_<KW>" hands the
// visitor the material stored under KW and records the view, which later
// feeds KeywordViewers audience rules.
package keyword

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mailbot/internal/content"
	"mailbot/internal/metrics"
	kit "mailbot/internal/transport"
	logx "mailbot/pkg/logx"
)

var (
	ErrLinkNotFound = errors.New("keyword: link not found")
	ErrLinkExpired  = errors.New("keyword: link expired or click limit reached")
)

const StartPrefix = "keyword_"

// Link is a keyword's access policy together with its material.
// A zero ExpiresAt never expires; MaxClicks <= 0 means unlimited.
type Link struct {
	ID         int64
	MaterialID int64
	Keyword    string
	Payload    []byte
	ExpiresAt  time.Time
	MaxClicks  int
	Clicks     int
}

// Usable reports whether the link may be followed at now.
func (l Link) Usable(now time.Time) bool {
	if !l.ExpiresAt.IsZero() && now.After(l.ExpiresAt) {
		return false
	}
	if l.MaxClicks > 0 && l.Clicks >= l.MaxClicks {
		return false
	}
	return true
}

type Visitor struct {
	TgID     int64
	Username string
}

type Store interface {
	LinkByKeyword(ctx context.Context, keyword string) (Link, bool, error)
	// RecordAccess atomically counts the click, upserts the visitor and stores
	// the view. It reports false when the click limit was reached concurrently.
	RecordAccess(ctx context.Context, l Link, v Visitor, now time.Time) (bool, error)
}

type Service struct {
	store   Store
	metrics *metrics.Metrics
	log     logx.Logger
	now     func() time.Time
}

func NewService(store Store, m *metrics.Metrics, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, metrics: m, log: log, now: time.Now}
}

// ParseStart extracts the keyword from a /start payload.
func ParseStart(payload string) (string, bool) {
	payload = strings.TrimSpace(payload)
	if !strings.HasPrefix(payload, StartPrefix) {
		return "", false
	}
	kw := strings.TrimSpace(strings.TrimPrefix(payload, StartPrefix))
	return kw, kw != ""
}

// Access follows a keyword link on behalf of v and returns the material.
func (s *Service) Access(ctx context.Context, kw string, v Visitor) (kit.Payload, error) {
	now := s.now().UTC()
	l, ok, err := s.store.LinkByKeyword(ctx, kw)
	if err != nil {
		s.metrics.Keyword("error")
		return kit.Payload{}, fmt.Errorf("lookup keyword %q: %w", kw, err)
	}
	if !ok {
		s.metrics.Keyword("not_found")
		return kit.Payload{}, ErrLinkNotFound
	}
	if !l.Usable(now) {
		s.metrics.Keyword("expired")
		return kit.Payload{}, ErrLinkExpired
	}
	p, err := content.Decode(l.Payload)
	if err != nil {
		s.metrics.Keyword("error")
		return kit.Payload{}, fmt.Errorf("material for %q: %w", kw, err)
	}
	counted, err := s.store.RecordAccess(ctx, l, v, now)
	if err != nil {
		s.metrics.Keyword("error")
		return kit.Payload{}, fmt.Errorf("record access %q: %w", kw, err)
	}
	if !counted {
		s.metrics.Keyword("expired")
		return kit.Payload{}, ErrLinkExpired
	}
	s.metrics.Keyword("ok")
	s.log.Debug("keyword accessed", logx.String("keyword", kw), logx.Int64("tg_id", v.TgID))
	return p, nil
}
