// Package audience resolves a campaign's audience rules into recipients.
//
// The effective audience is the union of every rule's matches, deduplicated
// by chat id. Administrators come from static configuration through
// AdminSource; all other tags and keyword viewers come from Store.
package audience

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"mailbot/internal/campaign"
	logx "mailbot/pkg/logx"
)

const DefaultAdminTag = "admins"

// Account is a stored user. TgID is kept as text because legacy rows may hold
// empty or garbage values; such accounts are not deliverable.
type Account struct {
	ID     int64
	TgID   string
	Status string
}

// ChatID returns the telegram chat id of the account, if it has a usable one.
func (a Account) ChatID() (int64, bool) {
	s := strings.TrimSpace(a.TgID)
	if s == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

type Recipient struct {
	ChatID    int64
	AccountID int64 // 0 for configured administrators
}

type Store interface {
	// AccountsWithStatus matches on the normalized (NormalizeStatus) tag.
	AccountsWithStatus(ctx context.Context, tag string) ([]Account, error)
	ContentForKeyword(ctx context.Context, keyword string) (contentID int64, ok bool, err error)
	ViewersOf(ctx context.Context, contentID int64) ([]Account, error)
}

type AdminSource interface {
	AdminIDs() []int64
}

// AdminIDs is a fixed AdminSource.
type AdminIDs []int64

func (a AdminIDs) AdminIDs() []int64 { return a }

// NormalizeStatus is the case-insensitive form status tags are compared in.
func NormalizeStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

type Resolver struct {
	store    Store
	admins   AdminSource
	adminTag string
	log      logx.Logger
}

func NewResolver(store Store, admins AdminSource, adminTag string, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	adminTag = NormalizeStatus(adminTag)
	if adminTag == "" {
		adminTag = DefaultAdminTag
	}
	if admins == nil {
		admins = AdminIDs(nil)
	}
	return &Resolver{store: store, admins: admins, adminTag: adminTag, log: log}
}

// Resolve returns the deduplicated recipients of c, sorted by chat id.
// A store error aborts resolution; a keyword without content is skipped.
func (r *Resolver) Resolve(ctx context.Context, c campaign.Campaign) ([]Recipient, error) {
	set := make(map[int64]Recipient)
	add := func(accs []Account) {
		for _, a := range accs {
			id, ok := a.ChatID()
			if !ok {
				continue
			}
			if _, dup := set[id]; !dup {
				set[id] = Recipient{ChatID: id, AccountID: a.ID}
			}
		}
	}

	keywords, tags := split(c.Rules)

	for _, kw := range keywords {
		contentID, ok, err := r.store.ContentForKeyword(ctx, kw)
		if err != nil {
			return nil, fmt.Errorf("content for keyword %q: %w", kw, err)
		}
		if !ok {
			r.log.Warn("keyword has no content; rule skipped",
				logx.Int64("campaign_id", c.ID), logx.String("keyword", kw))
			continue
		}
		viewers, err := r.store.ViewersOf(ctx, contentID)
		if err != nil {
			return nil, fmt.Errorf("viewers of keyword %q: %w", kw, err)
		}
		add(viewers)
	}

	for _, tag := range tags {
		if tag == r.adminTag {
			for _, id := range r.admins.AdminIDs() {
				if id == 0 {
					continue
				}
				if _, dup := set[id]; !dup {
					set[id] = Recipient{ChatID: id}
				}
			}
			continue
		}
		accs, err := r.store.AccountsWithStatus(ctx, tag)
		if err != nil {
			return nil, fmt.Errorf("accounts with status %q: %w", tag, err)
		}
		add(accs)
	}

	out := make([]Recipient, 0, len(set))
	for _, rc := range set {
		out = append(out, rc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}

// split partitions rules into distinct keywords and distinct normalized tags.
func split(rules []campaign.Rule) (keywords, tags []string) {
	seenKW := map[string]bool{}
	seenTag := map[string]bool{}
	for _, rl := range rules {
		v := strings.TrimSpace(rl.Value)
		if v == "" {
			continue
		}
		switch rl.Kind {
		case campaign.RuleKeyword:
			if !seenKW[v] {
				seenKW[v] = true
				keywords = append(keywords, v)
			}
		case campaign.RuleStatus:
			v = NormalizeStatus(v)
			if !seenTag[v] {
				seenTag[v] = true
				tags = append(tags, v)
			}
		}
	}
	return keywords, tags
}
