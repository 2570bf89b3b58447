package main

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"mailbot/internal/campaign"
	"mailbot/internal/config"
	"mailbot/internal/content"
	"mailbot/internal/keyword"
	"mailbot/internal/recurrence"
	"mailbot/internal/storage"
	kit "mailbot/internal/transport"
)

// campaignDef is the add-campaign definition file.
//
//	title: Weekly digest
//	material: digest          # or an inline payload: {text: ..., entities: [...]}
//	rules:
//	  - status: premium
//	  - keyword: digest
//	schedule:
//	  kind: weekly            # once | daily | weekly | monthly
//	  days: [1, 4]            # ISO weekdays (weekly) or days of month (monthly)
//	  time: "09:30"           # UTC
//	  at: "2025-01-01T09:00:00Z"  # once only
type campaignDef struct {
	Title    string       `json:"title" validate:"required,max=200"`
	Payload  *kit.Payload `json:"payload,omitempty" validate:"required_without=Material,excluded_with=Material"`
	Material string       `json:"material,omitempty" validate:"omitempty,startparam"`
	Rules    []ruleDef    `json:"rules" validate:"required,min=1,dive"`
	Schedule scheduleDef  `json:"schedule"`
	Inactive bool         `json:"inactive,omitempty"`
}

type ruleDef struct {
	Status  string `json:"status,omitempty" validate:"required_without=Keyword,excluded_with=Keyword"`
	Keyword string `json:"keyword,omitempty" validate:"omitempty,startparam"`
}

type scheduleDef struct {
	Kind string `json:"kind" validate:"required,oneof=once daily weekly monthly"`
	Days []int  `json:"days,omitempty" validate:"dive,min=1,max=31"`
	Time string `json:"time,omitempty" validate:"omitempty,datetime=15:04"`
	At   string `json:"at,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// materialDef is the add-material definition file.
type materialDef struct {
	Keyword    string      `json:"keyword" validate:"required,startparam"`
	Payload    kit.Payload `json:"payload"`
	ExpiryDays int         `json:"expiry_days,omitempty" validate:"gte=0"`
	MaxClicks  int         `json:"max_clicks,omitempty" validate:"gte=0"`
}

// Telegram start parameters allow [A-Za-z0-9_-] up to 64 chars, minus the "keyword_" prefix.
var startParamRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,56}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("startparam", func(fl validator.FieldLevel) bool {
		return startParamRe.MatchString(fl.Field().String())
	})
	return v
}

func decodeCampaign(data []byte, now time.Time) (campaign.Campaign, campaign.Schedule, error) {
	var d campaignDef
	if err := config.DecodeYAMLStrict(data, &d); err != nil {
		return campaign.Campaign{}, campaign.Schedule{}, fmt.Errorf("parse campaign: %w", err)
	}
	if err := validate.Struct(d); err != nil {
		return campaign.Campaign{}, campaign.Schedule{}, fmt.Errorf("invalid campaign: %w", err)
	}
	return d.toDomain(now)
}

func (d campaignDef) toDomain(now time.Time) (campaign.Campaign, campaign.Schedule, error) {
	c := campaign.Campaign{
		Title:  strings.TrimSpace(d.Title),
		Active: !d.Inactive,
	}
	if d.Material != "" {
		c.PayloadRef = content.KeywordRef(d.Material)
	} else {
		raw, err := content.Encode(*d.Payload)
		if err != nil {
			return campaign.Campaign{}, campaign.Schedule{}, fmt.Errorf("payload: %w", err)
		}
		c.PayloadRef = string(raw)
	}
	for _, r := range d.Rules {
		if r.Keyword != "" {
			c.Rules = append(c.Rules, campaign.KeywordViewers(r.Keyword))
		} else {
			c.Rules = append(c.Rules, campaign.StatusTag(strings.TrimSpace(r.Status)))
		}
	}
	if err := c.Validate(); err != nil {
		return campaign.Campaign{}, campaign.Schedule{}, err
	}

	sc, err := d.Schedule.toDomain(now)
	if err != nil {
		return campaign.Campaign{}, campaign.Schedule{}, err
	}
	// The campaign flag alone gates firing; the schedule stays live so that
	// activating the campaign later resumes it without rescheduling.
	sc.Active = true
	return c, sc, nil
}

func (d scheduleDef) toDomain(now time.Time) (campaign.Schedule, error) {
	kind, err := campaign.ParseKind(d.Kind)
	if err != nil {
		return campaign.Schedule{}, err
	}
	sc := campaign.Schedule{Kind: kind, Days: campaign.NormalizeDays(d.Days)}

	if kind == campaign.KindOnce {
		if d.At == "" {
			return campaign.Schedule{}, fmt.Errorf("%w: once schedule needs \"at\"", campaign.ErrInvalid)
		}
		at, err := time.Parse(time.RFC3339, d.At)
		if err != nil {
			return campaign.Schedule{}, fmt.Errorf("schedule.at: %w", err)
		}
		at = at.UTC().Truncate(time.Minute)
		if !at.After(now) {
			return campaign.Schedule{}, fmt.Errorf("%w: once schedule at %s is not in the future", campaign.ErrInvalid, at.Format(time.RFC3339))
		}
		sc.Hour, sc.Minute, sc.NextDue = at.Hour(), at.Minute(), at
		return sc, sc.Validate()
	}

	if d.Time == "" {
		return campaign.Schedule{}, fmt.Errorf("%w: %s schedule needs \"time\"", campaign.ErrInvalid, kind)
	}
	tod, _ := time.Parse("15:04", d.Time)
	sc.Hour, sc.Minute = tod.Hour(), tod.Minute()
	if sc.NextDue, err = recurrence.FirstDue(kind, sc.Days, sc.Hour, sc.Minute, now); err != nil {
		return campaign.Schedule{}, err
	}
	return sc, nil
}

func decodeMaterial(data []byte, now time.Time) (string, []byte, storage.LinkPolicy, error) {
	var d materialDef
	if err := config.DecodeYAMLStrict(data, &d); err != nil {
		return "", nil, storage.LinkPolicy{}, fmt.Errorf("parse material: %w", err)
	}
	if err := validate.Struct(d); err != nil {
		return "", nil, storage.LinkPolicy{}, fmt.Errorf("invalid material: %w", err)
	}
	raw, err := content.Encode(d.Payload)
	if err != nil {
		return "", nil, storage.LinkPolicy{}, fmt.Errorf("payload: %w", err)
	}
	policy := storage.LinkPolicy{MaxClicks: d.MaxClicks}
	if d.ExpiryDays > 0 {
		policy.ExpiresAt = now.UTC().AddDate(0, 0, d.ExpiryDays)
	}
	return d.Keyword, raw, policy, nil
}

// deepLink is the URL that opens the bot with the keyword's start payload.
func deepLink(base, kw string) string {
	param := keyword.StartPrefix + kw
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return "/start " + param
	}
	return base + "?start=" + param
}
