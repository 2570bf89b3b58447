// Package campaign holds the campaign domain model: campaigns, their audience
// rules and their recurrence schedules.
package campaign

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalid marks a campaign or schedule definition that violates the model.
var ErrInvalid = errors.New("campaign: invalid definition")

type Kind string

const (
	KindOnce    Kind = "once"
	KindDaily   Kind = "daily"
	KindWeekly  Kind = "weekly"
	KindMonthly Kind = "monthly"
)

func (k Kind) Valid() bool {
	switch k {
	case KindOnce, KindDaily, KindWeekly, KindMonthly:
		return true
	}
	return false
}

// ParseKind accepts the kind name in any case.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: unknown schedule kind %q", ErrInvalid, s)
	}
	return k, nil
}

type RuleKind string

const (
	RuleStatus  RuleKind = "status"
	RuleKeyword RuleKind = "keyword"
)

// Rule selects accounts for a campaign's audience.
type Rule struct {
	Kind  RuleKind `json:"kind" yaml:"kind"`
	Value string   `json:"value" yaml:"value"`
}

func StatusTag(tag string) Rule     { return Rule{Kind: RuleStatus, Value: tag} }
func KeywordViewers(kw string) Rule { return Rule{Kind: RuleKeyword, Value: kw} }
func (r Rule) String() string       { return string(r.Kind) + ":" + r.Value }
func (r Rule) IsStatus() bool       { return r.Kind == RuleStatus }
func (r Rule) IsKeyword() bool      { return r.Kind == RuleKeyword }

func (r Rule) Validate() error {
	if r.Kind != RuleStatus && r.Kind != RuleKeyword {
		return fmt.Errorf("%w: unknown rule kind %q", ErrInvalid, r.Kind)
	}
	if strings.TrimSpace(r.Value) == "" {
		return fmt.Errorf("%w: empty %s rule", ErrInvalid, r.Kind)
	}
	return nil
}

// Campaign is a configured broadcast. PayloadRef is opaque to the scheduler
// and is resolved into a transport payload by the content package.
type Campaign struct {
	ID         int64
	Title      string
	PayloadRef string
	Active     bool
	Rules      []Rule
	CreatedAt  time.Time
}

// Validate enforces that an active campaign carries at least one rule.
func (c Campaign) Validate() error {
	if strings.TrimSpace(c.PayloadRef) == "" {
		return fmt.Errorf("%w: campaign %d has no payload", ErrInvalid, c.ID)
	}
	if c.Active && len(c.Rules) == 0 {
		return fmt.Errorf("%w: active campaign %d has no audience rules", ErrInvalid, c.ID)
	}
	for _, r := range c.Rules {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Schedule governs when a campaign fires. Hour and Minute are UTC.
type Schedule struct {
	ID         int64
	CampaignID int64
	Kind       Kind
	Days       []int
	Hour       int
	Minute     int
	NextDue    time.Time
	Active     bool
}

func (s Schedule) Validate() error {
	if !s.Kind.Valid() {
		return fmt.Errorf("%w: unknown schedule kind %q", ErrInvalid, s.Kind)
	}
	if s.Hour < 0 || s.Hour > 23 || s.Minute < 0 || s.Minute > 59 {
		return fmt.Errorf("%w: time of day %02d:%02d", ErrInvalid, s.Hour, s.Minute)
	}
	switch s.Kind {
	case KindWeekly:
		return validateDays(s.Days, 7, "weekday")
	case KindMonthly:
		return validateDays(s.Days, 31, "day of month")
	}
	return nil
}

func validateDays(days []int, max int, what string) error {
	if len(days) == 0 {
		return fmt.Errorf("%w: no %s configured", ErrInvalid, what)
	}
	for _, d := range days {
		if d < 1 || d > max {
			return fmt.Errorf("%w: %s %d out of range 1..%d", ErrInvalid, what, d, max)
		}
	}
	return nil
}

// Outcome counts one firing's deliveries. Abandoned recipients were never
// attempted because the firing was cancelled.
type Outcome struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Abandoned int `json:"abandoned,omitempty"`
}

func (o Outcome) Total() int { return o.Delivered + o.Failed + o.Abandoned }
