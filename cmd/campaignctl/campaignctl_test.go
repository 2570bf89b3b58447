package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mailbot/internal/campaign"
	"mailbot/internal/content"
	"mailbot/internal/storage"
	kit "mailbot/internal/transport"
	logx "mailbot/pkg/logx"
)

var testNow = time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC) // Wednesday

func TestDecodeCampaignWeekly(t *testing.T) {
	t.Parallel()

	def := `
title: Weekly digest
material: digest
rules:
  - status: Premium
  - keyword: digest
schedule:
  kind: weekly
  days: [1, 3]
  time: "09:30"
`
	c, sc, err := decodeCampaign([]byte(def), testNow)
	if err != nil {
		t.Fatalf("decodeCampaign: %v", err)
	}
	if c.PayloadRef != content.KeywordRef("digest") || !c.Active || len(c.Rules) != 2 {
		t.Fatalf("campaign = %+v", c)
	}
	if c.Rules[0] != campaign.StatusTag("Premium") || c.Rules[1] != campaign.KeywordViewers("digest") {
		t.Fatalf("rules = %v", c.Rules)
	}
	// Wednesday 09:30 already passed, so the next Monday.
	want := time.Date(2024, 5, 20, 9, 30, 0, 0, time.UTC)
	if sc.Kind != campaign.KindWeekly || !sc.NextDue.Equal(want) || !sc.Active {
		t.Fatalf("schedule = %+v, want next due %s", sc, want)
	}
}

func TestDecodeCampaignInlinePayloadOnce(t *testing.T) {
	t.Parallel()

	def := `{"title":"Launch","payload":{"text":"We are live"},"rules":[{"status":"all"}],"schedule":{"kind":"once","at":"2024-06-01T12:00:00+02:00"}}`
	c, sc, err := decodeCampaign([]byte(def), testNow)
	if err != nil {
		t.Fatalf("decodeCampaign: %v", err)
	}
	p, err := content.Decode([]byte(c.PayloadRef))
	if err != nil || p.Kind != kit.PayloadText || p.Text != "We are live" {
		t.Fatalf("payload = %+v, %v", p, err)
	}
	if want := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC); !sc.NextDue.Equal(want) || sc.Hour != 10 {
		t.Fatalf("schedule = %+v", sc)
	}
}

func TestDecodeCampaignRejects(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"no rules":        `{"title":"x","material":"a","rules":[],"schedule":{"kind":"daily","time":"10:00"}}`,
		"both payloads":   `{"title":"x","material":"a","payload":{"text":"t"},"rules":[{"status":"s"}],"schedule":{"kind":"daily","time":"10:00"}}`,
		"no payload":      `{"title":"x","rules":[{"status":"s"}],"schedule":{"kind":"daily","time":"10:00"}}`,
		"rule both":       `{"title":"x","material":"a","rules":[{"status":"s","keyword":"k"}],"schedule":{"kind":"daily","time":"10:00"}}`,
		"bad kind":        `{"title":"x","material":"a","rules":[{"status":"s"}],"schedule":{"kind":"hourly","time":"10:00"}}`,
		"bad time":        `{"title":"x","material":"a","rules":[{"status":"s"}],"schedule":{"kind":"daily","time":"25:00"}}`,
		"missing time":    `{"title":"x","material":"a","rules":[{"status":"s"}],"schedule":{"kind":"daily"}}`,
		"weekly day 8":    `{"title":"x","material":"a","rules":[{"status":"s"}],"schedule":{"kind":"weekly","days":[8],"time":"10:00"}}`,
		"once in past":    `{"title":"x","material":"a","rules":[{"status":"s"}],"schedule":{"kind":"once","at":"2024-01-01T00:00:00Z"}}`,
		"unknown field":   `{"title":"x","material":"a","rules":[{"status":"s"}],"schedule":{"kind":"daily","time":"10:00"},"color":"red"}`,
		"bad keyword":     `{"title":"x","material":"a b","rules":[{"status":"s"}],"schedule":{"kind":"daily","time":"10:00"}}`,
		"missing title":   `{"material":"a","rules":[{"status":"s"}],"schedule":{"kind":"daily","time":"10:00"}}`,
		"empty group pay": `{"title":"x","payload":{"kind":"group"},"rules":[{"status":"s"}],"schedule":{"kind":"daily","time":"10:00"}}`,
	}
	for name, def := range cases {
		if _, _, err := decodeCampaign([]byte(def), testNow); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestDecodeMaterial(t *testing.T) {
	t.Parallel()

	def := `
keyword: promo_2024
expiry_days: 7
max_clicks: 100
payload:
  caption: Spring catalog
  attachments:
    - {type: document, file_id: BQACAgIAAxk}
`
	kw, raw, policy, err := decodeMaterial([]byte(def), testNow)
	if err != nil {
		t.Fatalf("decodeMaterial: %v", err)
	}
	if kw != "promo_2024" || policy.MaxClicks != 100 || !policy.ExpiresAt.Equal(testNow.AddDate(0, 0, 7)) {
		t.Fatalf("kw=%q policy=%+v", kw, policy)
	}
	p, err := content.Decode(raw)
	if err != nil || p.Kind != kit.PayloadAttachment || p.Caption != "Spring catalog" {
		t.Fatalf("payload = %+v, %v", p, err)
	}

	if _, _, _, err := decodeMaterial([]byte(`{"keyword":"x","max_clicks":-1,"payload":{"text":"t"}}`), testNow); err == nil {
		t.Fatalf("negative max_clicks should fail")
	}
}

func TestDeepLink(t *testing.T) {
	t.Parallel()

	if got := deepLink("https://t.me/mailbot/", "promo"); got != "https://t.me/mailbot?start=keyword_promo" {
		t.Fatalf("deepLink = %q", got)
	}
	if got := deepLink("", "promo"); got != "/start keyword_promo" {
		t.Fatalf("deepLink = %q", got)
	}
}

type fakeStore struct {
	created   []campaign.Campaign
	materials []string
	accounts  []int64
	inactive  []int64
	activated []int64
	list      []storage.CampaignSummary
}

func (f *fakeStore) CreateCampaign(ctx context.Context, c campaign.Campaign, sc campaign.Schedule) (int64, int64, error) {
	f.created = append(f.created, c)
	return int64(len(f.created)), 10, nil
}

func (f *fakeStore) PutMaterial(ctx context.Context, kw string, payload []byte, policy storage.LinkPolicy) (int64, error) {
	f.materials = append(f.materials, kw)
	return 1, nil
}

func (f *fakeStore) UpsertAccount(ctx context.Context, tgID int64, username, status string) (int64, error) {
	f.accounts = append(f.accounts, tgID)
	return 5, nil
}

func (f *fakeStore) ListCampaigns(ctx context.Context, limit int) ([]storage.CampaignSummary, error) {
	return f.list, nil
}

func (f *fakeStore) SetCampaignActive(ctx context.Context, id int64, active bool) error {
	if id == 404 {
		return storage.ErrNotFound
	}
	if active {
		f.activated = append(f.activated, id)
	} else {
		f.inactive = append(f.inactive, id)
	}
	return nil
}

func newTestCLI(st *fakeStore, files map[string]string) (*cli, *bytes.Buffer) {
	var out bytes.Buffer
	return &cli{
		store:    st,
		out:      &out,
		linkBase: "https://t.me/mailbot",
		now:      func() time.Time { return testNow },
		readFile: func(p string) ([]byte, error) {
			s, ok := files[p]
			if !ok {
				return nil, errors.New("no such file")
			}
			return []byte(s), nil
		},
	}, &out
}

func TestCLICommands(t *testing.T) {
	t.Parallel()

	st := &fakeStore{list: []storage.CampaignSummary{
		{ID: 1, Title: "Digest", Active: true, Kind: "weekly", NextDue: testNow, Scheduled: true, Rules: 2},
		{ID: 2, Title: "Old", Active: false},
	}}
	c, out := newTestCLI(st, map[string]string{
		"c.yaml": `{"title":"t","material":"m","rules":[{"status":"s"}],"schedule":{"kind":"daily","time":"08:00"}}`,
		"m.yaml": `{"keyword":"m","payload":{"text":"hello"}}`,
	})
	ctx := context.Background()

	steps := [][]string{
		{"add-campaign", "-f", "c.yaml"},
		{"add-material", "-f", "m.yaml"},
		{"add-account", "-tg", "777", "-status", "premium"},
		{"deactivate", "-id", "1"},
		{"activate", "-id", "1"},
		{"list"},
	}
	for _, args := range steps {
		if err := c.dispatch(ctx, args); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
	}
	if len(st.created) != 1 || len(st.materials) != 1 || len(st.accounts) != 1 || len(st.inactive) != 1 || len(st.activated) != 1 {
		t.Fatalf("store calls = %+v", st)
	}
	s := out.String()
	for _, want := range []string{"campaign 1 created", "https://t.me/mailbot?start=keyword_m", "account 5 saved", "campaign 1 deactivated", "campaign 1 activated", "Digest", "Old"} {
		if !strings.Contains(s, want) {
			t.Fatalf("output missing %q:\n%s", want, s)
		}
	}

	for _, args := range [][]string{
		{"nope"},
		{"add-campaign"},
		{"add-campaign", "-f", "missing.yaml"},
		{"add-account", "-tg", "0"},
		{"deactivate"},
		{"deactivate", "-id", "404"},
		{"activate"},
		{"activate", "-id", "404"},
	} {
		if err := c.dispatch(ctx, args); err == nil {
			t.Fatalf("%v: expected error", args)
		}
	}
}

func TestInactiveCampaignResumesAfterActivate(t *testing.T) {
	t.Parallel()

	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "mailbot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	var out bytes.Buffer
	c := &cli{
		store: st,
		out:   &out,
		now:   func() time.Time { return testNow },
		readFile: func(string) ([]byte, error) {
			return []byte(`{"title":"paused","material":"m","inactive":true,"rules":[{"status":"s"}],"schedule":{"kind":"daily","time":"08:00"}}`), nil
		},
	}
	ctx := context.Background()

	if err := c.dispatch(ctx, []string{"add-campaign", "-f", "c.yaml"}); err != nil {
		t.Fatalf("add-campaign: %v", err)
	}
	due, err := st.DueSchedules(ctx, testNow.Add(48*time.Hour))
	if err != nil || len(due) != 1 {
		t.Fatalf("due schedules = %v, %v", due, err)
	}
	camp, err := st.LoadCampaign(ctx, due[0].CampaignID)
	if err != nil || camp.Active {
		t.Fatalf("campaign should start inactive: %+v, %v", camp, err)
	}

	if err := c.dispatch(ctx, []string{"activate", "-id", "1"}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	camp, err = st.LoadCampaign(ctx, due[0].CampaignID)
	if err != nil || !camp.Active {
		t.Fatalf("campaign should be active: %+v, %v", camp, err)
	}
	again, err := st.DueSchedules(ctx, testNow.Add(48*time.Hour))
	if err != nil || len(again) != 1 || !again[0].NextDue.Equal(due[0].NextDue) {
		t.Fatalf("schedule after activate = %v, %v", again, err)
	}
}
