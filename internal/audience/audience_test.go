package audience

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"testing"

	"mailbot/internal/campaign"
	logx "mailbot/pkg/logx"
)

type fakeStore struct {
	byStatus map[string][]Account
	content  map[string]int64
	viewers  map[int64][]Account
	err      error

	statusCalls []string
}

func (f *fakeStore) AccountsWithStatus(_ context.Context, tag string) ([]Account, error) {
	f.statusCalls = append(f.statusCalls, tag)
	if f.err != nil {
		return nil, f.err
	}
	return f.byStatus[tag], nil
}

func (f *fakeStore) ContentForKeyword(_ context.Context, kw string) (int64, bool, error) {
	if f.err != nil {
		return 0, false, f.err
	}
	id, ok := f.content[kw]
	return id, ok, nil
}

func (f *fakeStore) ViewersOf(_ context.Context, id int64) ([]Account, error) {
	return f.viewers[id], nil
}

func acc(id int64) Account {
	return Account{ID: id, TgID: strconv.FormatInt(id*100, 10)}
}

func chatIDs(rs []Recipient) []int64 {
	out := make([]int64, len(rs))
	for i, r := range rs {
		out[i] = r.ChatID
	}
	return out
}

func TestResolveAdminsComeFromConfig(t *testing.T) {
	t.Parallel()

	st := &fakeStore{}
	r := NewResolver(st, AdminIDs{11, 22}, "", logx.Nop())
	got, err := r.Resolve(context.Background(), campaign.Campaign{Rules: []campaign.Rule{campaign.StatusTag("Admins")}})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !reflect.DeepEqual(chatIDs(got), []int64{11, 22}) {
		t.Fatalf("got %v", chatIDs(got))
	}
	if len(st.statusCalls) != 0 {
		t.Fatalf("admin tag must not hit the store, got %v", st.statusCalls)
	}
}

func TestResolveUnionsKeywordAndStatus(t *testing.T) {
	t.Parallel()

	st := &fakeStore{
		content:  map[string]int64{"PROMO1": 7},
		viewers:  map[int64][]Account{7: {acc(1), acc(2)}},
		byStatus: map[string][]Account{"gold": {acc(2), acc(3)}},
	}
	r := NewResolver(st, nil, DefaultAdminTag, logx.Nop())
	c := campaign.Campaign{Rules: []campaign.Rule{campaign.KeywordViewers("PROMO1"), campaign.StatusTag("GOLD")}}

	got, err := r.Resolve(context.Background(), c)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !reflect.DeepEqual(chatIDs(got), []int64{100, 200, 300}) {
		t.Fatalf("got %v", chatIDs(got))
	}
	if !reflect.DeepEqual(st.statusCalls, []string{"gold"}) {
		t.Fatalf("status lookups should be normalized, got %v", st.statusCalls)
	}

	again, err := r.Resolve(context.Background(), c)
	if err != nil {
		t.Fatalf("Resolve again: %v", err)
	}
	if !reflect.DeepEqual(got, again) {
		t.Fatalf("resolution not idempotent: %v vs %v", got, again)
	}
}

func TestResolveDeduplicatesAdminAndTaggedAccount(t *testing.T) {
	t.Parallel()

	st := &fakeStore{byStatus: map[string][]Account{"vip": {{ID: 5, TgID: "42"}}}}
	r := NewResolver(st, AdminIDs{42}, "admins", logx.Nop())
	c := campaign.Campaign{Rules: []campaign.Rule{campaign.StatusTag("admins"), campaign.StatusTag("vip"), campaign.StatusTag("VIP")}}

	got, err := r.Resolve(context.Background(), c)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 1 || got[0].ChatID != 42 {
		t.Fatalf("got %+v", got)
	}
}

func TestResolveSkipsMissingKeywordAndUndeliverable(t *testing.T) {
	t.Parallel()

	st := &fakeStore{
		byStatus: map[string][]Account{"basic": {{ID: 1, TgID: ""}, {ID: 2, TgID: "abc"}, {ID: 3, TgID: " 77 "}}},
	}
	r := NewResolver(st, nil, "", logx.Nop())
	c := campaign.Campaign{Rules: []campaign.Rule{campaign.KeywordViewers("GONE"), campaign.StatusTag("basic")}}

	got, err := r.Resolve(context.Background(), c)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !reflect.DeepEqual(got, []Recipient{{ChatID: 77, AccountID: 3}}) {
		t.Fatalf("got %+v", got)
	}
}

func TestResolveStoreErrorAborts(t *testing.T) {
	t.Parallel()

	boom := errors.New("db down")
	r := NewResolver(&fakeStore{err: boom}, nil, "", logx.Nop())
	_, err := r.Resolve(context.Background(), campaign.Campaign{Rules: []campaign.Rule{campaign.StatusTag("gold")}})
	if !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}
