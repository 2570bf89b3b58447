package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  admin_ids: [11, 22]
  poll_timeout: 10s
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./data/mailbot.db
scheduler:
  poll_interval: 30s
dispatch:
  workers: 8
audience:
  admin_tag: Admins
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("bot.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || !reflect.DeepEqual(cfg.Telegram.AdminIDs, []int64{11, 22}) {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if cfg.Dispatch.Workers != 8 || cfg.Scheduler.PollInterval != "30s" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if !cfg.Scheduler.IsEnabled() {
		t.Fatalf("omitted scheduler.enabled should default to on")
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()

	if _, err := Decode("bot.yaml", []byte("telegram:\n  tokn: x\n")); err == nil {
		t.Fatalf("expected unknown field error")
	}
	if _, err := Decode("bot.json", []byte(`{"telegram":{}} {"x":1}`)); err == nil {
		t.Fatalf("expected trailing data error")
	}
	if _, err := Decode("bot.json", []byte(`{"scheduler":{"enabled":false}}`)); err != nil {
		t.Fatalf("json decode: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		EnvBotToken:    " tok ",
		EnvAdminIDs:    "5, 6;7",
		EnvDatabaseDSN: "postgres://u@h/db",
		EnvAMQPURL:     "amqp://guest@localhost/",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	var cfg Config
	if err := applyEnv(&cfg, lookup); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.Telegram.Token != "tok" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if !reflect.DeepEqual(cfg.Telegram.AdminIDs, []int64{5, 6, 7}) {
		t.Fatalf("admins = %v", cfg.Telegram.AdminIDs)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN == "" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Report.AMQPURL == "" {
		t.Fatalf("amqp url not applied")
	}

	env[EnvAdminIDs] = "1,x"
	if err := applyEnv(&cfg, lookup); err == nil {
		t.Fatalf("expected bad id error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mut     func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"poll too short", func(c *Config) { c.Scheduler.PollInterval = "500ms" }, "scheduler.poll_interval"},
		{"poll too long", func(c *Config) { c.Scheduler.PollInterval = "11m" }, "scheduler.poll_interval"},
		{"poll upper bound", func(c *Config) { c.Scheduler.PollInterval = "10m" }, ""},
		{"bad duration", func(c *Config) { c.Dispatch.SendTimeout = "soon" }, "dispatch.send_timeout"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }, "storage.driver"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.dsn"},
		{"group log not numeric", func(c *Config) { c.Telegram.GroupLog = "@ops" }, "telegram.group_log"},
		{"backup without dir", func(c *Config) { c.Maintenance.BackupCron = "@daily" }, "backup_dir"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var cfg Config
			tc.mut(&cfg)
			err := Validate(&cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestParseDurationInRange(t *testing.T) {
	t.Parallel()

	d, err := ParseDurationInRange("x", "", time.Minute, time.Second, 10*time.Minute)
	if err != nil || d != time.Minute {
		t.Fatalf("default: d=%v err=%v", d, err)
	}
	if _, err := ParseDurationInRange("x", "-1s", time.Minute, time.Second, time.Hour); err == nil {
		t.Fatalf("expected negative duration error")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{}
	newCfg := &Config{}
	newCfg.Dispatch.Workers = 2
	newCfg.Storage.DSN = "secret"
	newCfg.Audience.AdminTag = "staff"

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"audience", "dispatch", "storage"}
	if !reflect.DeepEqual(changed, want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected attrs")
	}

	changed, _ = SummarizeConfigChange(newCfg, newCfg)
	if len(changed) != 0 {
		t.Fatalf("identical configs reported changes: %v", changed)
	}
}

func TestManagerLoadAndPublish(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bot.yaml")
	if err := os.WriteFile(path, []byte("dispatch:\n  workers: 3\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg || cfg.Dispatch.Workers != 3 {
		t.Fatalf("committed config mismatch")
	}

	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	if got := <-ch; got != b {
		t.Fatalf("slow subscriber should receive the newest config")
	}

	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after Unsubscribe")
	}
}

func TestManagerLoadRejectsInvalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bot.json")
	if err := os.WriteFile(path, []byte(`{"scheduler":{"poll_interval":"1h"}}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewConfigManager(path).Load(); err == nil {
		t.Fatalf("expected validation error")
	}
}
