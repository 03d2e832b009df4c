package config

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func TestDecodeYAMLAndJSON(t *testing.T) {
	t.Parallel()

	yamlDoc := `
logging:
  level: debug
  console: true
source:
  owner: acme
  repo: confs
  categories: [AI, DB]
reminders:
  time_of_day: "08:30"
telegram:
  enabled: true
  owner_user_ids: [42]
`
	cfg, err := Decode("cfg.yaml", []byte(yamlDoc))
	if err != nil {
		t.Fatalf("Decode yaml: %v", err)
	}
	if cfg.Source.Owner != "acme" || len(cfg.Source.Categories) != 2 {
		t.Fatalf("source = %+v", cfg.Source)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 1 || cfg.Telegram.OwnerUserIDs[0] != 42 {
		t.Fatalf("owners = %v", cfg.Telegram.OwnerUserIDs)
	}

	jsonDoc := `{"logging":{"level":"warn"},"storage":{"driver":"sqlite","path":"x.db"}}`
	cfg, err = Decode("cfg.json", []byte(jsonDoc))
	if err != nil {
		t.Fatalf("Decode json: %v", err)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name, path, doc string
	}{
		{"unknown field json", "c.json", `{"nope":1}`},
		{"unknown field yaml", "c.yml", "logging:\n  levle: info\n"},
		{"trailing data", "c.json", `{} {}`},
		{"bad yaml", "c.yaml", "logging: [\n"},
	}
	for _, tc := range cases {
		if _, err := Decode(tc.path, []byte(tc.doc)); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestDecodeYAMLUnknownFieldLine(t *testing.T) {
	t.Parallel()

	doc := "logging:\n  level: info\nreminders:\n  time_of_dya: \"08:00\"\n"
	_, err := Decode("/etc/confwatch/config.yaml", []byte(doc))
	if err == nil || !strings.Contains(err.Error(), `config.yaml: line 4: unknown field "time_of_dya"`) {
		t.Fatalf("err = %v", err)
	}
}

func TestDecodeYAMLMergeKeys(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("c.yaml", []byte("source: {<<: {owner: acme, repo: confs}, repo: other}\n"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Source.Owner != "acme" || cfg.Source.Repo != "other" {
		t.Fatalf("source = %+v", cfg.Source)
	}
}

func TestRenderYAMLKeepsFieldOrder(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Telegram.Token = "true"
	b, err := render("c.yaml", cfg)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	out := string(b)
	prev := -1
	for _, key := range []string{"logging:", "source:", "fetch:", "cache:", "scheduler:", "reminders:", "telegram:"} {
		i := strings.Index(out, "\n"+key)
		if key == "logging:" {
			i = strings.Index(out, key)
		}
		if i <= prev {
			t.Fatalf("%s out of order in\n%s", key, out)
		}
		prev = i
	}
	if !strings.Contains(out, "logging:\n  level: ") {
		t.Fatalf("expected block style:\n%s", out)
	}
	back, err := Decode("c.yaml", b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if back.Telegram.Token != "true" || back.Reminders.TimeOfDay != cfg.Reminders.TimeOfDay {
		t.Fatalf("round trip lost values: %+v", back.Telegram)
	}
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	t.Parallel()

	for _, path := range []string{"/etc/confwatch/config.yaml", "/etc/confwatch/config.json"} {
		fs := afero.NewMemMapFs()
		m := NewConfigManager(path).WithFs(fs)
		if m.Exists() {
			t.Fatalf("%s: exists before write", path)
		}
		if err := m.WriteDefault(Default()); err != nil {
			t.Fatalf("%s: WriteDefault: %v", path, err)
		}
		cfg, err := m.Load()
		if err != nil {
			t.Fatalf("%s: Load: %v", path, err)
		}
		if cfg.Source.Repo != "ConfTrack" || cfg.Reminders.TimeOfDay != "09:00" {
			t.Fatalf("%s: loaded %+v", path, cfg)
		}
		if m.Get() != cfg {
			t.Fatalf("%s: Get did not return committed config", path)
		}
	}
}

func TestReloadPublishesOnlyOnChange(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	m := NewConfigManager("c.json").WithFs(fs)
	if err := afero.WriteFile(fs, "c.json", []byte(`{"logging":{"level":"info"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx := context.Background()
	if ok, err := m.Reload(ctx); err != nil || ok {
		t.Fatalf("unchanged reload = %v, %v", ok, err)
	}

	_ = afero.WriteFile(fs, "c.json", []byte(`{"logging":{"level":"debug"}}`), 0o600)
	if ok, err := m.Reload(ctx); err != nil || !ok {
		t.Fatalf("changed reload = %v, %v", ok, err)
	}
	select {
	case got := <-ch:
		if got.Logging.Level != "debug" {
			t.Fatalf("published level = %q", got.Logging.Level)
		}
	default:
		t.Fatalf("expected a published config")
	}

	m.SetValidator(func(context.Context, *Config) error { return errors.New("bad") })
	_ = afero.WriteFile(fs, "c.json", []byte(`{"logging":{"level":"error"}}`), 0o600)
	if ok, err := m.Reload(ctx); err == nil || ok {
		t.Fatalf("rejected reload = %v, %v", ok, err)
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatalf("rejected config was committed")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	a := Default()
	b := Default()
	if changed, _ := SummarizeConfigChange(a, b); len(changed) != 0 {
		t.Fatalf("identical configs changed = %v", changed)
	}

	b.Telegram.Token = "123:secret"
	b.Reminders.TimeOfDay = "07:00"
	b.Source.Token = "ghp_secret"
	changed, _ := SummarizeConfigChange(a, b)
	got := strings.Join(changed, ",")
	if got != "source,reminders,telegram" {
		t.Fatalf("changed = %q", got)
	}
}

func TestParseClock(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"", 0, true},
		{"09:00", 9 * time.Hour, true},
		{" 23:59 ", 23*time.Hour + 59*time.Minute, true},
		{"24:00", 0, false},
		{"9am", 0, false},
		{"7:05", 7*time.Hour + 5*time.Minute, true},
		{"07:5", 0, false},
		{"12:60", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseClock("reminders.time_of_day", tc.in)
		if tc.ok != (err == nil) {
			t.Fatalf("ParseClock(%q) err = %v", tc.in, err)
		}
		if tc.ok && got != tc.want {
			t.Fatalf("ParseClock(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()

	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("empty = %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "2s", time.Minute); err != nil || d != 2*time.Second {
		t.Fatalf("2s = %v, %v", d, err)
	}
	if _, err := ParseDurationOrDefault("x", "-1s", time.Minute); err == nil {
		t.Fatalf("negative accepted")
	}
	if _, err := ParseDurationOrDefault("x", "soon", time.Minute); err == nil {
		t.Fatalf("garbage accepted")
	}
}

func TestParseDurationFieldDays(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"7d", 7 * 24 * time.Hour, true},
		{"1d12h", 36 * time.Hour, true},
		{"90m", 90 * time.Minute, true},
		{"d5h", 0, false},
		{"-1d", 0, false},
		{"2d-1h", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("cache.ttl", tc.in)
		if tc.ok != (err == nil) {
			t.Fatalf("ParseDurationField(%q) err = %v", tc.in, err)
		}
		if tc.ok && got != tc.want {
			t.Fatalf("ParseDurationField(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
