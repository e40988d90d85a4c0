package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/typesarecool/myhn/internal/config"
	"github.com/typesarecool/myhn/internal/testutil"
)

func TestParseSeeds(t *testing.T) {
	tests := []struct {
		in      string
		want    []int64
		wantErr bool
	}{
		{in: "1,2,3", want: []int64{1, 2, 3}},
		{in: " 8863 , 9224 ", want: []int64{8863, 9224}},
		{in: "1,,2,", want: []int64{1, 2}},
		{in: "", want: nil},
		{in: "1,abc", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseSeeds(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseSeeds(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parseSeeds(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFlags_ApplyOnlySetFlags(t *testing.T) {
	var stderr bytes.Buffer
	fs, f := newFlagSet(&stderr)
	if err := fs.Parse([]string{"-mode", "graph", "-seeds", "8863,9224", "-workers", "2", "-max-depth", "3"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cfg := &config.Config{}
	cfg.Run.Count = 7
	cfg.Scheduler.MaxAttempts = 9
	if err := f.apply(fs, cfg); err != nil {
		t.Fatalf("apply() error = %v", err)
	}

	if cfg.Run.Mode != "graph" {
		t.Errorf("Mode = %q, want graph", cfg.Run.Mode)
	}
	if !reflect.DeepEqual(cfg.Run.Seeds, []int64{8863, 9224}) {
		t.Errorf("Seeds = %v, want [8863 9224]", cfg.Run.Seeds)
	}
	if cfg.Scheduler.Workers != 2 || cfg.Run.MaxDepth != 3 {
		t.Errorf("Workers = %d, MaxDepth = %d, want 2 and 3", cfg.Scheduler.Workers, cfg.Run.MaxDepth)
	}
	if cfg.Run.Count != 7 || cfg.Scheduler.MaxAttempts != 9 {
		t.Errorf("unset flags overwrote config: Count = %d, MaxAttempts = %d", cfg.Run.Count, cfg.Scheduler.MaxAttempts)
	}
}

func TestFlags_ApplyBadSeeds(t *testing.T) {
	var stderr bytes.Buffer
	fs, f := newFlagSet(&stderr)
	if err := fs.Parse([]string{"-seeds", "x"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if err := f.apply(fs, &config.Config{}); err == nil {
		t.Error("apply() with bad seeds succeeded, want error")
	}
}

func runArgs(t *testing.T, args ...string) (int, string) {
	t.Helper()
	t.Setenv("CONFIG_PATH", "")

	var stderr bytes.Buffer
	code := run(context.Background(), args, &stderr)
	return code, stderr.String()
}

func TestRun_StartupErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "unknown flag", args: []string{"-nope"}},
		{name: "missing config file", args: []string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}},
		{name: "graph without seeds", args: []string{"-mode", "graph"}},
		{name: "unknown backend", args: []string{"-backend", "tape"}},
		{name: "bad seeds", args: []string{"-mode", "graph", "-seeds", "1,x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out := runArgs(t, tt.args...)
			if code != exitStartup {
				t.Errorf("run(%v) = %d, want %d; stderr: %s", tt.args, code, exitStartup, out)
			}
		})
	}
}

func TestRun_MaxIDUnavailable(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetMaxID("not-a-number")

	target := filepath.Join(t.TempDir(), "data.json")
	code, out := runArgs(t, "-base-url", mock.URL(), "-target", target, "-min-interval", "1ms")
	if code != exitStartup {
		t.Errorf("run() = %d, want %d; stderr: %s", code, exitStartup, out)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Errorf("store file written after a failed start: %v", err)
	}
}

func TestRun_RangeIntoFile(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetMaxID("1002")
	mock.SetStory(1002, 1001)
	mock.SetItem(1001, `{"id":1001,"type":"comment","parent":1002,"text":"first"}`)

	target := filepath.Join(t.TempDir(), "data.json")
	code, out := runArgs(t,
		"-base-url", mock.URL(),
		"-count", "3",
		"-target", target,
		"-min-interval", "1ms",
		"-metrics-addr", "127.0.0.1:0",
	)
	if code != exitOK {
		t.Fatalf("run() = %d, want %d; stderr: %s", code, exitOK, out)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var items []map[string]any
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatalf("store file is not a JSON array: %v", err)
	}
	// 1002 and 1001 plus a tombstone for 1000.
	if len(items) != 3 {
		t.Errorf("stored %d items, want 3", len(items))
	}
}

func TestRun_FailedIDsExitOne(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetMaxID("10")
	mock.SetStory(10)
	mock.SetItem(9, `{"type":"story","title":"no id"}`)

	target := filepath.Join(t.TempDir(), "data.json")
	code, out := runArgs(t, "-base-url", mock.URL(), "-count", "2", "-target", target, "-min-interval", "1ms")
	if code != exitFailed {
		t.Errorf("run() = %d, want %d; stderr: %s", code, exitFailed, out)
	}
}

func TestRun_GraphFromConfigFile(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetStory(1, 2, 3)
	mock.SetItem(2, `{"id":2,"type":"comment","parent":1,"kids":[4]}`)
	mock.SetItem(3, `{"id":3,"type":"comment","parent":1}`)
	mock.SetItem(4, `{"id":4,"type":"comment","parent":2}`)

	dir := t.TempDir()
	target := filepath.Join(dir, "items.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	yaml := "run:\n  mode: graph\n  seeds: [1]\n  max_depth: 1\n" +
		"source:\n  base_url: " + mock.URL() + "\n" +
		"scheduler:\n  min_interval: 1ms\n" +
		"store:\n  backend: sqlite\n  target: " + target + "\n"
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	code, out := runArgs(t, "-config", cfgPath)
	if code != exitOK {
		t.Fatalf("run() = %d, want %d; stderr: %s", code, exitOK, out)
	}
	if got := mock.ItemCount(4); got != 0 {
		t.Errorf("item 4 below max depth requested %d times, want 0", got)
	}
	if _, err := os.Stat(target); err != nil {
		t.Errorf("sqlite database not created: %v", err)
	}
}
