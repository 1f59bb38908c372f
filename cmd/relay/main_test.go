package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/relay/internal/cron"
)

func TestRootCommandTree(t *testing.T) {
	root := buildRootCmd()
	want := map[string]bool{"run": false, "cron": false, "status": false}
	for _, sub := range root.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q missing", name)
		}
	}
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	ws := t.TempDir()
	path := filepath.Join(ws, "relay.yaml")
	content := "workspace: " + ws + "\nprovider:\n  name: anthropic\n  api_key: sk-test\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCronAddListRemove(t *testing.T) {
	configPath := writeTestConfig(t)

	run := func(args ...string) (string, error) {
		root := buildRootCmd()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetErr(&out)
		root.SetArgs(args)
		err := root.Execute()
		return out.String(), err
	}

	out, err := run("cron", "add", "-c", configPath,
		"--name", "briefing", "--cron", "0 8 * * *", "--message", "morning summary")
	if err != nil {
		t.Fatalf("cron add: %v", err)
	}
	if !strings.Contains(out, "Added job") {
		t.Errorf("add output = %q", out)
	}

	out, err = run("cron", "list", "-c", configPath)
	if err != nil {
		t.Fatalf("cron list: %v", err)
	}
	if !strings.Contains(out, "briefing") || !strings.Contains(out, "cron 0 8 * * *") {
		t.Errorf("list output = %q", out)
	}
	jobID := strings.Fields(out)[0]

	out, err = run("cron", "remove", "-c", configPath, jobID)
	if err != nil {
		t.Fatalf("cron remove: %v", err)
	}
	if !strings.Contains(out, "Removed job") {
		t.Errorf("remove output = %q", out)
	}

	if _, err := run("cron", "remove", "-c", configPath, "missing-id"); err == nil {
		t.Error("expected error removing unknown job")
	}
}

func TestCronAddRequiresSchedule(t *testing.T) {
	configPath := writeTestConfig(t)
	root := buildRootCmd()
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{"cron", "add", "-c", configPath,
		"--name", "x", "--message", "y"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected error without a schedule flag")
	}
}

func TestStatusCommand(t *testing.T) {
	configPath := writeTestConfig(t)
	root := buildRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"status", "-c", configPath})
	if err := root.Execute(); err != nil {
		t.Fatalf("status: %v", err)
	}
	got := out.String()
	for _, want := range []string{"provider:  anthropic", "channels:  none", "cron jobs: 0"} {
		if !strings.Contains(got, want) {
			t.Errorf("status output missing %q:\n%s", want, got)
		}
	}
}

func TestDescribeSchedule(t *testing.T) {
	every, _ := cron.NewEverySchedule(30 * time.Minute)
	if got := describeSchedule(every); got != "every 30m0s" {
		t.Errorf("every = %q", got)
	}
	expr, _ := cron.NewCronSchedule("*/5 * * * *")
	if got := describeSchedule(expr); got != "cron */5 * * * *" {
		t.Errorf("cron = %q", got)
	}
}
