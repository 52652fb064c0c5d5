package cli

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"strings"
	"testing"

	"dashsync/internal/config"
	"dashsync/internal/output"
)

func dryRunConfig() config.Config {
	return config.Config{
		Sync: config.SyncConfig{DryRun: true, UpsertChunkSize: 10},
		Tenants: config.TenantsConfig{Static: []config.TenantConfig{
			{ID: "tl-1", Provider: "teamleader"},
		}},
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" a, b,,a ,c")
	if strings.Join(got, "|") != "a|b|c" {
		t.Fatalf("got=%v want=[a b c]", got)
	}
	if got := splitList(""); len(got) != 0 {
		t.Fatalf("got=%v want empty", got)
	}
}

func TestFailFastOnlyWhenSet(t *testing.T) {
	fs := flag.NewFlagSet("t", flag.ContinueOnError)
	var pf passFlags
	pf.bind(fs)
	if err := fs.Parse([]string{"--entities", "contacts", "--provider", "GHL"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	req := pf.request(fs)
	if req.FailFast != nil || req.Tenants.Provider != "ghl" || len(req.Entities) != 1 {
		t.Fatalf("req=%+v", req)
	}

	fs = flag.NewFlagSet("t", flag.ContinueOnError)
	pf = passFlags{}
	pf.bind(fs)
	_ = fs.Parse([]string{"--fail-fast=false"})
	if req := pf.request(fs); req.FailFast == nil || *req.FailFast {
		t.Fatalf("fail_fast=%v want explicit false", req.FailFast)
	}
}

func TestRunReportsFailures(t *testing.T) {
	var out bytes.Buffer
	err := Dispatch(context.Background(), Context{Config: dryRunConfig(), Output: output.FormatText, Stdout: &out}, []string{"run"})
	if !errors.Is(err, ErrPassFailed) {
		t.Fatalf("err=%v want=ErrPassFailed", err)
	}
	if !strings.Contains(out.String(), "tl-1") || !strings.Contains(out.String(), "oauth") {
		t.Fatalf("out=%s", out.String())
	}
}

func TestStateOnEmptyStore(t *testing.T) {
	cfg := dryRunConfig()
	var out bytes.Buffer
	if err := Dispatch(context.Background(), Context{Config: cfg, Output: output.FormatJSON, Stdout: &out}, []string{"state"}); err != nil {
		t.Fatalf("err=%v", err)
	}
	if strings.TrimSpace(out.String()) != "null" && strings.TrimSpace(out.String()) != "[]" {
		t.Fatalf("out=%s", out.String())
	}
}

func TestUnknownCommand(t *testing.T) {
	if err := Dispatch(context.Background(), Context{}, []string{"frobnicate"}); err == nil {
		t.Fatalf("want error")
	}
}

func TestAuthorizeNeedsTenant(t *testing.T) {
	if err := Dispatch(context.Background(), Context{Config: dryRunConfig()}, []string{"authorize"}); err == nil || !strings.Contains(err.Error(), "--tenant") {
		t.Fatalf("err=%v", err)
	}
}
