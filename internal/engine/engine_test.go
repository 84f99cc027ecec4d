package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestResolveSkipsMissingBinaries(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, string(Xray)), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	paths := Resolve(dir)
	if _, ok := paths[Xray]; !ok {
		t.Fatal("expected xray to resolve")
	}
	if _, ok := paths[Singbox]; ok {
		t.Fatal("sing-box binary does not exist, must not resolve")
	}
}

func TestNewRejectsUnresolvedVariant(t *testing.T) {
	if _, err := New(Mihomo, BinaryPaths{}, t.TempDir()); err == nil {
		t.Fatal("expected error constructing a runner for an unresolved variant")
	}
}

func TestRingBufferRetainsOnlyTail(t *testing.T) {
	r := newRingBuffer(8)
	r.Write([]byte("0123456789"))
	if got := r.String(); got != "23456789" {
		t.Fatalf("expected tail of size 8, got %q", got)
	}
}

func TestValidateConfigJSONRejectsGarbage(t *testing.T) {
	if err := validateConfigJSON([]byte("{not json")); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
	if err := validateConfigJSON([]byte(`{"inbounds":[]}`)); err != nil {
		t.Fatalf("expected valid JSON to pass, got %v", err)
	}
}

// fakeEngineScript writes a long-lived shell script standing in for a real
// engine binary, so Start/Stop lifecycle can be exercised without any of
// the three real proxy binaries installed.
func fakeEngineScript(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "fake-engine")
	script := "#!/bin/sh\ntrap 'exit 0' TERM\nwhile true; do sleep 1; done\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestStartStopLifecycle(t *testing.T) {
	dir := t.TempDir()
	bin := fakeEngineScript(t, dir)
	r, err := New(Xray, BinaryPaths{Xray: bin}, dir)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := r.Start(ctx, []byte(`{"inbounds":[]}`), 19900)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := os.Stat(h.configPath); err != nil {
		t.Fatalf("expected temp config to exist while handle is live: %v", err)
	}

	h.Stop()
	h.Stop() // must be idempotent

	if _, err := os.Stat(h.configPath); !os.IsNotExist(err) {
		t.Fatal("expected temp config removed after stop")
	}
}

func TestHandleAliveReflectsSubprocessState(t *testing.T) {
	dir := t.TempDir()
	bin := fakeEngineScript(t, dir)
	r, err := New(Xray, BinaryPaths{Xray: bin}, dir)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := r.Start(ctx, []byte(`{"inbounds":[]}`), 19902)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if !h.Alive() {
		t.Fatal("expected handle to report alive immediately after start")
	}

	h.Stop()
	if h.Alive() {
		t.Fatal("expected handle to report not alive after Stop")
	}
}

func TestStartFailsWhenSubprocessExitsDuringStartup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-engine")
	script := "#!/bin/sh\nexit 1\n" // exits immediately, simulating a crash
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	r, err := New(Xray, BinaryPaths{Xray: path}, dir)
	if err != nil {
		t.Fatal(err)
	}

	// The startup-grace wait in Start will itself observe the exit and
	// return an error; Alive must never have been left stuck at true.
	if _, err := r.Start(context.Background(), []byte(`{"inbounds":[]}`), 19903); err == nil {
		t.Fatal("expected start to fail when the subprocess exits during startup grace")
	}
}

func TestStartFailsWithMalformedConfig(t *testing.T) {
	dir := t.TempDir()
	bin := fakeEngineScript(t, dir)
	r, err := New(Xray, BinaryPaths{Xray: bin}, dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Start(context.Background(), []byte("not json"), 19901); err == nil {
		t.Fatal("expected error for malformed config")
	}
}
