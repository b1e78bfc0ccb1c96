package ipc

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"scrollglide/internal/router"
)

type fakeController struct {
	mu        sync.Mutex
	calls     []string
	enabled   bool
	paused    bool
	reloadErr error
}

func (f *fakeController) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeController) Start(context.Context) error {
	f.record(CmdStart)
	f.mu.Lock()
	f.enabled = true
	f.mu.Unlock()
	return nil
}

func (f *fakeController) Stop() error {
	f.record(CmdStop)
	f.mu.Lock()
	f.enabled = false
	f.mu.Unlock()
	return nil
}

func (f *fakeController) Toggle(ctx context.Context) error {
	f.record(CmdToggle)
	f.mu.Lock()
	f.enabled = !f.enabled
	f.mu.Unlock()
	return nil
}

func (f *fakeController) Pause() {
	f.record(CmdPause)
	f.mu.Lock()
	f.paused = true
	f.mu.Unlock()
}

func (f *fakeController) Resume() {
	f.record(CmdResume)
	f.mu.Lock()
	f.paused = false
	f.mu.Unlock()
}

func (f *fakeController) Reload() error {
	f.record(CmdReload)
	return f.reloadErr
}

func (f *fakeController) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Status{Enabled: f.enabled, Paused: f.paused, Backend: "fake", Stats: router.Stats{Accepted: 3}}
}

func TestDispatch(t *testing.T) {
	tests := []struct {
		line        string
		wantStatus  string
		wantCall    string
		wantEnabled bool
		wantErr     string
	}{
		{`{"type":"start"}`, "ok", CmdStart, true, ""},
		{`{"type":"stop"}`, "ok", CmdStop, false, ""},
		{`{"type":"toggle"}`, "ok", CmdToggle, true, ""},
		{`{"type":"status"}`, "ok", "", false, ""},
		{`{"type":"reload"}`, "ok", CmdReload, false, ""},
		{`{"type":"explode"}`, "error", "", false, "unknown command"},
		{`not json`, "error", "", false, "parse request"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			ctrl := &fakeController{}
			resp := Dispatch(context.Background(), ctrl, []byte(tt.line))
			if resp.Status != tt.wantStatus {
				t.Fatalf("status = %q (%s), want %q", resp.Status, resp.Error, tt.wantStatus)
			}
			if tt.wantErr != "" && !strings.Contains(resp.Error, tt.wantErr) {
				t.Fatalf("error = %q, want mention of %q", resp.Error, tt.wantErr)
			}
			if tt.wantCall != "" && (len(ctrl.calls) != 1 || ctrl.calls[0] != tt.wantCall) {
				t.Fatalf("calls = %v, want [%s]", ctrl.calls, tt.wantCall)
			}
			if resp.Status == "ok" {
				if resp.Data == nil {
					t.Fatal("ok response should carry status")
				}
				if resp.Data.Enabled != tt.wantEnabled {
					t.Fatalf("enabled = %v, want %v", resp.Data.Enabled, tt.wantEnabled)
				}
			}
		})
	}
}

func TestDispatch_PauseResume(t *testing.T) {
	ctrl := &fakeController{}
	if resp := Dispatch(context.Background(), ctrl, []byte(`{"type":"pause"}`)); !resp.Data.Paused {
		t.Fatal("pause not reflected in status")
	}
	if resp := Dispatch(context.Background(), ctrl, []byte(`{"type":"resume"}`)); resp.Data.Paused {
		t.Fatal("resume not reflected in status")
	}
}

func TestDispatch_ControllerError(t *testing.T) {
	ctrl := &fakeController{reloadErr: errors.New("bad yaml")}
	resp := Dispatch(context.Background(), ctrl, []byte(`{"type":"reload"}`))
	if resp.Status != "error" || resp.Error != "bad yaml" || resp.Data != nil {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestServeAndSend(t *testing.T) {
	dir, err := os.MkdirTemp("", "sgipc")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	sock := filepath.Join(dir, "ctl.sock")

	// A stale file at the path is replaced.
	if err := os.WriteFile(sock, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	ctrl := &fakeController{}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Serve(ctx, sock, ctrl, slog.Default()) }()

	var st Status
	deadline := time.Now().Add(2 * time.Second)
	for {
		st, err = Send(sock, CmdStart, time.Second)
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("Send start: %v", err)
	}
	if !st.Enabled || st.Backend != "fake" || st.Stats.Accepted != 3 {
		t.Fatalf("status = %+v", st)
	}

	if _, err := Send(sock, "bogus", time.Second); err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("expected daemon error, got %v", err)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if _, err := os.Stat(sock); !os.IsNotExist(err) {
		t.Fatalf("socket file should be removed, stat err = %v", err)
	}
}

func TestSend_NoDaemon(t *testing.T) {
	_, err := Send(filepath.Join(t.TempDir(), "missing.sock"), CmdStatus, 100*time.Millisecond)
	if err == nil {
		t.Fatal("expected connect error")
	}
}
