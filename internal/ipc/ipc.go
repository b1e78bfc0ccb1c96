// Package ipc is the daemon's control socket.
//
// Protocol: line-delimited JSON over a Unix domain socket.
//
//	client: {"type":"status"}
//	server: {"status":"ok","data":{...}} or {"status":"error","error":"msg"}
//
// A connection may carry any number of requests.
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"scrollglide/internal/router"
)

// Command names.
const (
	CmdStart  = "start"
	CmdStop   = "stop"
	CmdToggle = "toggle"
	CmdPause  = "pause"
	CmdResume = "resume"
	CmdStatus = "status"
	CmdReload = "reload"
)

// Commands lists every command the server understands.
var Commands = []string{CmdStart, CmdStop, CmdToggle, CmdPause, CmdResume, CmdStatus, CmdReload}

// Request is one client line.
type Request struct {
	Type string `json:"type"`
}

// Response is one server line.
type Response struct {
	Status string  `json:"status"`          // "ok" or "error"
	Error  string  `json:"error,omitempty"` // set when Status == "error"
	Data   *Status `json:"data,omitempty"`  // daemon state after the command
}

// Status is the daemon state reported after every command.
type Status struct {
	Enabled   bool         `json:"enabled"`
	Paused    bool         `json:"paused"`
	Installed bool         `json:"installed"`
	Active    bool         `json:"active"`
	Backend   string       `json:"backend"`
	Config    string       `json:"config,omitempty"`
	Stats     router.Stats `json:"stats"`
}

// Controller is what the socket drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	Toggle(ctx context.Context) error
	Pause()
	Resume()
	Reload() error
	Status() Status
}

// Serve listens on socketPath and handles clients until ctx is canceled.
// A stale socket file is replaced; the file is removed on return.
func Serve(ctx context.Context, socketPath string, ctrl Controller, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	// Only the owning user may control the daemon.
	if err := os.Chmod(socketPath, 0o600); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Debug("IPC listener closed")
				return nil
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}
		go handleConn(ctx, conn, ctrl, logger)
	}
}

func handleConn(ctx context.Context, conn net.Conn, ctrl Controller, logger *slog.Logger) {
	defer conn.Close()

	// Unblock the scanner on shutdown.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		logger.Debug("IPC received", "line", line)

		resp := Dispatch(ctx, ctrl, []byte(line))
		if resp.Status != "ok" {
			logger.Warn("IPC command failed", "error", resp.Error)
		}
		if err := encoder.Encode(resp); err != nil {
			logger.Debug("IPC failed to send response", "error", err)
			return
		}
	}
}

// Dispatch parses one request line and applies it to ctrl.
func Dispatch(ctx context.Context, ctrl Controller, line []byte) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return errorResponse(fmt.Errorf("parse request: %w", err))
	}

	var err error
	switch req.Type {
	case CmdStart:
		err = ctrl.Start(ctx)
	case CmdStop:
		err = ctrl.Stop()
	case CmdToggle:
		err = ctrl.Toggle(ctx)
	case CmdPause:
		ctrl.Pause()
	case CmdResume:
		ctrl.Resume()
	case CmdReload:
		err = ctrl.Reload()
	case CmdStatus:
	default:
		return errorResponse(fmt.Errorf("unknown command %q", req.Type))
	}
	if err != nil {
		return errorResponse(err)
	}

	st := ctrl.Status()
	return Response{Status: "ok", Data: &st}
}

func errorResponse(err error) Response {
	return Response{Status: "error", Error: err.Error()}
}

// ============================================================================
// Client
// ============================================================================

// Send issues one command and returns the daemon's status afterwards.
func Send(socketPath, cmd string, timeout time.Duration) (Status, error) {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return Status{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	data, err := json.Marshal(Request{Type: cmd})
	if err != nil {
		return Status{}, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return Status{}, fmt.Errorf("send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Status{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return Status{}, fmt.Errorf("daemon error: %s", resp.Error)
	}
	if resp.Data == nil {
		return Status{}, nil
	}
	return *resp.Data, nil
}
