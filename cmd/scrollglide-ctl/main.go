package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"scrollglide/internal/ipc"
)

// ============================================================================
// scrollglide-ctl - command-line control for the scrollglide daemon
// ============================================================================
//
// Usage:
//   scrollglide-ctl toggle
//   scrollglide-ctl -json status
//   scrollglide-ctl -socket /run/user/1000/scrollglide.sock reload
// ============================================================================

const defaultSocket = "/tmp/scrollglide.sock"

// aliases maps shorthand commands onto protocol commands.
var aliases = map[string]string{
	"on":  ipc.CmdStart,
	"off": ipc.CmdStop,
}

func main() {
	socketPath := defaultSocket
	asJSON := false
	timeout := 2 * time.Second

	args := os.Args[1:]
	for len(args) > 0 {
		switch args[0] {
		case "-socket", "--socket":
			if len(args) < 2 {
				fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
				os.Exit(1)
			}
			socketPath = args[1]
			args = args[2:]
			continue
		case "-json", "--json":
			asJSON = true
			args = args[1:]
			continue
		}
		break
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cmd := args[0]
	if a, ok := aliases[cmd]; ok {
		cmd = a
	}
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		return
	}
	if !known(cmd) {
		fmt.Fprintf(os.Stderr, "error: unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}

	st, err := ipc.Send(socketPath, cmd, timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if asJSON {
		out, _ := json.MarshalIndent(st, "", "  ")
		fmt.Println(string(out))
		return
	}
	fmt.Println(describe(st))
}

func known(cmd string) bool {
	for _, c := range ipc.Commands {
		if c == cmd {
			return true
		}
	}
	return false
}

// describe renders a one-line summary of the daemon state.
func describe(st ipc.Status) string {
	state := "stopped"
	switch {
	case st.Enabled && st.Paused:
		state = "paused"
	case st.Enabled:
		state = "running"
	}
	if !st.Installed {
		state += " (capture not installed)"
	}
	return fmt.Sprintf("%s backend=%s accepted=%d excluded=%d passed=%d",
		state, st.Backend, st.Stats.Accepted, st.Stats.Excluded, passed(st))
}

func passed(st ipc.Status) uint64 {
	s := st.Stats
	return s.SelfInjected + s.ZoomModifier + s.Disabled + s.OwnProcess + s.Excluded + s.OverrideDisabled
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `scrollglide-ctl - Control the scrollglide daemon via IPC

Usage:
  scrollglide-ctl [options] <command>

Options:
  -socket PATH    Unix domain socket path (default: %s)
  -json           Print the daemon status as JSON

Commands:
  start, on       Enable smooth scrolling (installs capture on first use)
  stop, off       Disable smooth scrolling; wheel events pass through
  toggle          Start when stopped, stop when running
  pause           Let events through without disabling the engine
  resume          Undo pause
  reload          Re-read the config file (engine, per-app rules, exclusions)
  status          Print the daemon state

Examples:
  scrollglide-ctl toggle
  scrollglide-ctl -json status
`, defaultSocket)
}
