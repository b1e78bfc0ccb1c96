package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"scrollglide/internal/telemetry"
)

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:3002"+telemetry.DefaultPath, "scrollglide telemetry websocket URL")
		raw   = flag.Bool("raw", false, "Print frames as received instead of summarizing them")
		quiet = flag.Bool("quiet", false, "Skip motion frames")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// Serialize writes: pings and the final close frame.
	var writeMu sync.Mutex

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	// The server pings us; answering resets the deadline too.
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			if messageType != websocket.TextMessage {
				fmt.Printf("[BINARY] %d bytes\n", len(message))
				continue
			}
			if *raw {
				fmt.Printf("%s\n", message)
				continue
			}
			printFrame(os.Stdout, message, *quiet)
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// printFrame writes a one-line summary of a telemetry frame.
func printFrame(w io.Writer, message []byte, quiet bool) {
	var env telemetry.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		fmt.Fprintf(w, "[TEXT] %s\n", message)
		return
	}

	ts := ""
	if env.Ts != nil {
		ts = env.Ts.Local().Format("15:04:05.000") + " "
	}

	switch env.Type {
	case telemetry.FrameStatusInit, telemetry.FrameStatus:
		var s telemetry.StatusData
		if err := json.Unmarshal(env.Data, &s); err != nil {
			break
		}
		fmt.Fprintf(w, "%s[STATUS] enabled=%t paused=%t installed=%t active=%t accepted=%d excluded=%d\n",
			ts, s.Enabled, s.Paused, s.Installed, s.Active, s.Stats.Accepted, s.Stats.Excluded)
		return

	case telemetry.FrameMotion:
		if quiet {
			return
		}
		var m telemetry.MotionData
		if err := json.Unmarshal(env.Data, &m); err != nil {
			break
		}
		fmt.Fprintf(w, "%s[MOTION] v=%+d h=%+d commands=%d target=%d\n", ts, m.Vertical, m.Horizontal, m.Commands, m.Target)
		return

	case telemetry.FrameActivity:
		var a telemetry.ActivityData
		if err := json.Unmarshal(env.Data, &a); err != nil {
			break
		}
		process := a.Process
		if process == "" {
			process = "-"
		}
		fmt.Fprintf(w, "%s[WHEEL] %s %s %+d\n", ts, process, a.Axis, a.Delta)
		return
	}

	fmt.Fprintf(w, "%s[%s] %s\n", ts, env.Type, env.Data)
}
