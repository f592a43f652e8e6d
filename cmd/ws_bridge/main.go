// Command ws_bridge exposes the egoist CLI over a WebSocket. Each connection
// to /ws spawns one CLI process; text frames are written to its stdin and
// every line it prints comes back as a JSON frame.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// frame is one line of process output.
type frame struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

func main() {
	addr := flag.String("addr", ":8080", "Address to listen on")
	flag.Parse()

	cmdArgs := flag.Args()
	if len(cmdArgs) == 0 {
		cmdArgs = []string{"egoist"}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handleWS(cmdArgs))

	slog.Info("WebSocket bridge running", "addr", *addr, "path", "/ws", "command", cmdArgs)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// wsWriter serializes frame writes; a websocket.Conn allows one writer at a
// time.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) send(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func handleWS(cmdArgs []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		// The process is killed when the connection handler returns.
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		cmd := exec.CommandContext(ctx, cmdArgs[0], cmdArgs[1:]...)

		stdin, err := cmd.StdinPipe()
		if err != nil {
			slog.Warn("failed to get stdin", "error", err)
			return
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			slog.Warn("failed to get stdout", "error", err)
			return
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			slog.Warn("failed to get stderr", "error", err)
			return
		}

		if err := cmd.Start(); err != nil {
			slog.Warn("failed to start process", "command", cmdArgs[0], "error", err)
			return
		}
		slog.Info("process started", "pid", cmd.Process.Pid, "remote", r.RemoteAddr)

		out := &wsWriter{conn: conn}
		var wg sync.WaitGroup
		wg.Add(2)
		go pump(&wg, out, "stdout", stdout)
		go pump(&wg, out, "stderr", stderr)

		go func() {
			wg.Wait()
			err := cmd.Wait()
			slog.Info("process exited", "pid", cmd.Process.Pid, "error", err)
			out.mu.Lock()
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "process exited"))
			out.mu.Unlock()
		}()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				slog.Debug("websocket read ended", "error", err)
				stdin.Close()
				return
			}
			if _, err := stdin.Write(append(msg, '\n')); err != nil {
				slog.Warn("stdin write failed", "error", err)
				return
			}
		}
	}
}

// pump sends each line read from r as a frame of the given type.
func pump(wg *sync.WaitGroup, out *wsWriter, kind string, r io.Reader) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := out.send(frame{Type: kind, Data: scanner.Text()}); err != nil {
			slog.Debug("websocket write failed", "error", err)
			// Drain so the process never blocks on a full pipe.
			io.Copy(io.Discard, r)
			return
		}
	}
}
