package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// metricsDisplayer is implemented by go-metrics' InmemSink.
type metricsDisplayer interface {
	DisplayMetrics(resp http.ResponseWriter, req *http.Request) (interface{}, error)
}

// Stats is the body of the /stats endpoint.
type Stats struct {
	Clients int      `json:"clients"`
	Names   []string `json:"names"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
}

// WebSocketHandler upgrades the request and runs a relay session over the
// websocket until the client leaves.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	ws, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", LabelRemote.L(r.RemoteAddr), LabelError.L(err))
		return
	}
	ws.SetReadLimit(int64(s.cfg.MaxLineLength))

	if err := s.ServeConn(r.Context(), newWSConn(ws), r.RemoteAddr); err != nil {
		s.logger.Debug("websocket session ended with error", LabelRemote.L(r.RemoteAddr), LabelError.L(err))
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Relay is running!")
}

// StatsHandler reports the registered clients.
func (s *Server) StatsHandler(w http.ResponseWriter, _ *http.Request) {
	names := s.registry.Names()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(Stats{Clients: len(names), Names: names}); err != nil {
		s.logger.Error("error writing stats response", LabelError.L(err))
	}
}

// MetricsHandler serves the in-memory metrics summary, or 404 when the
// configured sink keeps nothing in memory.
func (s *Server) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	d, ok := s.msink.(metricsDisplayer)
	if !ok {
		http.NotFound(w, r)
		return
	}

	summary, err := d.DisplayMetrics(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		s.logger.Error("error writing metrics response", LabelError.L(err))
	}
}

// TestPageHandler serves a minimal browser client: the first line sent is
// the display name, every following line is chat.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprint(w, testPage)
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>Relay Test</title>
    <style>
        body { font-family: monospace; margin: 20px; }
        #log { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; white-space: pre-wrap; }
        input[type="text"] { width: 300px; padding: 5px; }
    </style>
</head>
<body>
    <h1>Relay Test</h1>
    <div id="log"></div>
    <input type="text" id="line" placeholder="Your name first, then messages" disabled>
    <button id="toggle" onclick="toggle()">Connect</button>

    <script>
        let ws = null;
        const log = document.getElementById('log');
        const line = document.getElementById('line');
        const button = document.getElementById('toggle');

        function append(text) {
            log.textContent += text;
            log.scrollTop = log.scrollHeight;
        }

        function toggle() {
            if (ws) { ws.close(); return; }
            ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
            ws.onopen = function() { line.disabled = false; button.textContent = 'Disconnect'; append('* connected, send your name\n'); };
            ws.onmessage = function(event) { append(event.data); };
            ws.onclose = function() { line.disabled = true; button.textContent = 'Connect'; append('* disconnected\n'); ws = null; };
        }

        line.addEventListener('keypress', function(e) {
            if (e.key === 'Enter' && ws) {
                ws.send(line.value + '\n');
                append('> ' + line.value + '\n');
                line.value = '';
            }
        });
    </script>
</body>
</html>`
