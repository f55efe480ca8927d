package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat/internal/auth"
	"github.com/Tyrowin/gochat/internal/config"
	"github.com/Tyrowin/gochat/internal/router"
	"github.com/Tyrowin/gochat/internal/session"
)

// Registry is the router surface the gateway needs.
type Registry interface {
	session.Registrar
	Stats() router.Stats
}

// Gateway upgrades WebSocket requests into Clients.
type Gateway struct {
	hub        *Hub
	registry   Registry
	verifier   auth.Verifier
	dispatcher Dispatcher
	opts       ClientOptions
	upgrader   websocket.Upgrader
	log        zerolog.Logger
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithClock sets the clock used by client sessions and rate limiters.
func WithClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) { g.opts.Now = now }
}

// NewGateway creates a Gateway from the server configuration.
func NewGateway(cfg config.ServerConfig, hub *Hub, registry Registry, verifier auth.Verifier, d Dispatcher, log zerolog.Logger, opts ...GatewayOption) *Gateway {
	origins := newOriginPolicy(cfg.AllowedOrigins, log)
	g := &Gateway{
		hub:        hub,
		registry:   registry,
		verifier:   verifier,
		dispatcher: d,
		opts: ClientOptions{
			MaxMessageSize: cfg.MaxMessageSize,
			SendBufferSize: cfg.SendBufferSize,
			RateBurst:      cfg.RateLimit.Burst,
			RateInterval:   cfg.RateLimit.RefillInterval,
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
		log: log,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// WebSocketHandler upgrades the request and hands the connection to the hub.
func (g *Gateway) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	client := NewClient(conn, g.hub, r.RemoteAddr, g.verifier, g.registry, g.dispatcher, g.opts, g.log)
	if !g.admit(client) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
	}
}

// admit hands c to the hub. A client the hub turns away is closed before it
// ever runs.
func (g *Gateway) admit(c *Client) bool {
	if g.hub.Register(c) {
		return true
	}
	c.closeSend()
	return false
}

type healthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
	router.Stats
}

// HealthHandler reports liveness plus connection and registry counts.
func (g *Gateway) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	resp := healthResponse{
		Status:  "ok",
		Clients: g.hub.Count(),
		Stats:   g.registry.Stats(),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		g.log.Debug().Err(err).Msg("error writing health response")
	}
}

// RootHandler keeps the plain-text banner on "/".
func RootHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("GoChat server is running!"))
}

// TestPageHandler serves a browser page that logs in, authenticates the
// WebSocket and posts TEXT_MESSAGE envelopes to a room.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte(testPage))
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>GoChat WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"], input[type="password"] { width: 200px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>GoChat WebSocket Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="username" placeholder="Username">
        <input type="password" id="password" placeholder="Password">
        <button onclick="login()">Log in</button>
    </div>
    <div>
        <input type="text" id="roomInput" placeholder="Room id">
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        let token = '';
        let txid = 0;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const roomInput = document.getElementById('roomInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addMessage(text, color) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            el.style.color = color || 'gray';
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected, label) {
            statusDiv.textContent = label || (connected ? 'Connected' : 'Disconnected');
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        async function login() {
            const resp = await fetch('/login', {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: JSON.stringify({
                    username: document.getElementById('username').value,
                    password: document.getElementById('password').value
                })
            });
            const body = await resp.json();
            if (!resp.ok) {
                addMessage('Login failed: ' + JSON.stringify(body), 'red');
                return;
            }
            token = body.token;
            addMessage('Logged in; token expires ' + new Date(body.expires).toLocaleString());
        }

        function send(type, payload) {
            txid++;
            ws.send(JSON.stringify({ type: type, payload: payload, transactionid: txid }));
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');

            ws.onopen = function() {
                addMessage('Connected to GoChat server');
                updateStatus(true);
                send('AUTHENTICATE', { token: token });
            };

            ws.onmessage = function(event) {
                const env = JSON.parse(event.data);
                if (env.type === 'WELCOME') {
                    updateStatus(true, 'Authenticated as ' + env.payload.username);
                } else if (env.type === 'TEXT_MESSAGE') {
                    addMessage('[' + env.payload.room + '] ' + env.payload.author + ': ' + env.payload.content, 'green');
                    return;
                }
                addMessage(event.data);
            };

            ws.onclose = function() {
                addMessage('Connection closed');
                updateStatus(false);
                ws = null;
            };

            ws.onerror = function() {
                addMessage('Connection error', 'red');
                updateStatus(false);
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function sendMessage() {
            const text = messageInput.value.trim();
            if (text && ws && ws.readyState === WebSocket.OPEN) {
                send('TEXT_MESSAGE', { roomId: roomInput.value.trim(), text: text });
                addMessage('You: ' + text, 'blue');
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
