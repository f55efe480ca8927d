package main

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat/internal/protocol"
)

// wsConn is the chat connection. send may be called from any goroutine.
type wsConn struct {
	conn *websocket.Conn

	mu   sync.Mutex
	txid int64
}

// dialWS connects to the /ws endpoint of server, presenting server itself as
// the Origin.
func dialWS(server string) (*wsConn, error) {
	u, err := url.Parse(server)
	if err != nil {
		return nil, err
	}
	origin := u.Scheme + "://" + u.Host
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/ws"

	header := http.Header{}
	header.Set("Origin", origin)
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(u.String(), header)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

// send writes one envelope and returns the transaction id it carried.
func (w *wsConn) send(msgType string, payload any) (int64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.txid++
	env := protocol.Envelope{
		Type:          msgType,
		Payload:       raw,
		TransactionID: json.RawMessage(strconv.FormatInt(w.txid, 10)),
	}
	return w.txid, w.conn.WriteJSON(env)
}

// readLoop forwards every inbound frame to pkts and closes it when the
// connection ends.
func (w *wsConn) readLoop(pkts chan<- []byte) {
	defer close(pkts)
	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			return
		}
		pkts <- data
	}
}

func (w *wsConn) close() {
	w.mu.Lock()
	_ = w.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	w.mu.Unlock()
	_ = w.conn.Close()
}
