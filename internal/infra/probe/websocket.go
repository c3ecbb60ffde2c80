package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vietddude/apiwatch/internal/core/domain"
)

// WSProber probes WebSocket connections. A probe succeeds when the opening
// handshake completes; the socket is closed right after.
type WSProber struct {
	dialer *websocket.Dialer
}

func NewWSProber(timeout time.Duration) *WSProber {
	return &WSProber{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
		},
	}
}

func (p *WSProber) Probe(ctx context.Context, conn domain.APIConnection, credential string) Result {
	target, err := BuildURL(conn.Endpoint, conn.Path, conn.Params)
	if err != nil {
		return Failure(err, 0)
	}

	header := http.Header{}
	applyHeaders(header, conn.Headers, credential)

	start := time.Now()
	ws, resp, err := p.dialer.DialContext(ctx, target, header)
	latency := time.Since(start)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("handshake failed with http %d: %w", resp.StatusCode, err)
		}
		return Failure(err, latency)
	}

	deadline := time.Now().Add(time.Second)
	_ = ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		deadline,
	)
	_ = ws.Close()

	return Result{
		Success:   true,
		Latency:   latency,
		ConnState: "open",
	}
}
