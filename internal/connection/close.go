package connection

import (
	"errors"

	"github.com/gorilla/websocket"
)

// AppCodeOffset is added to relay close codes on the wire. WebSocket reserves
// codes below 3000, so the relay's application codes (401, 429, ...) travel
// as 4000+code.
const AppCodeOffset = 4000

// CodeUnreachable is reported when the relay could not be reached at all.
const CodeUnreachable = 503

// WireCloseCode returns the WebSocket close code carrying a relay code.
func WireCloseCode(code int) int {
	return AppCodeOffset + code
}

// CloseCode extracts the relay close code and reason from the error that
// ended an established connection. Codes outside the application range are
// returned unchanged.
func CloseCode(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Code >= AppCodeOffset && ce.Code < AppCodeOffset+1000 {
			return ce.Code - AppCodeOffset, ce.Text
		}
		return ce.Code, ce.Text
	}

	if err == nil {
		return websocket.CloseNormalClosure, ""
	}
	return websocket.CloseAbnormalClosure, err.Error()
}

// DialCode maps a failed Connect to a relay close code. A rejected handshake
// carries its HTTP status; a relay that never answered maps to 503.
func DialCode(err error) (int, string) {
	var he *HandshakeError
	if errors.As(err, &he) {
		return he.StatusCode, he.Status
	}
	if err == nil {
		return CodeUnreachable, ""
	}
	return CodeUnreachable, err.Error()
}
