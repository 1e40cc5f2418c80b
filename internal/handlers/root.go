package handlers

import "github.com/lunacd/vorg/internal/server"

// Root answers the handshake route so clients can probe for a live vorg
// server before asking for data.
func Root(_ *server.Request) server.Response {
	return server.Json{Payload: map[string]string{
		"server": "vorg",
		"status": "ok",
	}}
}
