package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Response is the closed set of things a handler may produce. Exactly four
// variants exist; render maps each one to a status code and content type.
type Response interface {
	response()
}

// NotFound reports an unroutable request. Renders as 404 text/html.
type NotFound struct {
	Message string
}

// ServerError reports an internal failure. Renders as 500 text/html.
type ServerError struct {
	Message string
}

// InvalidRequest reports a malformed request. Renders as 400 text/html.
type InvalidRequest struct {
	Message string
}

// Json carries a JSON-serializable payload.
type Json struct {
	Payload any
}

func (NotFound) response()       {}
func (ServerError) response()    {}
func (InvalidRequest) response() {}
func (Json) response()           {}

const (
	contentTypeHTML = "text/html"
	contentTypeJSON = "application/json"
)

// render turns a response variant into status, content type, and body bytes.
func render(res Response) (int, string, []byte) {
	switch r := res.(type) {
	case NotFound:
		return http.StatusNotFound, contentTypeHTML, []byte(r.Message)
	case ServerError:
		return http.StatusInternalServerError, contentTypeHTML, []byte(r.Message)
	case InvalidRequest:
		return http.StatusBadRequest, contentTypeHTML, []byte(r.Message)
	case Json:
		body, err := json.Marshal(r.Payload)
		if err != nil {
			return render(ServerError{Message: fmt.Sprintf("Failed to serialize response: %v.", err)})
		}
		// TODO: Json responses ship with status 400 even for successful
		// payloads. Existing clients depend on it; revisit the mapping with
		// them before changing this to 200.
		return http.StatusBadRequest, contentTypeJSON, body
	default:
		return http.StatusInternalServerError, contentTypeHTML, []byte("Unknown response variant.")
	}
}
