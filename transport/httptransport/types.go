package httptransport

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RemoteError is a non-success answer from the remote service.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote service returned status %d", e.Status)
	}
	return fmt.Sprintf("remote service returned status %d: %s", e.Status, e.Message)
}

// errorBody is the error document the service writes on failure.
type errorBody struct {
	Error      string `json:"error"`
	Status     int    `json:"status"`
	StatusText string `json:"statusText"`
}

// newRemoteError extracts the most useful message from an error response body.
func newRemoteError(status int, body []byte) *RemoteError {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		switch {
		case eb.Error != "":
			return &RemoteError{Status: status, Message: eb.Error}
		case eb.StatusText != "":
			return &RemoteError{Status: status, Message: eb.StatusText}
		}
	}
	return &RemoteError{Status: status, Message: strings.TrimSpace(string(body))}
}

type createManufacturerRequest struct {
	Name string `json:"name"`
}

type addModelRequest struct {
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
}
