package rendezvoushandler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ruteri/mpc-rendezvous/api"
	"github.com/ruteri/mpc-rendezvous/interfaces"
)

// InitializeSession asks the rendezvous service at url for a new session token.
func InitializeSession(url string) (interfaces.SessionToken, error) {
	var resp api.InitializeSessionResponse
	if err := post(url+"/initializekeygen", nil, &resp); err != nil {
		return "", fmt.Errorf("could not initialize session: %w", err)
	}
	return resp.SessionToken, nil
}

// Join requests a party index for the session named in req.
func Join(url string, req api.JoinRequest) (*interfaces.PartyAssignment, error) {
	var resp api.JoinResponse
	if err := post(url+"/signupkeygen", req, &resp); err != nil {
		return nil, fmt.Errorf("could not join session: %w", err)
	}
	return &interfaces.PartyAssignment{
		Index:        resp.Index,
		RoundID:      resp.RoundID,
		SessionToken: resp.SessionToken,
	}, nil
}

func post(url string, body any, out any) error {
	var payload io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("could not encode request: %w", err)
		}
		payload = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(http.MethodPost, url, payload)
	if err != nil {
		return fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}

	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, Message: string(bytes.TrimSpace(respBody))}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("could not parse response: %w", err)
	}
	return nil
}

// StatusError is returned by the client functions for non-200 responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Message)
}
