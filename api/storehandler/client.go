package storehandler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ruteri/mpc-rendezvous/api"
	"github.com/ruteri/mpc-rendezvous/interfaces"
)

// Get fetches the value of key from the store façade at url. A missing key is
// reported as interfaces.ErrKeyNotFound.
func Get(url string, key string) (string, error) {
	status, body, err := post(url+"/get", api.Index{Key: key})
	if err != nil {
		return "", fmt.Errorf("could not get %s: %w", key, err)
	}

	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", fmt.Errorf("%w: %s", interfaces.ErrKeyNotFound, key)
	default:
		return "", fmt.Errorf("could not get %s: status %d: %s", key, status, body)
	}

	var entry api.Entry
	if err := json.Unmarshal(body, &entry); err != nil {
		return "", fmt.Errorf("could not parse get response: %w", err)
	}
	return entry.Value, nil
}

// Set stores value under key and returns the new version.
func Set(url string, key string, value string) (uint64, error) {
	status, body, err := post(url+"/set", api.Entry{Key: key, Value: value})
	if err != nil {
		return 0, fmt.Errorf("could not set %s: %w", key, err)
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("could not set %s: status %d: %s", key, status, body)
	}

	var resp api.SetResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("could not parse set response: %w", err)
	}
	return resp.Version, nil
}

func post(url string, payload any) (int, []byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return 0, nil, fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, err
	}

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("could not read response: %w", err)
	}
	return resp.StatusCode, bytes.TrimSpace(body), nil
}
