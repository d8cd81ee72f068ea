package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/tutu-network/peerlink/internal/daemon"
)

// errDaemonDown is returned when nothing listens on the API address.
var errDaemonDown = errors.New("peerlink daemon is not running (start it with 'peerlink serve')")

// apiClient talks to a running daemon.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient() (*apiClient, error) {
	addr := apiAddr
	if addr == "" {
		cfg, err := daemon.LoadConfig()
		if err != nil {
			return nil, err
		}
		addr = cfg.APIAddr()
	}
	return &apiClient{
		base: "http://" + strings.TrimPrefix(addr, "http://"),
		http: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *apiClient) get(path string, v any) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return wrapDial(err)
	}
	return decodeResponse(resp, v)
}

func (c *apiClient) post(path string, body io.Reader, v any) error {
	resp, err := c.http.Post(c.base+path, "application/octet-stream", body)
	if err != nil {
		return wrapDial(err)
	}
	return decodeResponse(resp, v)
}

func decodeResponse(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error.Message != "" {
			return errors.New(apiErr.Error.Message)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func wrapDial(err error) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return errDaemonDown
	}
	return err
}
