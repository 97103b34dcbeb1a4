// Package lobby talks to the session directory service: a plain CRUD
// collaborator that lets hosts advertise a joinable game under a name and
// lets everyone else list what is out there. Entries go stale unless the
// host refreshes them, so the session loop pings Refresh periodically.
package lobby

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Entry is one advertised session.
type Entry struct {
	Name    string `json:"name"`
	PeerID  string `json:"peerId"`
	Players int    `json:"players"`
}

type Client struct {
	base   string
	name   string
	peerID string
	http   *http.Client
}

func NewClient(base, name, peerID string) *Client {
	return &Client{
		base:   base,
		name:   name,
		peerID: peerID,
		http:   &http.Client{Timeout: 5 * time.Second},
	}
}

// SetPeerID rebinds the advertised identity after recreation. The next
// Refresh pushes it out.
func (c *Client) SetPeerID(id string) { c.peerID = id }

// Register advertises the session.
func (c *Client) Register(players int) error {
	return c.do(http.MethodPost, c.base+"/sessions", Entry{Name: c.name, PeerID: c.peerID, Players: players})
}

// Refresh is the liveness update keeping the entry listed.
func (c *Client) Refresh(players int) error {
	return c.do(http.MethodPut, c.entryURL(), Entry{Name: c.name, PeerID: c.peerID, Players: players})
}

// Remove withdraws the advertisement. Best-effort on teardown.
func (c *Client) Remove() error {
	return c.do(http.MethodDelete, c.entryURL(), nil)
}

func (c *Client) entryURL() string {
	return c.base + "/sessions/" + url.PathEscape(c.name)
}

func (c *Client) do(method, u string, body any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("lobby: %s %s: %s", method, u, resp.Status)
	}
	return nil
}

// List fetches every advertised session.
func List(base string) ([]Entry, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(base + "/sessions")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("lobby: list: %s", resp.Status)
	}
	var out []Entry
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
