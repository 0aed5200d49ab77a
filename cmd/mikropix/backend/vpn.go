package backend

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// OnlineWindow is how recent a handshake must be for a peer to count as online.
const OnlineWindow = 3 * time.Minute

type Peer struct {
	PublicKey       string    `json:"publicKey"`
	Name            string    `json:"name,omitempty"`
	AllowedIPs      []string  `json:"allowedIps"`
	Endpoint        string    `json:"endpoint,omitempty"`
	LatestHandshake time.Time `json:"latestHandshake"`
	TransferRx      int64     `json:"transferRx"`
	TransferTx      int64     `json:"transferTx"`
}

func (p Peer) Online(now time.Time) bool {
	if p.LatestHandshake.IsZero() {
		return false
	}
	return now.Sub(p.LatestHandshake) < OnlineWindow
}

type PeerRequest struct {
	Name       string   `json:"name" validate:"required,max=64"`
	PublicKey  string   `json:"publicKey" validate:"omitempty,base64,len=44"`
	AllowedIPs []string `json:"allowedIps" validate:"omitempty,dive,cidr"`
}

// CreatedPeer carries the client configuration generated by the server.
type CreatedPeer struct {
	Peer
	Config string `json:"config"`
}

type Interface struct {
	Name       string `json:"name"`
	PublicKey  string `json:"publicKey"`
	ListenPort int    `json:"listenPort"`
	Address    string `json:"address"`
}

type Stats struct {
	Peers      int   `json:"peers"`
	Online     int   `json:"online"`
	TransferRx int64 `json:"transferRx"`
	TransferTx int64 `json:"transferTx"`
}

func (c *Client) ListPeers(ctx context.Context) ([]Peer, error) {
	var peers []Peer
	if err := c.doRequest(ctx, http.MethodGet, "/vpn/peers", nil, &peers); err != nil {
		return nil, err
	}
	return peers, nil
}

func (c *Client) CreatePeer(ctx context.Context, req PeerRequest) (*CreatedPeer, error) {
	var p CreatedPeer
	if err := c.doRequest(ctx, http.MethodPost, "/vpn/peers", req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) DeletePeer(ctx context.Context, publicKey string) error {
	return c.doRequest(ctx, http.MethodDelete, "/vpn/peers/"+url.PathEscape(publicKey), nil, nil)
}

func (c *Client) Interface(ctx context.Context) (*Interface, error) {
	var i Interface
	if err := c.doRequest(ctx, http.MethodGet, "/vpn/interface", nil, &i); err != nil {
		return nil, err
	}
	return &i, nil
}

func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	if err := c.doRequest(ctx, http.MethodGet, "/vpn/stats", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
