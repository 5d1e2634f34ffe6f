package config

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/simplertc/internal/util"
)

// iceWire is the body served by an ICE config endpoint.
type iceWire struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

// FetchICEServers retrieves STUN/TURN servers (with TURN credentials) from
// endpoint.
func FetchICEServers(ctx context.Context, client *resty.Client, endpoint string) ([]webrtc.ICEServer, error) {
	var wire iceWire
	res, err := client.R().
		SetContext(ctx).
		SetResult(&wire).
		Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("ice config request failed: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("ice config bad status: %s", res.Status())
	}
	if len(wire.ICEServers) == 0 {
		return nil, fmt.Errorf("ice config from %s lists no servers", endpoint)
	}
	return wire.ICEServers, nil
}

// ResolveICEServers returns the servers a call should use: the fetched ones
// when ICEURL is set and reachable, else the configured URLs. An empty result
// means the media engine's STUN defaults.
func (c *Config) ResolveICEServers(ctx context.Context) []webrtc.ICEServer {
	if c.ICEURL != "" {
		client := resty.New().SetTimeout(5 * time.Second)
		servers, err := FetchICEServers(ctx, client, c.ICEURL)
		if err == nil {
			util.LogDebug("using %d ICE servers from %s", len(servers), c.ICEURL)
			return servers
		}
		util.LogWarning("falling back to configured ICE servers: %v", err)
	}
	if len(c.ICEServers) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: c.ICEServers}}
}
