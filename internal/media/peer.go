// Package media adapts a pion PeerConnection to the negotiator's engine
// contract, and owns local capture and remote rendering.
package media

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/simplertc/internal/util"
)

// DefaultSTUN is used when no ICE servers are configured.
var DefaultSTUN = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// newAPI builds a pion API with the default codecs, the default interceptor
// chain (NACK, RTCP reports, TWCC) and pion logging routed through pterm.
func newAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	s := webrtc.SettingEngine{LoggerFactory: util.PionLoggerFactory{}}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(s),
	), nil
}

// newPeerConnection creates a PeerConnection using servers, or the default
// STUN servers when servers is empty.
func newPeerConnection(api *webrtc.API, servers []webrtc.ICEServer) (*webrtc.PeerConnection, error) {
	if len(servers) == 0 {
		servers = []webrtc.ICEServer{{URLs: DefaultSTUN}}
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return pc, nil
}
