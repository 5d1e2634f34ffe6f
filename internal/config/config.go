// Package config loads the CLI configuration from flags, environment
// variables (SIMPLERTC_*) and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/1ureka/simplertc/internal/negotiator"
)

// Configuration keys. Nested keys map to SIMPLERTC_<SECTION>_<KEY>.
const (
	KeyRole               = "role"
	KeyID                 = "id"
	KeyName               = "name"
	KeyPeer               = "peer"
	KeyURL                = "url"
	KeyPIN                = "pin"
	KeyListen             = "listen"
	KeyVideo              = "video"
	KeyAudio              = "audio"
	KeyCaptureVideo       = "capture.video"
	KeyCaptureAudio       = "capture.audio"
	KeyRecordVideo        = "record.video"
	KeyRecordAudio        = "record.audio"
	KeyICEServers         = "ice.servers"
	KeyICEURL             = "ice.url"
	KeyNegotiationTimeout = "negotiation_timeout"
	KeyStatsInterval      = "stats_interval"
	KeyDebug              = "debug"
)

// Config stores every parameter of a relay or call run.
type Config struct {
	Role negotiator.Role
	ID   string // local signaling session id
	Name string // display name
	Peer string // remote session id (required for the caller)
	URL  string // relay WebSocket URL
	PIN  string

	Listen string // relay listen address

	Video        bool
	Audio        bool
	CaptureVideo string // IVF file streamed as the local video
	CaptureAudio string // Ogg/Opus file streamed as the local audio
	RecordVideo  string // IVF file receiving the remote video
	RecordAudio  string // Ogg file receiving the remote audio

	ICEServers []string // STUN/TURN URLs
	ICEURL     string   // endpoint serving {"iceServers": [...]}

	NegotiationTimeout time.Duration
	StatsInterval      time.Duration
	Debug              bool
}

// NewViper returns a viper instance with defaults, SIMPLERTC_* environment
// lookup and, if cfgFile is set, that file read in.
func NewViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault(KeyListen, ":8443")
	v.SetDefault(KeyVideo, true)
	v.SetDefault(KeyAudio, true)
	v.SetDefault(KeyNegotiationTimeout, 30*time.Second)
	v.SetDefault(KeyStatsInterval, 5*time.Second)

	v.SetEnvPrefix("SIMPLERTC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v, nil
}

// Load builds a Config from v. The role is parsed only when set, so relay
// runs need none. A missing session id gets a random UUID.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		ID:                 v.GetString(KeyID),
		Name:               v.GetString(KeyName),
		Peer:               v.GetString(KeyPeer),
		URL:                v.GetString(KeyURL),
		PIN:                v.GetString(KeyPIN),
		Listen:             v.GetString(KeyListen),
		Video:              v.GetBool(KeyVideo),
		Audio:              v.GetBool(KeyAudio),
		CaptureVideo:       v.GetString(KeyCaptureVideo),
		CaptureAudio:       v.GetString(KeyCaptureAudio),
		RecordVideo:        v.GetString(KeyRecordVideo),
		RecordAudio:        v.GetString(KeyRecordAudio),
		ICEServers:         v.GetStringSlice(KeyICEServers),
		ICEURL:             v.GetString(KeyICEURL),
		NegotiationTimeout: v.GetDuration(KeyNegotiationTimeout),
		StatsInterval:      v.GetDuration(KeyStatsInterval),
		Debug:              v.GetBool(KeyDebug),
	}

	if role := v.GetString(KeyRole); role != "" {
		r, err := negotiator.ParseRole(role)
		if err != nil {
			return nil, err
		}
		cfg.Role = r
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	if cfg.NegotiationTimeout < 0 {
		return nil, fmt.Errorf("invalid %s: %s", KeyNegotiationTimeout, cfg.NegotiationTimeout)
	}
	return cfg, nil
}

// ValidateCall checks the fields a call needs.
func (c *Config) ValidateCall() error {
	if c.URL == "" {
		return errors.New("missing relay url")
	}
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("invalid relay url %q: must be ws:// or wss://", c.URL)
	}
	if c.Role == negotiator.RoleCaller && c.Peer == "" {
		return errors.New("caller requires a peer session id")
	}
	if c.Peer != "" && c.Peer == c.ID {
		return errors.New("peer session id equals the local one")
	}
	if !c.Video && !c.Audio {
		return errors.New("at least one of video or audio must be enabled")
	}
	return nil
}
