// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package transport

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
)

type Config struct {
	// ICEAddressUDP specifies the UDP address the ICE mux listens on.
	ICEAddressUDP string `toml:"ice_address_udp"`
	// ICEPortUDP specifies the UDP port the ICE mux listens on. When zero,
	// every peer connection gathers candidates on ephemeral ports.
	ICEPortUDP int `toml:"ice_port_udp"`
	// ICEHostOverride optionally specifies an IP address to advertise in
	// host candidates instead of the local ones.
	ICEHostOverride string `toml:"ice_host_override"`
	// ICEServers is the list of STUN/TURN servers handed to peers.
	ICEServers ICEServers `toml:"ice_servers"`
	// TURNConfig holds the settings to generate short lived TURN credentials.
	TURNConfig TURNConfig `toml:"turn"`
	// DiscoverPublicIP resolves the advertised address through the first
	// configured STUN server when no override is set.
	DiscoverPublicIP bool `toml:"discover_public_ip"`
	// EnableVideoSource makes video capture available to calls.
	EnableVideoSource bool `toml:"enable_video_source"`
	// EnableScreenSource makes display capture available to calls.
	EnableScreenSource bool `toml:"enable_screen_source"`
	// EnableIPv6 specifies whether or not IPv6 should be used.
	EnableIPv6 bool `toml:"enable_ipv6"`
}

func (c Config) IsValid() error {
	if c.ICEAddressUDP != "" && net.ParseIP(c.ICEAddressUDP) == nil {
		return fmt.Errorf("invalid ICEAddressUDP value: not a valid address")
	}

	if c.ICEPortUDP != 0 && (c.ICEPortUDP < 80 || c.ICEPortUDP > 49151) {
		return fmt.Errorf("invalid ICEPortUDP value: %d is not in allowed range [80, 49151]", c.ICEPortUDP)
	}

	if c.ICEHostOverride != "" && net.ParseIP(c.ICEHostOverride) == nil {
		return fmt.Errorf("invalid ICEHostOverride value: not a valid address")
	}

	if err := c.ICEServers.IsValid(); err != nil {
		return fmt.Errorf("invalid ICEServers value: %w", err)
	}

	if err := c.TURNConfig.IsValid(); err != nil {
		return fmt.Errorf("invalid TURNConfig: %w", err)
	}

	if c.DiscoverPublicIP && len(c.ICEServers.stunURLs()) == 0 {
		return fmt.Errorf("invalid DiscoverPublicIP value: requires a STUN server")
	}

	return nil
}

func (c *Config) SetDefaults() {
	c.ICEPortUDP = 8443
	c.EnableVideoSource = true
	c.EnableScreenSource = true
	c.TURNConfig.CredentialsExpirationMinutes = 1440
}

type ICEServerConfig struct {
	URLs       []string `toml:"urls" json:"urls"`
	Username   string   `toml:"username,omitempty" json:"username,omitempty"`
	Credential string   `toml:"credential,omitempty" json:"credential,omitempty"`
}

type ICEServers []ICEServerConfig

func (c ICEServerConfig) IsValid() error {
	if len(c.URLs) == 0 {
		return fmt.Errorf("invalid empty URLs")
	}
	for _, u := range c.URLs {
		if u == "" {
			return fmt.Errorf("invalid empty URL")
		}
	}
	if !c.IsSTUN() && !c.IsTURN() {
		return fmt.Errorf("URL is not a valid STUN/TURN server")
	}
	return nil
}

func (c ICEServerConfig) IsTURN() bool {
	for _, u := range c.URLs {
		if !strings.HasPrefix(u, "turn:") && !strings.HasPrefix(u, "turns:") {
			return false
		}
	}
	return len(c.URLs) > 0
}

func (c ICEServerConfig) IsSTUN() bool {
	for _, u := range c.URLs {
		if !strings.HasPrefix(u, "stun:") && !strings.HasPrefix(u, "stuns:") {
			return false
		}
	}
	return len(c.URLs) > 0
}

func (s ICEServers) IsValid() error {
	for _, cfg := range s {
		if err := cfg.IsValid(); err != nil {
			return err
		}
	}
	return nil
}

// stunURLs returns the plain STUN URLs, which can serve binding requests
// over UDP.
func (s ICEServers) stunURLs() []string {
	var urls []string
	for _, cfg := range s {
		for _, u := range cfg.URLs {
			if strings.HasPrefix(u, "stun:") {
				urls = append(urls, u)
			}
		}
	}
	return urls
}

// Decode parses the environment override form, either a JSON list of URLs
// or a JSON list of server objects.
func (s *ICEServers) Decode(value string) error {
	var urls []string
	if err := json.Unmarshal([]byte(value), &urls); err == nil {
		*s = ICEServers{{URLs: urls}}
		return nil
	}

	var servers []ICEServerConfig
	if err := json.Unmarshal([]byte(value), &servers); err != nil {
		return fmt.Errorf("failed to decode ice servers: %w", err)
	}
	*s = servers

	return nil
}

// UnmarshalTOML accepts both plain URL strings and server tables.
func (s *ICEServers) UnmarshalTOML(data any) error {
	d, ok := data.([]any)
	if !ok {
		return fmt.Errorf("invalid type %T", data)
	}

	var servers ICEServers
	for _, obj := range d {
		var server ICEServerConfig

		switch t := obj.(type) {
		case string:
			server.URLs = append(server.URLs, t)
		case map[string]any:
			urls, _ := t["urls"].([]any)
			for _, u := range urls {
				uVal, _ := u.(string)
				server.URLs = append(server.URLs, uVal)
			}
			server.Username, _ = t["username"].(string)
			server.Credential, _ = t["credential"].(string)
		default:
			return fmt.Errorf("unknown type %T", t)
		}

		servers = append(servers, server)
	}

	*s = servers

	return nil
}
