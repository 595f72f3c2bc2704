// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package transport

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"time"
)

const maxTURNCredentialsExpiration = 7 * 24 * 60 // 1 week in minutes

type TURNConfig struct {
	// The secret key shared with the TURN server, used to generate short
	// lived credentials for every peer connection.
	StaticAuthSecret string `toml:"static_auth_secret"`
	// The number of minutes the generated credentials stay valid for.
	CredentialsExpirationMinutes int `toml:"credentials_expiration_minutes"`
}

func (c TURNConfig) IsValid() error {
	if c.StaticAuthSecret == "" {
		return nil
	}

	if c.CredentialsExpirationMinutes <= 0 {
		return fmt.Errorf("invalid CredentialsExpirationMinutes value: should be a positive number")
	}

	if c.CredentialsExpirationMinutes >= maxTURNCredentialsExpiration {
		return fmt.Errorf("invalid CredentialsExpirationMinutes value: should be less than 1 week")
	}

	return nil
}

func genTURNCredentials(username, secret string, expirationTS int64) (string, string, error) {
	if username == "" {
		return "", "", fmt.Errorf("username should not be empty")
	}

	if secret == "" {
		return "", "", fmt.Errorf("secret should not be empty")
	}

	if expirationTS <= 0 {
		return "", "", fmt.Errorf("expirationTS should be a positive number")
	}

	if expirationTS > time.Now().Add(maxTURNCredentialsExpiration*time.Minute).Unix() {
		return "", "", fmt.Errorf("expirationTS cannot be more than a week into the future")
	}

	h := hmac.New(sha1.New, []byte(secret))
	username = fmt.Sprintf("%d:%s", expirationTS, username)
	if _, err := h.Write([]byte(username)); err != nil {
		return "", "", fmt.Errorf("failed to write hmac: %w", err)
	}

	return username, base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// iceServersFor returns the configured servers with credentials generated
// for username on every TURN entry that has none.
func (c Config) iceServersFor(username string) (ICEServers, error) {
	servers := make(ICEServers, 0, len(c.ICEServers))
	ts := time.Now().Add(time.Duration(c.TURNConfig.CredentialsExpirationMinutes) * time.Minute).Unix()

	for _, srv := range c.ICEServers {
		if !srv.IsTURN() || srv.Username != "" || c.TURNConfig.StaticAuthSecret == "" {
			servers = append(servers, srv)
			continue
		}

		user, password, err := genTURNCredentials(username, c.TURNConfig.StaticAuthSecret, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to generate TURN credentials: %w", err)
		}
		servers = append(servers, ICEServerConfig{
			URLs:       srv.URLs,
			Username:   user,
			Credential: password,
		})
	}

	return servers, nil
}
