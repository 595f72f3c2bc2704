// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package api

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigIsValid(t *testing.T) {
	tcs := []struct {
		name string
		cfg  Config
		err  string
	}{
		{
			name: "empty struct",
			err:  "invalid ListenAddress value: should not be empty",
		},
		{
			name: "missing port",
			cfg:  Config{ListenAddress: "localhost"},
			err:  "invalid ListenAddress value: address localhost: missing port in address",
		},
		{
			name: "missing tls cert",
			cfg:  Config{ListenAddress: ":8045", TLS: TLSConfig{Enable: true}},
			err:  "invalid TLS config: invalid CertFile value: should not be empty",
		},
		{
			name: "missing tls key",
			cfg:  Config{ListenAddress: ":8045", TLS: TLSConfig{Enable: true, CertFile: "cert.pem"}},
			err:  "invalid TLS config: invalid CertKey value: should not be empty",
		},
		{
			name: "tls files ignored when disabled",
			cfg:  Config{ListenAddress: ":8045", TLS: TLSConfig{CertFile: "cert.pem"}},
		},
		{
			name: "valid with tls",
			cfg:  Config{ListenAddress: "127.0.0.1:8045", TLS: TLSConfig{Enable: true, CertFile: "cert.pem", CertKey: "key.pem"}},
		},
		{
			name: "valid with debug",
			cfg:  Config{ListenAddress: ":0", EnableDebug: true},
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.IsValid()
			if tc.err == "" {
				require.NoError(t, err)
				return
			}
			require.EqualError(t, err, tc.err)
		})
	}
}
