// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package random

import (
	"bytes"
	"encoding/base32"

	"github.com/pborman/uuid"
)

const (
	charset = "ybndrfg8ejkmcpqxot1uwisza345h769"
	idLen   = 26
)

var encoding = base32.NewEncoding(charset)

// NewID returns a globally unique identifier. It's a UUID version 4 encoded
// in zbase32 with the padding stripped off, 26 characters long.
func NewID() string {
	var b bytes.Buffer
	encoder := base32.NewEncoder(encoding, &b)
	if _, err := encoder.Write(uuid.NewRandom()); err != nil {
		return ""
	}
	encoder.Close()
	b.Truncate(idLen)
	return b.String()
}
