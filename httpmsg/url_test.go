// Copyright 2025 The wirecall Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package httpmsg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewURLForm(t *testing.T) {
	tests := []struct {
		name      string
		scheme    string
		host      string
		port      int
		target    string
		authority string
		isTLS     bool
		invalid   bool
	}{
		{
			name:      "http default port",
			scheme:    "http",
			host:      "example.com",
			authority: "example.com",
		},
		{
			name:      "https explicit port",
			scheme:    "https",
			host:      "example.com",
			port:      8443,
			authority: "example.com:8443",
			isTLS:     true,
		},
		{
			name:      "ws maps to http",
			scheme:    "ws",
			host:      "example.com",
			authority: "example.com",
		},
		{
			name:      "wss maps to https",
			scheme:    "wss",
			host:      "example.com",
			authority: "example.com",
			isTLS:     true,
		},
		{
			name:      "idn host becomes punycode",
			scheme:    "https",
			host:      "☃.net",
			authority: "xn--n3h.net",
			isTLS:     true,
		},
		{
			name:    "unsupported scheme",
			scheme:  "ftp",
			host:    "example.com",
			invalid: true,
		},
		{
			name:    "empty host",
			scheme:  "http",
			invalid: true,
		},
		{
			name:    "port out of range",
			scheme:  "http",
			host:    "example.com",
			port:    70000,
			invalid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := NewURLForm(tt.scheme, tt.host, tt.port, tt.target)
			if tt.invalid {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.authority, u.Authority())
			assert.Equal(t, tt.isTLS, u.IsTLS())
			assert.Equal(t, "/", u.Target)
		})
	}
}

func TestURLFormSameHostPort(t *testing.T) {
	a, _ := NewURLForm("http", "example.com", 80, "/a")
	b, _ := NewURLForm("http", "Example.COM", 0, "/b")
	c, _ := NewURLForm("https", "example.com", 0, "/a")

	assert.True(t, a.SameHostPort(b))
	assert.False(t, a.SameHostPort(c))
}
