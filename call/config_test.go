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

package call

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wirecall/wirecall/protocol"
)

const configContent = `
connectTimeout: 3s
readTimeout: 15s
callTimeout: 1m
pingInterval: 30s
followRedirects: false
maxIdleConnections: 8
keepAliveDuration: 2m
protocols:
  - http/1.1
minimumDeflateSize: 2048
`

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wirecall.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configContent), 0o600))

	conf, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, conf.ConnectTimeout)
	assert.Equal(t, 15*time.Second, conf.ReadTimeout)
	assert.Equal(t, time.Minute, conf.CallTimeout)
	assert.Equal(t, 30*time.Second, conf.PingInterval)
	assert.False(t, conf.FollowRedirects)
	assert.Equal(t, 8, conf.MaxIdleConnections)
	assert.Equal(t, 2*time.Minute, conf.KeepAliveDuration)
	assert.Equal(t, []string{"http/1.1"}, conf.Protocols)
	assert.Equal(t, 2048, conf.MinimumDeflateSize)

	// 未声明的字段沿用默认值
	assert.True(t, conf.RetryOnConnectionFailure)
	assert.Equal(t, []protocol.Proto{protocol.ProtoHTTP11}, conf.Protos())
}

func TestLoadConfigInvalidProtocols(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wirecall.yaml")
	require.NoError(t, os.WriteFile(path, []byte("protocols: [http/1.0]\n"), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
