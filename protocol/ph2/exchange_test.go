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

package ph2

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wirecall/wirecall/httpmsg"
)

func TestRequestFields(t *testing.T) {
	u, err := httpmsg.NewURLForm("https", "example.com", 0, "/v1/items?page=2")
	require.NoError(t, err)

	header := httpmsg.NewHeader()
	header.Add("Accept", "application/json")
	header.Add("Connection", "keep-alive")
	header.Add("Transfer-Encoding", "chunked")
	header.Add("Host", "example.com")

	req, err := httpmsg.NewRequest("POST", u, header,
		httpmsg.NewBufferedBody("application/json", []byte(`{}`)))
	require.NoError(t, err)

	fields := requestFields(req)

	// 伪头部位于常规头部之前
	assert.Equal(t, []headerField{
		{Name: ":method", Value: "POST"},
		{Name: ":scheme", Value: "https"},
		{Name: ":path", Value: "/v1/items?page=2"},
		{Name: ":authority", Value: "example.com"},
	}, fields[:4])

	var names []string
	for _, f := range fields[4:] {
		// 常规头部名称必须为小写
		assert.Equal(t, strings.ToLower(f.Name), f.Name)
		names = append(names, f.Name)
	}

	// 逐跳 Header 与 Host 被剔除 body 元数据补齐
	assert.Equal(t, []string{"accept", "content-type", "content-length"}, names)
}

// TestRequestFieldsPunycodeAuthority IDN 域名以 Punycode 形式出现在 :authority
func TestRequestFieldsPunycodeAuthority(t *testing.T) {
	u, err := httpmsg.NewURLForm("https", "☃.net", 0, "/")
	require.NoError(t, err)
	req, err := httpmsg.NewRequest("GET", u, nil, nil)
	require.NoError(t, err)

	fields := requestFields(req)
	var authority string
	for _, f := range fields {
		if f.Name == headerAuthority {
			authority = f.Value
		}
	}
	assert.Equal(t, "xn--n3h.net", authority)
}

func TestRequestFieldsNonDefaultPort(t *testing.T) {
	u, err := httpmsg.NewURLForm("https", "example.com", 8443, "/")
	require.NoError(t, err)
	req, err := httpmsg.NewRequest("GET", u, nil, nil)
	require.NoError(t, err)

	fields := requestFields(req)
	assert.Contains(t, fields, headerField{Name: ":authority", Value: "example.com:8443"})
}
