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

package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOptions(t *testing.T) {
	opts := NewOptions()
	opts.Merge("maxRetries", "3")
	opts.Merge("verbose", true)
	opts.Merge("timeout", "5s")
	opts.Merge("hosts", []string{"a", "b"})

	n, err := opts.GetInt("maxRetries")
	assert.NoError(t, err)
	assert.Equal(t, 3, n)

	b, err := opts.GetBool("verbose")
	assert.NoError(t, err)
	assert.True(t, b)

	d, err := opts.GetDuration("timeout")
	assert.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	hosts, err := opts.GetStringSlice("hosts")
	assert.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, hosts)

	_, err = opts.GetInt("missing")
	assert.Error(t, err)
}

func TestOptionsDecode(t *testing.T) {
	opts := Options{
		"name":    "probe",
		"retries": 2,
	}

	var dst struct {
		Name    string `mapstructure:"name"`
		Retries int    `mapstructure:"retries"`
	}
	assert.NoError(t, opts.Decode(&dst))
	assert.Equal(t, "probe", dst.Name)
	assert.Equal(t, 2, dst.Retries)
}
