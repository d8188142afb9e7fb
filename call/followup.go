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
	"net/url"
	"strconv"
	"strings"

	"github.com/wirecall/wirecall/httpmsg"
	"github.com/wirecall/wirecall/metrics"
)

// followup 根据响应裁决下一步动作 返回 nil 代表响应交付给调用方
//
//   - 301 / 302 / 303 / 307 / 308: 未禁用时跟随重定向
//   - 401 / 407: 交由认证器补充凭证后重试
//   - 408: 幂等请求在同一链接上重试一次
func (cl *Call) followup(resp *httpmsg.Response, req *httpmsg.Request) (*httpmsg.Request, error) {
	switch resp.StatusCode {
	case 301, 302, 303, 307, 308:
		return cl.followupRedirect(resp, req)

	case 401, 407:
		if cl.client.auth == nil {
			return nil, nil
		}
		next, err := cl.client.auth.Authenticate(resp, req)
		if err != nil {
			return nil, err
		}
		if next != nil {
			metrics.IncFollowup("auth")
		}
		return next, nil

	case 408:
		if cl.retried408 || !req.Idempotent() || !req.Body.Replayable() {
			return nil, nil
		}
		// Retry-After 大于 0 时不做即时重试
		if v := resp.Header.Get("Retry-After"); v != "" && v != "0" {
			return nil, nil
		}
		cl.retried408 = true
		metrics.IncFollowup("408")
		return req, nil
	}

	return nil, nil
}

// followupRedirect 构造重定向的 followup 请求
//
// 303 将非 GET/HEAD 退化为 GET 且一律丢弃 body 301 / 302 仅对非 GET/HEAD 退化
// 307 / 308 保留方法与 body body 不可重放时将响应原样交付
func (cl *Call) followupRedirect(resp *httpmsg.Response, req *httpmsg.Request) (*httpmsg.Request, error) {
	if !cl.client.conf.FollowRedirects {
		return nil, nil
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return nil, nil
	}
	target, err := resolveLocation(req.URL, location)
	if err != nil {
		return nil, nil
	}

	// 跨 http / https 的跳转需要显式允许
	if target.Scheme != req.URL.Scheme && !cl.client.conf.FollowSSLRedirects {
		return nil, nil
	}

	method := req.Method
	body := req.Body
	switch resp.StatusCode {
	case 303:
		if method != "GET" && method != "HEAD" {
			method = "GET"
		}
		body = nil

	case 301, 302:
		if method != "GET" && method != "HEAD" {
			method = "GET"
			body = nil
		}

	case 307, 308:
		if body != nil && !body.Replayable() {
			return nil, nil
		}
	}

	header := req.Header.Clone()
	// 跨主机跳转时剥离携带凭证的 Header
	if !strings.EqualFold(target.Host, req.URL.Host) {
		header.Del("Authorization")
		header.Del("Cookie")
	}
	header.Del("Host")

	metrics.IncFollowup("redirect")
	return req.Derive(method, target, header, body)
}

// resolveLocation 解析 Location 相对引用基于当前 URL 展开
func resolveLocation(base *httpmsg.URLForm, location string) (*httpmsg.URLForm, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, err
	}

	scheme := base.Scheme
	host := base.Host
	port := base.Port
	if u.Scheme != "" {
		scheme = u.Scheme
		port = 0
	}
	if u.Host != "" {
		host = u.Hostname()
		port = 0
		if p := u.Port(); p != "" {
			n, err := strconv.Atoi(p)
			if err != nil {
				return nil, err
			}
			port = n
		}
	}

	target := u.EscapedPath()
	if target == "" {
		target = base.Target
	} else if !strings.HasPrefix(target, "/") {
		// 相对路径基于当前路径展开
		dir := base.Target
		if i := strings.LastIndexByte(dir, '/'); i >= 0 {
			dir = dir[:i+1]
		}
		target = dir + target
	}
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}

	return httpmsg.NewURLForm(scheme, host, port, target)
}
