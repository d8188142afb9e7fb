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

package connpool

import (
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/wirecall/wirecall/internal/fasttime"
	"github.com/wirecall/wirecall/logger"
	"github.com/wirecall/wirecall/metrics"
	"github.com/wirecall/wirecall/route"
)

const (
	// DefaultMaxIdle 默认的空闲链接数上限
	DefaultMaxIdle = 5

	// DefaultKeepAlive 默认的空闲链接存活时长
	DefaultKeepAlive = 5 * time.Minute

	// DefaultDialCap 单地址并发建链上限 防止惊群
	DefaultDialCap = 2
)

// Pool 链接池 以 Address 为索引
//
// 内部表由单把锁保护 锁内只做 O(池大小) 的操作
// 空闲回收随池的每次变更顺带执行 不依赖独立的后台任务
type Pool struct {
	mut   sync.Mutex
	conns map[uint64][]*Connection

	maxIdle   int
	keepAlive time.Duration

	dialCap  int
	dialing  map[uint64]int
	dialCond *sync.Cond
}

// New 构造链接池
func New(maxIdle int, keepAlive time.Duration) *Pool {
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdle
	}
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}

	p := &Pool{
		conns:     make(map[uint64][]*Connection),
		maxIdle:   maxIdle,
		keepAlive: keepAlive,
		dialCap:   DefaultDialCap,
		dialing:   make(map[uint64]int),
	}
	p.dialCond = sync.NewCond(&p.mut)
	return p
}

// Get 返回一条可承接新 Exchange 的链接 没有合适的链接时返回 nil
//
// 选择偏好
//   - 未饱和的 HTTP/2 链接 多条候选时取活跃流最少的一条
//   - 最近回收的空闲 HTTP/1 链接
//
// 候选链接还需通过健康探测 空闲的 H1 链接上可读即视为对端 FIN 当场剔除
func (p *Pool) Get(addr *route.Address) *Connection {
	key := addr.Key()

	for {
		p.mut.Lock()
		// 回收先于选择 过期链接不会被复用
		p.sweepLocked(fasttime.UnixTimestamp())
		candidates := p.conns[key]

		var h2Best *Connection
		var h1Best *Connection
		for _, c := range candidates {
			if c.Multiplexed() {
				if !c.Healthy(false) || !c.H2.CanTakeNewStream() {
					continue
				}
				if h2Best == nil || c.ActiveStreams() < h2Best.ActiveStreams() {
					h2Best = c
				}
				continue
			}

			if !c.Idle() {
				continue
			}
			if h1Best == nil || c.IdleAt() > h1Best.IdleAt() {
				h1Best = c
			}
		}

		picked := h2Best
		if picked == nil {
			picked = h1Best
		}
		if picked != nil && !picked.Acquire() {
			picked = nil
		}
		p.mut.Unlock()

		if picked == nil {
			return nil
		}

		// 可读性探测涉及 I/O 必须在池锁之外进行
		if picked == h1Best && !picked.Healthy(true) {
			picked.Release()
			p.Remove(picked)
			metrics.IncPoolEvicted()
			_ = picked.Close()
			continue
		}
		return picked
	}
}

// Put 将链接放入池中
//
// HTTP/2 链接在协议确认的那一刻即入池 以便其他在途调用合并复用
// 同一地址在爬坡期允许多条 H2 链接共存 后续的 Get 会偏向活跃流较少的一条
func (p *Pool) Put(c *Connection) {
	key := c.Route.Address.Key()

	p.mut.Lock()
	p.conns[key] = append(p.conns[key], c)
	p.sweepLocked(fasttime.UnixTimestamp())
	p.mut.Unlock()
}

// Remove 从池中摘除链接 调用方负责关闭
func (p *Pool) Remove(c *Connection) {
	p.mut.Lock()
	p.removeLocked(c.Route.Address.Key(), c)
	p.mut.Unlock()
}

func (p *Pool) removeLocked(key uint64, target *Connection) {
	conns := p.conns[key]
	for i, c := range conns {
		if c == target {
			p.conns[key] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(p.conns[key]) == 0 {
		delete(p.conns, key)
	}
}

// AcquireDialSlot 获取一个建链名额 同地址并发建链超过上限时阻塞
func (p *Pool) AcquireDialSlot(addr *route.Address) {
	key := addr.Key()

	p.mut.Lock()
	for p.dialing[key] >= p.dialCap {
		p.dialCond.Wait()
	}
	p.dialing[key]++
	p.mut.Unlock()
}

// ReleaseDialSlot 归还建链名额
func (p *Pool) ReleaseDialSlot(addr *route.Address) {
	key := addr.Key()

	p.mut.Lock()
	p.dialing[key]--
	if p.dialing[key] <= 0 {
		delete(p.dialing, key)
	}
	p.mut.Unlock()
	p.dialCond.Broadcast()
}

// sweepLocked 空闲回收 随池的每次变更顺带执行
//
// 回收策略
//   - 空闲超过 keepAlive 的链接关闭 H2 链接要求活跃流为 0
//   - 空闲链接数超过 maxIdle 时剔除最久未使用的一条
func (p *Pool) sweepLocked(nowUnix int64) {
	keepAliveSec := int64(p.keepAlive / time.Second)

	var evict []*Connection
	var idle []*Connection
	for key, conns := range p.conns {
		kept := conns[:0]
		for _, c := range conns {
			if c.Idle() && nowUnix-c.IdleAt() > keepAliveSec {
				evict = append(evict, c)
				continue
			}
			if c.Idle() {
				idle = append(idle, c)
			}
			kept = append(kept, c)
		}
		if len(kept) == 0 {
			delete(p.conns, key)
		} else {
			p.conns[key] = kept
		}
	}

	// 超出 maxIdle 时按 LRU 逐出
	for len(idle) > p.maxIdle {
		oldest := 0
		for i := range idle {
			if idle[i].IdleAt() < idle[oldest].IdleAt() {
				oldest = i
			}
		}
		c := idle[oldest]
		idle = append(idle[:oldest], idle[oldest+1:]...)
		p.removeLocked(c.Route.Address.Key(), c)
		evict = append(evict, c)
	}

	metrics.SetPoolIdle(len(idle))
	if len(evict) == 0 {
		return
	}

	// 关闭动作放到独立任务执行 避免在池锁的临界区内做 I/O
	go func() {
		for _, c := range evict {
			metrics.IncPoolEvicted()
			logger.Debugf("connpool: evict idle connection to %s", c.Route.Address.HostPort())
			_ = c.Close()
		}
	}()
}

// IdleCount 返回池内空闲链接数
func (p *Pool) IdleCount() int {
	p.mut.Lock()
	defer p.mut.Unlock()

	n := 0
	for _, conns := range p.conns {
		for _, c := range conns {
			if c.Idle() {
				n++
			}
		}
	}
	return n
}

// ConnectionCount 返回池内链接总数
func (p *Pool) ConnectionCount() int {
	p.mut.Lock()
	defer p.mut.Unlock()

	n := 0
	for _, conns := range p.conns {
		n += len(conns)
	}
	return n
}

// CloseIdle 关闭并清理所有空闲链接
func (p *Pool) CloseIdle() {
	p.mut.Lock()
	var evict []*Connection
	for key, conns := range p.conns {
		kept := conns[:0]
		for _, c := range conns {
			if c.Idle() {
				evict = append(evict, c)
			} else {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			delete(p.conns, key)
		} else {
			p.conns[key] = kept
		}
	}
	p.mut.Unlock()

	for _, c := range evict {
		_ = c.Close()
	}
}

// Stats 池状态快照
type Stats struct {
	Connections int `json:"connections"`
	Idle        int `json:"idle"`
	Dialing     int `json:"dialing"`
}

// StatsJSON 返回池状态快照的 JSON 形式 仅用于日志与调试
func (p *Pool) StatsJSON() string {
	p.mut.Lock()
	dialing := 0
	for _, n := range p.dialing {
		dialing += n
	}
	p.mut.Unlock()

	s := Stats{
		Connections: p.ConnectionCount(),
		Idle:        p.IdleCount(),
		Dialing:     dialing,
	}
	b, _ := json.Marshal(s)
	return string(b)
}
