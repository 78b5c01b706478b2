package server

import (
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ConnLimiter 按 IP 的连接速率限制器，超限的 IP 会被临时封禁
type ConnLimiter struct {
	mu    sync.Mutex
	rates map[string]*connRate

	maxPerSecond int
	maxPerMinute int
	banDuration  time.Duration
}

type connRate struct {
	secondCount int
	minuteCount int
	lastSecond  time.Time
	lastMinute  time.Time
	bannedUntil time.Time
}

// NewConnLimiter 创建连接速率限制器
func NewConnLimiter(maxPerSecond, maxPerMinute int, banDuration time.Duration) *ConnLimiter {
	cl := &ConnLimiter{
		rates:        make(map[string]*connRate),
		maxPerSecond: maxPerSecond,
		maxPerMinute: maxPerMinute,
		banDuration:  banDuration,
	}
	go cl.cleanup()
	return cl
}

// Allow 检查该 IP 是否允许建立新连接
func (cl *ConnLimiter) Allow(ip string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	now := time.Now()
	rate, ok := cl.rates[ip]
	if !ok {
		cl.rates[ip] = &connRate{secondCount: 1, minuteCount: 1, lastSecond: now, lastMinute: now}
		return true
	}

	if now.Before(rate.bannedUntil) {
		return false
	}

	if now.Sub(rate.lastSecond) >= time.Second {
		rate.secondCount = 0
		rate.lastSecond = now
	}
	if now.Sub(rate.lastMinute) >= time.Minute {
		rate.minuteCount = 0
		rate.lastMinute = now
	}

	rate.secondCount++
	rate.minuteCount++

	if rate.secondCount > cl.maxPerSecond || rate.minuteCount > cl.maxPerMinute {
		rate.bannedUntil = now.Add(cl.banDuration)
		log.Printf("⚠️ IP %s 因请求过于频繁被暂时封禁 %v", ip, cl.banDuration)
		return false
	}
	return true
}

// cleanup 定期清理长时间不活跃的记录
func (cl *ConnLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		cl.mu.Lock()
		now := time.Now()
		for ip, rate := range cl.rates {
			if now.Sub(rate.lastMinute) > 10*time.Minute && now.After(rate.bannedUntil) {
				delete(cl.rates, ip)
			}
		}
		cl.mu.Unlock()
	}
}

// OriginChecker WebSocket 握手来源验证器
type OriginChecker struct {
	allowed  map[string]bool
	allowAll bool
}

// NewOriginChecker 创建来源验证器。列表含 "*" 时放行所有来源。
func NewOriginChecker(origins []string) *OriginChecker {
	oc := &OriginChecker{allowed: make(map[string]bool)}
	for _, origin := range origins {
		if origin == "*" {
			oc.allowAll = true
			return oc
		}
		oc.allowed[strings.ToLower(origin)] = true
	}
	return oc
}

// Check 检查请求来源。空 Origin 视为同源或本地客户端，放行。
func (oc *OriginChecker) Check(r *http.Request) bool {
	if oc.allowAll {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return oc.allowed[strings.ToLower(origin)]
}

// MessageLimiter 已连接客户端的消息速率限制器
type MessageLimiter struct {
	mu     sync.Mutex
	limits map[string]*messageRate

	maxPerSecond int
}

type messageRate struct {
	count     int
	lastReset time.Time
	warnings  int
}

// NewMessageLimiter 创建消息速率限制器
func NewMessageLimiter(maxPerSecond int) *MessageLimiter {
	return &MessageLimiter{
		limits:       make(map[string]*messageRate),
		maxPerSecond: maxPerSecond,
	}
}

// Allow 检查客户端是否允许再发一条消息
func (ml *MessageLimiter) Allow(connID string) bool {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := time.Now()
	rate, ok := ml.limits[connID]
	if !ok {
		ml.limits[connID] = &messageRate{count: 1, lastReset: now}
		return true
	}

	if now.Sub(rate.lastReset) >= time.Second {
		rate.count = 1
		rate.lastReset = now
		return true
	}

	rate.count++
	if rate.count > ml.maxPerSecond {
		rate.warnings++
		return false
	}
	return true
}

// Warnings 该连接累计的超速次数
func (ml *MessageLimiter) Warnings(connID string) int {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if rate, ok := ml.limits[connID]; ok {
		return rate.warnings
	}
	return 0
}

// Forget 连接断开后清理记录
func (ml *MessageLimiter) Forget(connID string) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	delete(ml.limits, connID)
}

// GetClientIP 获取客户端真实 IP，优先取代理头
func GetClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
