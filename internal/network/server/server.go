package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/quartermoon/sea-battle/internal/config"
	"github.com/quartermoon/sea-battle/internal/game/match"
	"github.com/quartermoon/sea-battle/internal/game/room"
	"github.com/quartermoon/sea-battle/internal/protocol"
	"github.com/quartermoon/sea-battle/internal/registry"
	"github.com/quartermoon/sea-battle/internal/storage"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 压缩对大量小消息是负优化，保持关闭
	EnableCompression: false,
}

// Server WebSocket 游戏服务器
type Server struct {
	config   *config.Config
	redis    *redis.Client // 降级模式下为 nil
	registry registry.Registry
	rooms    *room.Manager
	matcher  *match.Matcher
	auth     *Authenticator
	history  *storage.MatchHistory // 降级模式下为 nil

	clients   map[string]*Client // key: userID
	clientsMu sync.RWMutex

	// 安全组件
	connLimiter    *ConnLimiter
	originChecker  *OriginChecker
	messageLimiter *MessageLimiter

	// 连接控制
	maxConnections int
	semaphore      chan struct{}

	// 维护模式
	maintenanceMode bool
	maintenanceMu   sync.RWMutex
}

// NewServer 创建服务器实例。Redis 可达时会话与房间快照落在 Redis，
// 支持跨实例重连；不可达时降级为进程内注册表，单实例照常服务。
func NewServer(cfg *config.Config) *Server {
	s := &Server{
		config:  cfg,
		clients: make(map[string]*Client),
		auth:    NewAuthenticator(cfg.Auth.JWTSecret),
		connLimiter: NewConnLimiter(
			cfg.Security.RateLimit.MaxPerSecond,
			cfg.Security.RateLimit.MaxPerMinute,
			cfg.Security.RateLimit.BanDurationTime(),
		),
		originChecker:  NewOriginChecker(cfg.Security.AllowedOrigins),
		messageLimiter: NewMessageLimiter(cfg.Security.MessageLimit.MaxPerSecond),
		maxConnections: cfg.Server.MaxConnections,
		semaphore:      make(chan struct{}, cfg.Server.MaxConnections),
	}

	var snapshots *storage.SnapshotStore
	var history *storage.MatchHistory

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("⚠️ Redis 连接失败，降级为进程内模式: %v", err)
		_ = rdb.Close()
		s.registry = registry.NewMemoryRegistry()
	} else {
		s.redis = rdb
		s.registry = registry.NewRedisRegistry(rdb)
		snapshots = storage.NewSnapshotStore(rdb)
		history = storage.NewMatchHistory(rdb)
	}

	s.history = history
	s.rooms = room.NewManager(&cfg.Game, s.registry, snapshots, history, s)
	s.matcher = match.NewMatcher(s.rooms)

	log.Printf("🔒 安全配置: 连接限制=%d/s, 消息限制=%d/s, 最大连接数=%d",
		cfg.Security.RateLimit.MaxPerSecond, cfg.Security.MessageLimit.MaxPerSecond, cfg.Server.MaxConnections)

	return s
}

// Start 启动服务器
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	http.HandleFunc("/ws", s.handleWebSocket)
	http.HandleFunc("/health", s.handleHealth)

	go s.monitorStats()

	log.Printf("🚀 服务器启动在 ws://%s/ws (CPU核心数: %d)", addr, runtime.NumCPU())
	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second, // 防止 Slowloris 攻击
		IdleTimeout:       60 * time.Second,
	}
	return server.ListenAndServe()
}

// handleWebSocket 处理 WebSocket 握手与连接接入
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientIP := GetClientIP(r)

	if s.IsMaintenanceMode() {
		log.Printf("🔧 维护模式，拒绝新连接: %s", clientIP)
		http.Error(w, "Server is under maintenance, please try again later",
			http.StatusServiceUnavailable)
		return
	}

	select {
	case s.semaphore <- struct{}{}:
	default:
		log.Printf("🚫 达到最大连接数限制 (%d), IP: %s", s.maxConnections, clientIP)
		http.Error(w, "Server Full", http.StatusServiceUnavailable)
		return
	}

	if !s.originChecker.Check(r) {
		<-s.semaphore
		log.Printf("🚫 来源验证失败: %s (IP: %s)", r.Header.Get("Origin"), clientIP)
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	if !s.connLimiter.Allow(clientIP) {
		<-s.semaphore
		log.Printf("🚫 IP %s 请求过于频繁", clientIP)
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	identity := s.auth.Identify(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		<-s.semaphore
		log.Printf("WebSocket 升级失败: %v", err)
		return
	}

	client := &Client{
		ConnID:   uuid.New().String(),
		UserID:   identity.UserID,
		Username: identity.Username,
		Guest:    identity.Guest,
		IP:       clientIP,
		server:   s,
		conn:     conn,
		send:     make(chan []byte, 256),
	}
	s.registerClient(client)

	// 无条件登记新连接：同一用户的旧连接立即被顶替
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = s.registry.Register(ctx, registry.Session{
		UserID:       client.UserID,
		Username:     client.Username,
		ConnectionID: client.ConnID,
		Connected:    true,
		RoomID:       s.rooms.RoomOf(client.UserID),
	})
	if err != nil {
		log.Printf("登记会话失败: %v", err)
	}

	client.SendMessage(protocol.MustNewMessage(protocol.MsgConnected, protocol.ConnectedPayload{
		UserID:   client.UserID,
		Username: client.Username,
		Guest:    client.Guest,
	}))

	log.Printf("✅ 玩家 %s (%s) 已连接", client.Username, client.ConnID)

	go client.ReadPump()
	go client.WritePump()
}

// handleHealth 健康检查接口
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// PublishTo 按用户 ID 下发消息，实现房间层的 Publisher 接口
func (s *Server) PublishTo(userID string, msg *protocol.Message) {
	s.clientsMu.RLock()
	client := s.clients[userID]
	s.clientsMu.RUnlock()

	if client != nil {
		client.SendMessage(msg)
	}
}

// registerClient 登记连接。同一用户的旧连接被新连接顶替并关闭。
func (s *Server) registerClient(client *Client) {
	s.clientsMu.Lock()
	old := s.clients[client.UserID]
	s.clients[client.UserID] = client
	s.clientsMu.Unlock()

	if old != nil && old.ConnID != client.ConnID {
		log.Printf("🔄 玩家 %s 的旧连接 %s 被顶替", client.Username, old.ConnID)
		old.Close()
	}
}

// unregisterClient 注销连接。只移除仍指向本连接的索引，
// 新连接抢先登记时这里是空操作。
func (s *Server) unregisterClient(client *Client) {
	s.clientsMu.Lock()
	if cur, ok := s.clients[client.UserID]; ok && cur.ConnID == client.ConnID {
		delete(s.clients, client.UserID)
		log.Printf("❌ 玩家 %s (%s) 已断开", client.Username, client.ConnID)
	}
	s.clientsMu.Unlock()
	<-s.semaphore
}

// OnlineCount 当前在线人数
func (s *Server) OnlineCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// monitorStats 定期输出服务器状态
func (s *Server) monitorStats() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		log.Printf("📊 [监控] 在线: %d | Goroutines: %d | 活跃连接: %d/%d | 内存: %.2f MB",
			s.OnlineCount(),
			runtime.NumGoroutine(),
			len(s.semaphore),
			s.maxConnections,
			float64(m.Alloc)/1024/1024)
	}
}

// EnterMaintenanceMode 进入维护模式，停止接受新连接
func (s *Server) EnterMaintenanceMode() {
	s.maintenanceMu.Lock()
	s.maintenanceMode = true
	s.maintenanceMu.Unlock()
	log.Println("🔧 进入维护模式：停止新连接")
}

// IsMaintenanceMode 检查是否在维护模式
func (s *Server) IsMaintenanceMode() bool {
	s.maintenanceMu.RLock()
	defer s.maintenanceMu.RUnlock()
	return s.maintenanceMode
}

// GracefulShutdown 优雅关闭：先停新连接，等活跃对局结束再关闭
func (s *Server) GracefulShutdown(timeout time.Duration) {
	s.EnterMaintenanceMode()

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		active := s.rooms.ActiveGames()
		if active == 0 {
			log.Println("✅ 所有对局已结束")
			break
		}
		log.Printf("⏳ 等待 %d 场对局结束...", active)
		<-ticker.C
	}

	if active := s.rooms.ActiveGames(); active > 0 {
		log.Printf("⚠️ 超时，仍有 %d 场对局进行中，强制关闭", active)
	}

	s.Shutdown()
}

// Shutdown 关闭全部连接与 Redis
func (s *Server) Shutdown() {
	s.clientsMu.Lock()
	for _, client := range s.clients {
		client.Close()
	}
	s.clientsMu.Unlock()

	if s.redis != nil {
		_ = s.redis.Close()
	}
	log.Println("服务器已关闭")
}
