package room

import (
	"context"
	"log"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quartermoon/sea-battle/internal/config"
	"github.com/quartermoon/sea-battle/internal/protocol"
	"github.com/quartermoon/sea-battle/internal/registry"
	"github.com/quartermoon/sea-battle/internal/storage"
)

const (
	// 房间号字符集：去掉了易混淆的 I、O、0、1
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 6

	// 生成房间号的最大重试次数
	maxCodeAttempts = 100

	// 对局结束后房间保留的时间，留给双方读取终局状态
	closeLinger = 5 * time.Second
)

// Publisher 消息下发接口，由网络层实现。
// 房间层只认用户 ID，不关心底层连接。
type Publisher interface {
	PublishTo(userID string, msg *protocol.Message)
}

// Occupant 入座玩家的身份信息
type Occupant struct {
	UserID       string
	Username     string
	ConnectionID string
}

// Manager 房间管理器。持有所有活跃房间，单把互斥锁保护全部状态；
// 计时器回调同样先取锁再操作，房间内不存在并发访问。
type Manager struct {
	mu sync.Mutex

	cfg       *config.GameConfig
	registry  registry.Registry
	snapshots *storage.SnapshotStore // 为 nil 时跳过持久化（降级模式）
	history   *storage.MatchHistory  // 为 nil 时不写战绩
	publisher Publisher

	rooms  map[string]*Room // key: 房间 ID
	byCode map[string]*Room // key: 房间号
	byUser map[string]string

	// 每个房间一条串行持久化队列，保证快照按变更顺序落盘
	persistMu   sync.Mutex
	persistQ    map[string][]func(context.Context)
	persistBusy map[string]bool
}

// NewManager 创建房间管理器
func NewManager(cfg *config.GameConfig, reg registry.Registry, snapshots *storage.SnapshotStore, history *storage.MatchHistory, publisher Publisher) *Manager {
	return &Manager{
		cfg:       cfg,
		registry:  reg,
		snapshots: snapshots,
		history:   history,
		publisher: publisher,
		rooms:     make(map[string]*Room),
		byCode:    make(map[string]*Room),
		byUser:    make(map[string]string),

		persistQ:    make(map[string][]func(context.Context)),
		persistBusy: make(map[string]bool),
	}
}

// CreatePrivate 创建私人房间，创建者入座 1 号位，房间进入等待阶段
func (m *Manager) CreatePrivate(ctx context.Context, o Occupant) (protocol.RoomInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byUser[o.UserID]; ok {
		return protocol.RoomInfo{}, ErrAlreadyInRoom
	}

	code, err := m.generateCode(ctx)
	if err != nil {
		return protocol.RoomInfo{}, err
	}

	r := &Room{
		ID:         uuid.New().String(),
		Code:       code,
		Visibility: VisibilityPrivate,
		Phase:      PhaseWaiting,
		CreatedAt:  time.Now(),
		Slot1:      newPlayer(o, 1),
	}
	m.index(r)
	m.registerOccupant(ctx, o, r.ID)
	m.saveSnapshot(r)

	log.Printf("🏠 房间 %s (%s) 已创建，玩家 %s", code, r.ID, o.Username)
	return r.Info(o.UserID), nil
}

// CreatePublicPair 为匹配成功的两名玩家创建公开房间，
// 双方直接入座并进入大厅阶段，同时向两人推送匹配成功消息。
func (m *Manager) CreatePublicPair(ctx context.Context, a, b Occupant) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byUser[a.UserID]; ok {
		return nil, ErrAlreadyInRoom
	}
	if _, ok := m.byUser[b.UserID]; ok {
		return nil, ErrAlreadyInRoom
	}

	r := &Room{
		ID:         uuid.New().String(),
		Visibility: VisibilityPublic,
		Phase:      PhaseCharacterSelect,
		CreatedAt:  time.Now(),
		Slot1:      newPlayer(a, 1),
		Slot2:      newPlayer(b, 2),
	}
	m.index(r)
	m.registerOccupant(ctx, a, r.ID)
	m.registerOccupant(ctx, b, r.ID)
	m.startLobbyCountdown(r)
	m.saveSnapshot(r)

	for _, o := range []Occupant{a, b} {
		m.publisher.PublishTo(o.UserID, protocol.MustNewMessage(protocol.MsgMatchFound,
			protocol.MatchFoundPayload{Room: r.Info(o.UserID)}))
	}

	log.Printf("🎮 匹配成功！房间 %s，玩家: %s, %s", r.ID, a.Username, b.Username)
	return r, nil
}

// JoinByCode 凭房间号加入私人房间。只有等待阶段的房间可以加入，
// 入座后双方进入大厅阶段并启动大厅倒计时。
func (m *Manager) JoinByCode(ctx context.Context, code string, o Occupant) (protocol.RoomInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != codeLength {
		return protocol.RoomInfo{}, ErrInvalidCode
	}
	if _, ok := m.byUser[o.UserID]; ok {
		return protocol.RoomInfo{}, ErrAlreadyInRoom
	}

	r, ok := m.byCode[code]
	if !ok {
		r = m.rehydrateByCode(ctx, code)
	}
	if r == nil {
		return protocol.RoomInfo{}, ErrRoomNotFound
	}
	// 满员优先于阶段：两人房不管在哪个阶段都报"已满"
	if r.occupied() >= 2 {
		return protocol.RoomInfo{}, ErrRoomFull
	}
	if r.Phase != PhaseWaiting {
		return protocol.RoomInfo{}, ErrWrongPhase
	}

	r.Slot2 = newPlayer(o, 2)
	r.Phase = PhaseCharacterSelect
	m.byUser[o.UserID] = r.ID
	m.registerOccupant(ctx, o, r.ID)
	m.startLobbyCountdown(r)
	m.saveSnapshot(r)

	m.publishRoomUpdate(r, o.UserID)
	log.Printf("👤 玩家 %s 加入房间 %s", o.Username, code)
	return r.Info(o.UserID), nil
}

// RequestInfo 查询房间状态，同时承担重连后的"重新附加"：
// 刷新注册表会话、更新座位上的连接 ID、撤销宽限期。
// 幂等，重复调用不产生额外副作用，也绝不会重复启动计时器。
func (m *Manager) RequestInfo(ctx context.Context, idOrCode string, o Occupant) (protocol.RoomInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.resolve(ctx, idOrCode)
	if r == nil {
		return protocol.RoomInfo{}, ErrRoomNotFound
	}
	p := r.player(o.UserID)
	if p == nil {
		return protocol.RoomInfo{}, ErrNotInRoom
	}

	m.registerOccupant(ctx, o, r.ID)
	m.byUser[o.UserID] = r.ID
	p.ConnectionID = o.ConnectionID

	if t, ok := r.graceTimers[o.UserID]; ok {
		t.Stop()
		delete(r.graceTimers, o.UserID)
	}
	if p.Disconnected {
		p.Disconnected = false
		m.saveSnapshot(r)
		if opp := r.opponent(o.UserID); opp != nil {
			m.publisher.PublishTo(opp.UserID, protocol.MustNewMessage(protocol.MsgPlayerOnline,
				protocol.PlayerOnlinePayload{UserID: p.UserID, Username: p.Username}))
		}
		log.Printf("📶 玩家 %s 重连到房间 %s", p.Username, r.ID)
	}

	return r.Info(o.UserID), nil
}

// Leave 主动离开房间。布阵或战斗中离开按认输处理；
// 开局前离开，私人房间回到等待阶段，公开房间直接解散。
func (m *Manager) Leave(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.roomOf(userID)
	if r == nil {
		return ErrNotInRoom
	}
	p := r.player(userID)

	switch r.Phase {
	case PhaseDeploying, PhasePlaying:
		// 先落离开意图标记，断连仲裁看到后不再走宽限期
		if err := m.registry.SetLeaveIntent(ctx, userID); err != nil {
			log.Printf("写入离开意图失败: %v", err)
		}
		opp := r.opponent(userID)
		m.finishGame(r, opp.UserID, userID, "leave")
		delete(m.byUser, userID)

	case PhaseFinished:
		delete(m.byUser, userID)

	default:
		m.removePregame(ctx, r, p)
	}

	log.Printf("👋 玩家 %s 离开房间 %s", p.Username, r.ID)
	return nil
}

// RoomOf 返回用户所在房间的 ID，不在任何房间时返回空串
func (m *Manager) RoomOf(userID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byUser[userID]
}

// ActiveGames 当前进行中的对局数（布阵与战斗阶段）
func (m *Manager) ActiveGames() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, r := range m.rooms {
		if r.Phase == PhaseDeploying || r.Phase == PhasePlaying {
			n++
		}
	}
	return n
}

// removePregame 开局前移除玩家。调用方持锁。
func (m *Manager) removePregame(ctx context.Context, r *Room, p *Player) {
	delete(m.byUser, p.UserID)

	if r.Slot1 == p {
		r.Slot1 = nil
	} else {
		r.Slot2 = nil
	}

	remaining := r.players()
	if len(remaining) == 0 {
		m.destroyRoom(r, "", false)
		return
	}

	if r.Visibility == VisibilityPublic {
		// 公开房间由匹配产生，少人后无法再补位
		m.destroyRoom(r, "player_left", true)
		return
	}

	// 私人房间回到等待阶段，留下的玩家坐回 1 号位等新对手
	host := remaining[0]
	host.Slot = 1
	host.Ready = false
	host.Deployed = false
	r.Slot1, r.Slot2 = host, nil
	r.Phase = PhaseWaiting
	r.bumpPhaseGen()
	if r.lobbyTimer != nil {
		r.lobbyTimer.Stop()
		r.lobbyTimer = nil
	}
	m.saveSnapshot(r)
	m.publishRoomUpdate(r, "")
}

// destroyRoom 解散房间：停掉全部计时器、清理索引与快照。调用方持锁。
func (m *Manager) destroyRoom(r *Room, reason string, notify bool) {
	r.stopTimers()
	delete(m.rooms, r.ID)
	if r.Code != "" {
		delete(m.byCode, r.Code)
	}
	for _, p := range r.players() {
		// 玩家可能已经进了别的房间，只清理仍指向本房间的索引
		if m.byUser[p.UserID] == r.ID {
			delete(m.byUser, p.UserID)
		}
	}

	if notify {
		msg := protocol.MustNewMessage(protocol.MsgRoomClosed,
			protocol.RoomClosedPayload{RoomID: r.ID, Reason: reason})
		for _, p := range r.players() {
			m.publisher.PublishTo(p.UserID, msg)
		}
	}

	m.deleteSnapshot(r.ID, r.Code)

	log.Printf("🏠 房间 %s 已解散", r.ID)
}

// resolve 按 ID 或房间号定位房间，本地没有时尝试从快照恢复。调用方持锁。
func (m *Manager) resolve(ctx context.Context, idOrCode string) *Room {
	if r, ok := m.rooms[idOrCode]; ok {
		return r
	}
	code := strings.ToUpper(strings.TrimSpace(idOrCode))
	if r, ok := m.byCode[code]; ok {
		return r
	}
	if r := m.rehydrateByID(ctx, idOrCode); r != nil {
		return r
	}
	if len(code) == codeLength {
		return m.rehydrateByCode(ctx, code)
	}
	return nil
}

// roomOf 返回用户所在房间。调用方持锁。
func (m *Manager) roomOf(userID string) *Room {
	id, ok := m.byUser[userID]
	if !ok {
		return nil
	}
	return m.rooms[id]
}

// index 将房间写入全部索引。调用方持锁。
func (m *Manager) index(r *Room) {
	m.rooms[r.ID] = r
	if r.Code != "" {
		m.byCode[r.Code] = r
	}
	for _, p := range r.players() {
		m.byUser[p.UserID] = r.ID
	}
}

// registerOccupant 刷新注册表会话，带上所在房间 ID。调用方持锁。
func (m *Manager) registerOccupant(ctx context.Context, o Occupant, roomID string) {
	err := m.registry.Register(ctx, registry.Session{
		UserID:       o.UserID,
		Username:     o.Username,
		ConnectionID: o.ConnectionID,
		Connected:    true,
		RoomID:       roomID,
	})
	if err != nil {
		log.Printf("刷新会话失败: %v", err)
	}
}

// generateCode 生成未被占用的房间号。调用方持锁。
func (m *Manager) generateCode(ctx context.Context) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code := randomCode()
		if _, ok := m.byCode[code]; ok {
			continue
		}
		if m.snapshots != nil {
			inUse, err := m.snapshots.CodeInUse(ctx, code)
			if err != nil {
				return "", err
			}
			if inUse {
				continue
			}
		}
		return code, nil
	}
	return "", ErrInvalidCode
}

// randomCode 生成 6 位随机房间号
func randomCode() string {
	b := make([]byte, codeLength)
	for i := range b {
		b[i] = codeAlphabet[rand.IntN(len(codeAlphabet))]
	}
	return string(b)
}

// newPlayer 构建入座玩家
func newPlayer(o Occupant, slot int) *Player {
	return &Player{
		UserID:       o.UserID,
		Username:     o.Username,
		ConnectionID: o.ConnectionID,
		Slot:         slot,
	}
}

// publishRoomUpdate 向房间内所有玩家推送各自视角的房间状态。
// exceptID 非空时跳过该玩家（通常是刚收到专属回执的人）。
func (m *Manager) publishRoomUpdate(r *Room, exceptID string) {
	for _, p := range r.players() {
		if p.UserID == exceptID {
			continue
		}
		m.publisher.PublishTo(p.UserID, protocol.MustNewMessage(protocol.MsgRoomUpdated,
			protocol.RoomUpdatedPayload{Room: r.Info(p.UserID)}))
	}
}
