package room

import (
	"time"

	"github.com/quartermoon/sea-battle/internal/game/battle"
	"github.com/quartermoon/sea-battle/internal/protocol"
)

// Phase 房间阶段
type Phase int

const (
	PhaseWaiting         Phase = iota // 等待第二名玩家
	PhaseCharacterSelect              // 大厅：选角色、准备
	PhaseDeploying                    // 布阵
	PhasePlaying                      // 战斗
	PhaseFinished                     // 已结束
)

// phaseNames 阶段名称映射表
var phaseNames = map[Phase]string{
	PhaseWaiting:         "waiting",
	PhaseCharacterSelect: "character_select",
	PhaseDeploying:       "deploying",
	PhasePlaying:         "playing",
	PhaseFinished:        "finished",
}

// String 返回阶段的线上名称
func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "unknown"
}

// phaseFromString 从线上名称还原阶段
func phaseFromString(name string) Phase {
	for phase, n := range phaseNames {
		if n == name {
			return phase
		}
	}
	return PhaseWaiting
}

// Visibility 房间可见性
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Player 房间中的玩家
type Player struct {
	UserID       string
	Username     string
	ConnectionID string
	Slot         int // 1 或 2
	Ready        bool
	CharacterID  string
	Deployed     bool
	Disconnected bool // 掉线宽限期中

	// 战斗状态
	Ships   []*battle.Ship
	Attacks []battle.Attack // 该玩家发出的攻击

	// 回合超时
	TurnLimit    time.Duration // 当前回合时限，超时会被惩罚性缩短
	TimeoutCount int
}

// Room 游戏房间
type Room struct {
	ID         string
	Code       string // 仅私人房间，6 位大写字母数字
	Visibility Visibility
	Phase      Phase
	Slot1      *Player
	Slot2      *Player
	CreatedAt  time.Time

	// 战斗回合
	CurrentTurn  string // 当前回合玩家的用户 ID
	TurnDeadline time.Time

	// 计时器回调都带代数守卫：使计时器失效的状态变更递增对应代数，
	// 迟到的回调对比代数后直接退出，保证不产生重复副作用。
	// phaseGen 守卫大厅/布阵/关房计时器，turnGen 守卫回合计时器；
	// 宽限期计时器不用代数，它的每一步都以注册表的最新读取为准。
	phaseGen    uint64
	turnGen     uint64
	lobbyTimer  *time.Timer
	deployTimer *time.Timer
	turnTimer   *time.Timer
	graceTimers map[string]*time.Timer // key: userID
	closeTimer  *time.Timer
}

// player 按用户 ID 查找玩家
func (r *Room) player(userID string) *Player {
	if r.Slot1 != nil && r.Slot1.UserID == userID {
		return r.Slot1
	}
	if r.Slot2 != nil && r.Slot2.UserID == userID {
		return r.Slot2
	}
	return nil
}

// opponent 返回对手
func (r *Room) opponent(userID string) *Player {
	if r.Slot1 != nil && r.Slot1.UserID == userID {
		return r.Slot2
	}
	if r.Slot2 != nil && r.Slot2.UserID == userID {
		return r.Slot1
	}
	return nil
}

// players 返回当前在座的玩家
func (r *Room) players() []*Player {
	var out []*Player
	if r.Slot1 != nil {
		out = append(out, r.Slot1)
	}
	if r.Slot2 != nil {
		out = append(out, r.Slot2)
	}
	return out
}

// occupied 在座人数
func (r *Room) occupied() int {
	return len(r.players())
}

// bumpPhaseGen 递增阶段计时器守卫代数
func (r *Room) bumpPhaseGen() uint64 {
	r.phaseGen++
	return r.phaseGen
}

// bumpTurnGen 递增回合计时器守卫代数
func (r *Room) bumpTurnGen() uint64 {
	r.turnGen++
	return r.turnGen
}

// stopTimers 停掉房间的全部计时器并使未触发的回调失效
func (r *Room) stopTimers() {
	r.bumpPhaseGen()
	r.bumpTurnGen()
	for _, t := range []*time.Timer{r.lobbyTimer, r.deployTimer, r.turnTimer, r.closeTimer} {
		if t != nil {
			t.Stop()
		}
	}
	r.lobbyTimer, r.deployTimer, r.turnTimer, r.closeTimer = nil, nil, nil, nil
	for _, t := range r.graceTimers {
		t.Stop()
	}
	r.graceTimers = nil
}

// playerInfo 构建玩家信息 DTO
func playerInfo(p *Player) protocol.PlayerInfo {
	return protocol.PlayerInfo{
		UserID:       p.UserID,
		Username:     p.Username,
		Slot:         p.Slot,
		Ready:        p.Ready,
		CharacterID:  p.CharacterID,
		Deployed:     p.Deployed,
		Disconnected: p.Disconnected,
	}
}

// Info 构建房间快照 DTO。viewerID 非空且在战斗中时，附带按其视角裁剪的对局状态。
func (r *Room) Info(viewerID string) protocol.RoomInfo {
	info := protocol.RoomInfo{
		RoomID:     r.ID,
		Code:       r.Code,
		Visibility: string(r.Visibility),
		Phase:      r.Phase.String(),
	}
	for _, p := range r.players() {
		info.Players = append(info.Players, playerInfo(p))
	}

	if r.Phase != PhasePlaying && r.Phase != PhaseFinished {
		return info
	}

	viewer := r.player(viewerID)
	if viewer == nil {
		return info
	}
	opponent := r.opponent(viewerID)

	state := &protocol.GameState{
		CurrentTurn:   r.CurrentTurn,
		TurnDeadline:  r.TurnDeadline.UnixMilli(),
		TurnLimitSecs: int(viewer.TurnLimit / time.Second),
	}
	for _, s := range viewer.Ships {
		state.YourShips = append(state.YourShips, shipState(s))
	}
	for _, a := range viewer.Attacks {
		state.YourAttacks = append(state.YourAttacks, protocol.CellState{Row: a.Row, Col: a.Col, Hit: a.Hit})
	}
	if opponent != nil {
		for _, a := range opponent.Attacks {
			state.EnemyAttacks = append(state.EnemyAttacks, protocol.CellState{Row: a.Row, Col: a.Col, Hit: a.Hit})
		}
	}
	info.Game = state
	return info
}

// shipState 构建船只 DTO
func shipState(s *battle.Ship) protocol.ShipState {
	cells := make([][2]int, len(s.Cells))
	for i, c := range s.Cells {
		cells[i] = [2]int{c.Row, c.Col}
	}
	return protocol.ShipState{
		Name:     s.Name,
		Size:     s.Size,
		Cells:    cells,
		HitCount: s.HitCount,
		Sunk:     s.Sunk(),
	}
}
