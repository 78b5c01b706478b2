package room

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartermoon/sea-battle/internal/config"
	"github.com/quartermoon/sea-battle/internal/game/battle"
	"github.com/quartermoon/sea-battle/internal/protocol"
	"github.com/quartermoon/sea-battle/internal/registry"
	"github.com/quartermoon/sea-battle/internal/storage"
	"github.com/quartermoon/sea-battle/internal/testutil"
)

func testGameConfig() *config.GameConfig {
	return &config.GameConfig{
		LobbyCountdown:  60,
		DeployCountdown: 120,
		TurnTimeout:     30,
		TurnTimeoutMin:  10,
		MaxTurnTimeouts: 3,
		GraceLobby:      1,
		GraceBattle:     1,
	}
}

func newTestManager(t *testing.T) (*Manager, *testutil.RecordingPublisher, registry.Registry) {
	t.Helper()
	pub := testutil.NewRecordingPublisher()
	reg := registry.NewMemoryRegistry()
	m := NewManager(testGameConfig(), reg, nil, nil, pub)
	return m, pub, reg
}

func occupant(n string) Occupant {
	return Occupant{UserID: "user-" + n, Username: "玩家" + n, ConnectionID: "conn-" + n}
}

// standardPlacements lays the whole fleet on even rows, horizontal from column 0.
func standardPlacements() []battle.Placement {
	return []battle.Placement{
		{Name: "Carrier", Row: 0, Col: 0, Horizontal: true},
		{Name: "Battleship", Row: 2, Col: 0, Horizontal: true},
		{Name: "Cruiser", Row: 4, Col: 0, Horizontal: true},
		{Name: "Submarine", Row: 6, Col: 0, Horizontal: true},
		{Name: "Destroyer", Row: 8, Col: 0, Horizontal: true},
	}
}

// fleetCells returns every cell occupied by standardPlacements.
func fleetCells() [][2]int {
	var cells [][2]int
	for _, p := range standardPlacements() {
		size := 0
		for _, s := range battle.Catalog {
			if s.Name == p.Name {
				size = s.Size
			}
		}
		for i := 0; i < size; i++ {
			cells = append(cells, [2]int{p.Row, p.Col + i})
		}
	}
	return cells
}

// startBattle drives two players through create/join/ready/deploy into Playing.
func startBattle(t *testing.T, m *Manager) (a, b Occupant, roomID string) {
	t.Helper()
	ctx := context.Background()
	a, b = occupant("a"), occupant("b")

	info, err := m.CreatePrivate(ctx, a)
	require.NoError(t, err)
	_, err = m.JoinByCode(ctx, info.Code, b)
	require.NoError(t, err)

	require.NoError(t, m.SetReady(ctx, a.UserID, true))
	require.NoError(t, m.SetReady(ctx, b.UserID, true))
	require.NoError(t, m.SubmitPlacement(ctx, a.UserID, standardPlacements()))
	require.NoError(t, m.SubmitPlacement(ctx, b.UserID, standardPlacements()))

	roomID = m.RoomOf(a.UserID)
	require.NotEmpty(t, roomID)

	m.mu.Lock()
	defer m.mu.Unlock()
	require.Equal(t, PhasePlaying, m.rooms[roomID].Phase)
	return a, b, roomID
}

func currentTurn(m *Manager, roomID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[roomID].CurrentTurn
}

func roomPhase(m *Manager, roomID string) Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return PhaseFinished
	}
	return r.Phase
}

func TestCreatePrivateRoom(t *testing.T) {
	t.Parallel()
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	info, err := m.CreatePrivate(ctx, occupant("a"))
	require.NoError(t, err)

	assert.Len(t, info.Code, codeLength)
	for _, c := range info.Code {
		assert.Contains(t, codeAlphabet, string(c))
	}
	assert.Equal(t, "waiting", info.Phase)
	assert.Equal(t, "private", info.Visibility)
	require.Len(t, info.Players, 1)
	assert.Equal(t, 1, info.Players[0].Slot)

	// Creating a second room while seated is rejected
	_, err = m.CreatePrivate(ctx, occupant("a"))
	assert.ErrorIs(t, err, ErrAlreadyInRoom)
}

func TestJoinByCode(t *testing.T) {
	t.Parallel()
	m, pub, _ := newTestManager(t)
	ctx := context.Background()

	a, b := occupant("a"), occupant("b")
	info, err := m.CreatePrivate(ctx, a)
	require.NoError(t, err)

	t.Run("unknown code", func(t *testing.T) {
		_, err := m.JoinByCode(ctx, "ZZZZZZ", b)
		assert.ErrorIs(t, err, ErrRoomNotFound)
	})

	t.Run("malformed code", func(t *testing.T) {
		_, err := m.JoinByCode(ctx, "abc", b)
		assert.ErrorIs(t, err, ErrInvalidCode)
	})

	t.Run("join moves room to lobby", func(t *testing.T) {
		joined, err := m.JoinByCode(ctx, strings.ToLower(info.Code), b)
		require.NoError(t, err)
		assert.Equal(t, "character_select", joined.Phase)
		assert.Len(t, joined.Players, 2)

		// Creator is notified of the new occupant
		assert.Greater(t, pub.CountByType(a.UserID, protocol.MsgRoomUpdated), 0)
	})

	t.Run("full room rejects a third player", func(t *testing.T) {
		_, err := m.JoinByCode(ctx, info.Code, occupant("c"))
		assert.ErrorIs(t, err, ErrRoomFull)
	})
}

func TestCodeUniqueness(t *testing.T) {
	t.Parallel()
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		info, err := m.CreatePrivate(ctx, occupant(strconv.Itoa(i)))
		require.NoError(t, err)
		assert.False(t, seen[info.Code], "duplicate code %s", info.Code)
		seen[info.Code] = true
	}
}

func TestReadyFlow(t *testing.T) {
	t.Parallel()
	m, pub, _ := newTestManager(t)
	ctx := context.Background()

	a, b := occupant("a"), occupant("b")
	info, err := m.CreatePrivate(ctx, a)
	require.NoError(t, err)
	_, err = m.JoinByCode(ctx, info.Code, b)
	require.NoError(t, err)

	require.NoError(t, m.SelectCharacter(ctx, a.UserID, "admiral"))
	require.NoError(t, m.SetReady(ctx, a.UserID, true))
	assert.Equal(t, PhaseCharacterSelect, roomPhase(m, info.RoomID))

	require.NoError(t, m.SetReady(ctx, b.UserID, true))
	assert.Equal(t, PhaseDeploying, roomPhase(m, info.RoomID))

	// Both players receive the deploy start signal exactly once
	assert.Equal(t, 1, pub.CountByType(a.UserID, protocol.MsgDeployStart))
	assert.Equal(t, 1, pub.CountByType(b.UserID, protocol.MsgDeployStart))

	// Lobby operations are rejected once deploying
	assert.ErrorIs(t, m.SetReady(ctx, a.UserID, false), ErrWrongPhase)
	assert.ErrorIs(t, m.SelectCharacter(ctx, a.UserID, "captain"), ErrWrongPhase)
}

func TestPlacementValidation(t *testing.T) {
	t.Parallel()
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	a, b := occupant("a"), occupant("b")
	info, err := m.CreatePrivate(ctx, a)
	require.NoError(t, err)
	_, err = m.JoinByCode(ctx, info.Code, b)
	require.NoError(t, err)
	require.NoError(t, m.SetReady(ctx, a.UserID, true))
	require.NoError(t, m.SetReady(ctx, b.UserID, true))

	// Missing ships are rejected and the room stays in Deploying
	err = m.SubmitPlacement(ctx, a.UserID, standardPlacements()[:3])
	var gameErr *GameError
	require.ErrorAs(t, err, &gameErr)
	assert.Equal(t, protocol.ErrCodeInvalidPlacement, gameErr.Code)
	assert.Equal(t, PhaseDeploying, roomPhase(m, info.RoomID))

	// A valid resubmission succeeds
	require.NoError(t, m.SubmitPlacement(ctx, a.UserID, standardPlacements()))
}

func TestBattleFlow(t *testing.T) {
	t.Parallel()
	m, pub, _ := newTestManager(t)
	ctx := context.Background()

	a, b, roomID := startBattle(t, m)

	first := currentTurn(m, roomID)
	second := a.UserID
	if first == a.UserID {
		second = b.UserID
	}

	t.Run("only the current player may attack", func(t *testing.T) {
		err := m.Attack(ctx, second, 0, 0)
		assert.ErrorIs(t, err, ErrNotYourTurn)
	})

	t.Run("hit keeps the turn", func(t *testing.T) {
		require.NoError(t, m.Attack(ctx, first, 0, 0))
		assert.Equal(t, first, currentTurn(m, roomID))
	})

	t.Run("repeat cell is rejected", func(t *testing.T) {
		err := m.Attack(ctx, first, 0, 0)
		assert.ErrorIs(t, err, ErrCellAttacked)
	})

	t.Run("out of bounds is rejected", func(t *testing.T) {
		err := m.Attack(ctx, first, 10, 0)
		assert.ErrorIs(t, err, ErrInvalidCoord)
	})

	t.Run("miss hands the turn over", func(t *testing.T) {
		require.NoError(t, m.Attack(ctx, first, 9, 9))
		assert.Equal(t, second, currentTurn(m, roomID))

		msg := pub.LastOfType(first, protocol.MsgTurnChanged)
		require.NotNil(t, msg)
		payload, err := protocol.ParsePayload[protocol.TurnChangedPayload](msg)
		require.NoError(t, err)
		assert.Equal(t, "miss", payload.Reason)
	})
}

func TestSinkingEveryShipEndsTheGame(t *testing.T) {
	t.Parallel()
	m, pub, _ := newTestManager(t)
	ctx := context.Background()

	a, b, roomID := startBattle(t, m)

	attacker := currentTurn(m, roomID)
	defender := a.UserID
	if attacker == a.UserID {
		defender = b.UserID
	}

	// Every attack hits, so the attacker keeps the turn the whole way
	for _, cell := range fleetCells() {
		require.NoError(t, m.Attack(ctx, attacker, cell[0], cell[1]))
	}

	assert.Equal(t, PhaseFinished, roomPhase(m, roomID))
	assert.Equal(t, 1, pub.CountByType(attacker, protocol.MsgGameOver))
	assert.Equal(t, 1, pub.CountByType(defender, protocol.MsgGameOver))

	msg := pub.LastOfType(defender, protocol.MsgGameOver)
	payload, err := protocol.ParsePayload[protocol.GameOverPayload](msg)
	require.NoError(t, err)
	assert.Equal(t, attacker, payload.WinnerID)
	assert.Equal(t, defender, payload.LoserID)
	assert.Equal(t, "all_sunk", payload.Reason)

	// Attacks after the game is over are rejected
	err = m.Attack(ctx, attacker, 9, 9)
	assert.ErrorIs(t, err, ErrWrongPhase)
}

func TestTurnTimeoutEscalation(t *testing.T) {
	t.Parallel()
	m, pub, _ := newTestManager(t)

	a, b, roomID := startBattle(t, m)
	_ = b

	m.mu.Lock()
	r := m.rooms[roomID]
	timedOut := r.CurrentTurn
	gen := r.turnGen
	m.mu.Unlock()

	other := a.UserID
	if timedOut == a.UserID {
		other = occupant("b").UserID
	}

	// First timeout shortens the limit by a third and hands the turn over
	m.onTurnTimeout(roomID, gen)

	m.mu.Lock()
	p := r.player(timedOut)
	assert.Equal(t, 1, p.TimeoutCount)
	assert.Equal(t, 20*time.Second, p.TurnLimit)
	assert.Equal(t, other, r.CurrentTurn)
	m.mu.Unlock()

	msg := pub.LastOfType(timedOut, protocol.MsgTurnChanged)
	require.NotNil(t, msg)
	payload, err := protocol.ParsePayload[protocol.TurnChangedPayload](msg)
	require.NoError(t, err)
	assert.Equal(t, "timeout", payload.Reason)

	// A stale generation must be a no-op
	m.onTurnTimeout(roomID, gen)
	m.mu.Lock()
	assert.Equal(t, 1, p.TimeoutCount)
	m.mu.Unlock()
}

func TestTurnLimitFloor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 20*time.Second, nextTurnLimit(30*time.Second, 10*time.Second))
	assert.Equal(t, 20*time.Second*2/3, nextTurnLimit(20*time.Second, 10*time.Second))
	assert.Equal(t, 10*time.Second, nextTurnLimit(12*time.Second, 10*time.Second))
	assert.Equal(t, 10*time.Second, nextTurnLimit(10*time.Second, 10*time.Second))
}

func TestThirdTimeoutForfeits(t *testing.T) {
	t.Parallel()
	m, pub, _ := newTestManager(t)

	_, _, roomID := startBattle(t, m)

	m.mu.Lock()
	r := m.rooms[roomID]
	loser := r.CurrentTurn
	winner := r.opponent(loser).UserID
	// Two timeouts already on the books
	r.player(loser).TimeoutCount = 2
	gen := r.turnGen
	m.mu.Unlock()

	m.onTurnTimeout(roomID, gen)

	assert.Equal(t, PhaseFinished, roomPhase(m, roomID))
	msg := pub.LastOfType(winner, protocol.MsgGameOver)
	require.NotNil(t, msg)
	payload, err := protocol.ParsePayload[protocol.GameOverPayload](msg)
	require.NoError(t, err)
	assert.Equal(t, winner, payload.WinnerID)
	assert.Equal(t, "timeout", payload.Reason)
}

func TestLeaveBeforeGame(t *testing.T) {
	t.Parallel()
	m, pub, _ := newTestManager(t)
	ctx := context.Background()

	t.Run("private room returns to waiting", func(t *testing.T) {
		a, b := occupant("a"), occupant("b")
		info, err := m.CreatePrivate(ctx, a)
		require.NoError(t, err)
		_, err = m.JoinByCode(ctx, info.Code, b)
		require.NoError(t, err)
		require.NoError(t, m.SetReady(ctx, b.UserID, true))

		require.NoError(t, m.Leave(ctx, a.UserID))

		m.mu.Lock()
		r := m.rooms[info.RoomID]
		require.NotNil(t, r)
		assert.Equal(t, PhaseWaiting, r.Phase)
		require.NotNil(t, r.Slot1)
		assert.Equal(t, b.UserID, r.Slot1.UserID)
		assert.Equal(t, 1, r.Slot1.Slot)
		assert.False(t, r.Slot1.Ready, "ready state is reset for the next opponent")
		assert.Nil(t, r.Slot2)
		m.mu.Unlock()

		assert.Greater(t, pub.CountByType(b.UserID, protocol.MsgRoomUpdated), 0)

		// The room can be joined again under the same code
		_, err = m.JoinByCode(ctx, info.Code, occupant("c"))
		require.NoError(t, err)
	})

	t.Run("last player leaving destroys the room", func(t *testing.T) {
		d := occupant("d")
		info, err := m.CreatePrivate(ctx, d)
		require.NoError(t, err)
		require.NoError(t, m.Leave(ctx, d.UserID))

		m.mu.Lock()
		_, ok := m.rooms[info.RoomID]
		m.mu.Unlock()
		assert.False(t, ok)
		assert.Empty(t, m.RoomOf(d.UserID))
	})

	t.Run("not in any room", func(t *testing.T) {
		assert.ErrorIs(t, m.Leave(ctx, "user-nobody"), ErrNotInRoom)
	})
}

func TestLeaveMidGameForfeits(t *testing.T) {
	t.Parallel()
	m, pub, reg := newTestManager(t)
	ctx := context.Background()

	a, b, roomID := startBattle(t, m)

	require.NoError(t, m.Leave(ctx, a.UserID))

	assert.Equal(t, PhaseFinished, roomPhase(m, roomID))
	msg := pub.LastOfType(b.UserID, protocol.MsgGameOver)
	require.NotNil(t, msg)
	payload, err := protocol.ParsePayload[protocol.GameOverPayload](msg)
	require.NoError(t, err)
	assert.Equal(t, b.UserID, payload.WinnerID)
	assert.Equal(t, a.UserID, payload.LoserID)
	assert.Equal(t, "leave", payload.Reason)

	// The leave intent marker is set so the socket close won't start a grace period
	intent, err := reg.HasLeaveIntent(ctx, a.UserID)
	require.NoError(t, err)
	assert.True(t, intent)
}

func TestPublicRoomDisbandsWhenPlayerLeaves(t *testing.T) {
	t.Parallel()
	m, pub, _ := newTestManager(t)
	ctx := context.Background()

	a, b := occupant("a"), occupant("b")
	r, err := m.CreatePublicPair(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, PhaseCharacterSelect, r.Phase)
	assert.Equal(t, 1, pub.CountByType(a.UserID, protocol.MsgMatchFound))
	assert.Equal(t, 1, pub.CountByType(b.UserID, protocol.MsgMatchFound))

	require.NoError(t, m.Leave(ctx, a.UserID))

	m.mu.Lock()
	_, ok := m.rooms[r.ID]
	m.mu.Unlock()
	assert.False(t, ok)

	msg := pub.LastOfType(b.UserID, protocol.MsgRoomClosed)
	require.NotNil(t, msg)
	payload, err := protocol.ParsePayload[protocol.RoomClosedPayload](msg)
	require.NoError(t, err)
	assert.Equal(t, "player_left", payload.Reason)
}

func TestRequestInfoReattach(t *testing.T) {
	t.Parallel()
	m, pub, reg := newTestManager(t)
	ctx := context.Background()

	a, b, roomID := startBattle(t, m)

	// Simulate the socket drop being arbitrated
	m.HandleDisconnect(a.UserID, a.ConnectionID)

	m.mu.Lock()
	assert.True(t, m.rooms[roomID].player(a.UserID).Disconnected)
	m.mu.Unlock()
	assert.Equal(t, 1, pub.CountByType(b.UserID, protocol.MsgPlayerOffline))

	// Reattach over a fresh connection
	reborn := Occupant{UserID: a.UserID, Username: a.Username, ConnectionID: "conn-a2"}
	require.NoError(t, reg.Register(ctx, registry.Session{
		UserID: a.UserID, Username: a.Username, ConnectionID: "conn-a2", Connected: true,
	}))
	info, err := m.RequestInfo(ctx, roomID, reborn)
	require.NoError(t, err)
	assert.Equal(t, "playing", info.Phase)
	require.NotNil(t, info.Game)
	assert.Len(t, info.Game.YourShips, len(battle.Catalog))

	m.mu.Lock()
	p := m.rooms[roomID].player(a.UserID)
	assert.False(t, p.Disconnected)
	assert.Equal(t, "conn-a2", p.ConnectionID)
	m.mu.Unlock()
	assert.Equal(t, 1, pub.CountByType(b.UserID, protocol.MsgPlayerOnline))

	// Repeating the call is harmless and sends no duplicate notification
	_, err = m.RequestInfo(ctx, roomID, reborn)
	require.NoError(t, err)
	assert.Equal(t, 1, pub.CountByType(b.UserID, protocol.MsgPlayerOnline))

	// The game must not have been forfeited even after the grace period passes
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, PhasePlaying, roomPhase(m, roomID))
	assert.Zero(t, pub.CountByType(b.UserID, protocol.MsgGameOver))
}

func TestGraceExpiryForfeitsMidGame(t *testing.T) {
	t.Parallel()
	m, pub, _ := newTestManager(t)

	a, b, roomID := startBattle(t, m)

	m.HandleDisconnect(a.UserID, a.ConnectionID)

	// Grace is 1s plus the settle delay
	time.Sleep(1800 * time.Millisecond)

	assert.Equal(t, PhaseFinished, roomPhase(m, roomID))
	assert.Equal(t, 1, pub.CountByType(b.UserID, protocol.MsgGameOver))
	msg := pub.LastOfType(b.UserID, protocol.MsgGameOver)
	payload, err := protocol.ParsePayload[protocol.GameOverPayload](msg)
	require.NoError(t, err)
	assert.Equal(t, b.UserID, payload.WinnerID)
	assert.Equal(t, "forfeit", payload.Reason)
}

func TestStaleConnectionCloseIsIgnored(t *testing.T) {
	t.Parallel()
	m, pub, reg := newTestManager(t)
	ctx := context.Background()

	a, b, roomID := startBattle(t, m)

	// A newer connection registered before the old socket's close event arrived
	require.NoError(t, reg.Register(ctx, registry.Session{
		UserID: a.UserID, Username: a.Username, ConnectionID: "conn-a2", Connected: true,
	}))

	m.HandleDisconnect(a.UserID, a.ConnectionID)

	m.mu.Lock()
	assert.False(t, m.rooms[roomID].player(a.UserID).Disconnected)
	m.mu.Unlock()
	assert.Zero(t, pub.CountByType(b.UserID, protocol.MsgPlayerOffline))
}

func TestDisconnectBeforeGameResetsPrivateRoom(t *testing.T) {
	t.Parallel()
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	a, b := occupant("a"), occupant("b")
	info, err := m.CreatePrivate(ctx, a)
	require.NoError(t, err)
	_, err = m.JoinByCode(ctx, info.Code, b)
	require.NoError(t, err)

	m.HandleDisconnect(a.UserID, a.ConnectionID)
	time.Sleep(1800 * time.Millisecond)

	m.mu.Lock()
	r := m.rooms[info.RoomID]
	require.NotNil(t, r)
	assert.Equal(t, PhaseWaiting, r.Phase)
	require.NotNil(t, r.Slot1)
	assert.Equal(t, b.UserID, r.Slot1.UserID)
	m.mu.Unlock()
}

// waitPersistIdle blocks until the room's persistence queue has drained.
func waitPersistIdle(t *testing.T, m *Manager, roomID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.persistMu.Lock()
		busy := m.persistBusy[roomID]
		m.persistMu.Unlock()
		if !busy {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("persistence queue for room %s did not drain", roomID)
}

func newSnapshotManager(t *testing.T) (*Manager, *storage.SnapshotStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := storage.NewSnapshotStore(client)
	pub := testutil.NewRecordingPublisher()
	m := NewManager(testGameConfig(), registry.NewMemoryRegistry(), store, nil, pub)
	return m, store
}

func TestSnapshotWritesLandInMutationOrder(t *testing.T) {
	t.Parallel()
	m, store := newSnapshotManager(t)
	ctx := context.Background()

	// Create through deploy into battle produces a burst of writes;
	// the stored snapshot must reflect the latest state, not an earlier one.
	_, _, roomID := startBattle(t, m)
	waitPersistIdle(t, m, roomID)

	snap, err := store.LoadByID(ctx, roomID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "playing", snap.Phase)
	require.NotNil(t, snap.Game)
	assert.Equal(t, currentTurn(m, roomID), snap.Game.CurrentTurn)

	require.NoError(t, m.Attack(ctx, currentTurn(m, roomID), 0, 0))
	waitPersistIdle(t, m, roomID)

	snap, err = store.LoadByID(ctx, roomID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	attacks := 0
	for _, board := range snap.Game.Boards {
		attacks += len(board.Attacks)
	}
	assert.Equal(t, 1, attacks)
}

func TestDisbandedRoomSnapshotIsDeleted(t *testing.T) {
	t.Parallel()
	m, store := newSnapshotManager(t)
	ctx := context.Background()

	a := occupant("a")
	info, err := m.CreatePrivate(ctx, a)
	require.NoError(t, err)

	// The delete queues behind the create's save, so the snapshot
	// cannot be resurrected by a write that was still in flight
	require.NoError(t, m.Leave(ctx, a.UserID))
	waitPersistIdle(t, m, info.RoomID)

	snap, err := store.LoadByID(ctx, info.RoomID)
	require.NoError(t, err)
	assert.Nil(t, snap)
	snap, err = store.LoadByCode(ctx, info.Code)
	require.NoError(t, err)
	assert.Nil(t, snap)

	_, err = m.JoinByCode(ctx, info.Code, occupant("b"))
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestCorruptSnapshotIsNotAdopted(t *testing.T) {
	t.Parallel()
	m, store := newSnapshotManager(t)
	ctx := context.Background()

	// A deployed player whose fleet overlaps itself on one row
	ships := []storage.ShipSnapshot{
		{Name: "Carrier", Size: 5, Cells: [][2]int{{0, 0}, {0, 1}, {0, 2}, {0, 3}, {0, 4}}},
		{Name: "Battleship", Size: 4, Cells: [][2]int{{0, 0}, {0, 1}, {0, 2}, {0, 3}}},
		{Name: "Cruiser", Size: 3, Cells: [][2]int{{2, 0}, {2, 1}, {2, 2}}},
		{Name: "Submarine", Size: 3, Cells: [][2]int{{4, 0}, {4, 1}, {4, 2}}},
		{Name: "Destroyer", Size: 2, Cells: [][2]int{{6, 0}, {6, 1}}},
	}
	snap := &storage.RoomSnapshot{
		RoomID:     "room-corrupt",
		Code:       "QQQQQQ",
		Visibility: "private",
		Phase:      "playing",
		CreatedAt:  time.Now().UnixMilli(),
		Players: []storage.PlayerSnapshot{
			{UserID: "user-x", Username: "X", Slot: 1, Ready: true, Deployed: true},
			{UserID: "user-y", Username: "Y", Slot: 2, Ready: true, Deployed: true},
		},
		Game: &storage.GameSnapshot{
			Boards: map[string]storage.BoardSnapshot{
				"user-x": {Ships: ships},
				"user-y": {Ships: ships},
			},
			CurrentTurn:   "user-x",
			TurnDeadline:  time.Now().Add(30 * time.Second).UnixMilli(),
			TurnLimits:    map[string]int{"user-x": 30, "user-y": 30},
			TimeoutCounts: map[string]int{},
		},
	}
	require.NoError(t, store.Save(ctx, snap))

	_, err := m.RequestInfo(ctx, "room-corrupt", Occupant{UserID: "user-x", Username: "X", ConnectionID: "conn-x"})
	assert.ErrorIs(t, err, ErrRoomNotFound)

	// A battle snapshot with no player holding the turn is equally rejected,
	// even when both fleets are intact
	validShips := []storage.ShipSnapshot{
		{Name: "Carrier", Size: 5, Cells: [][2]int{{0, 0}, {0, 1}, {0, 2}, {0, 3}, {0, 4}}},
		{Name: "Battleship", Size: 4, Cells: [][2]int{{2, 0}, {2, 1}, {2, 2}, {2, 3}}},
		{Name: "Cruiser", Size: 3, Cells: [][2]int{{4, 0}, {4, 1}, {4, 2}}},
		{Name: "Submarine", Size: 3, Cells: [][2]int{{6, 0}, {6, 1}, {6, 2}}},
		{Name: "Destroyer", Size: 2, Cells: [][2]int{{8, 0}, {8, 1}}},
	}
	snap.RoomID = "room-no-turn"
	snap.Code = "RRRRRR"
	snap.Game.CurrentTurn = ""
	snap.Game.Boards = map[string]storage.BoardSnapshot{
		"user-x": {Ships: validShips},
		"user-y": {Ships: validShips},
	}
	require.NoError(t, store.Save(ctx, snap))
	_, err = m.JoinByCode(ctx, "RRRRRR", occupant("z"))
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRehydrateFromSnapshot(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := storage.NewSnapshotStore(client)
	reg := registry.NewMemoryRegistry()
	ctx := context.Background()

	pubA := testutil.NewRecordingPublisher()
	mgrA := NewManager(testGameConfig(), reg, store, nil, pubA)

	a, b, roomID := startBattle(t, mgrA)
	require.NoError(t, mgrA.Attack(ctx, currentTurn(mgrA, roomID), 0, 0))

	// Let the queued snapshot writes land
	waitPersistIdle(t, mgrA, roomID)

	// A second process instance picks the room up from the store
	pubB := testutil.NewRecordingPublisher()
	mgrB := NewManager(testGameConfig(), reg, store, nil, pubB)

	info, err := mgrB.RequestInfo(ctx, roomID, a)
	require.NoError(t, err)
	assert.Equal(t, "playing", info.Phase)
	require.NotNil(t, info.Game)
	assert.Len(t, info.Game.YourShips, len(battle.Catalog))
	assert.Equal(t, currentTurn(mgrA, roomID), info.Game.CurrentTurn)

	// Both players are indexed on the new instance
	assert.Equal(t, roomID, mgrB.RoomOf(a.UserID))
	assert.Equal(t, roomID, mgrB.RoomOf(b.UserID))
}
