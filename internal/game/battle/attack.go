package battle

import "errors"

// Attack 一次已落子的攻击记录
type Attack struct {
	Row int
	Col int
	Hit bool
}

// AttackResult 攻击判定结果
type AttackResult struct {
	Hit      bool
	Sunk     bool
	ShipName string // 击沉时为被击沉的船名
	GameOver bool   // 防守方全部船只被击沉
}

var (
	ErrInvalidCoord = errors.New("coordinates out of bounds")
	ErrCellAttacked = errors.New("cell already attacked")
)

// ResolveAttack 判定一次对防守方舰队的攻击。
// 拒绝重复攻击同一格；命中时递增对应船只的命中数。
// 调用方负责把返回的 Attack 追加到攻击记录中。
func ResolveAttack(ships []*Ship, row, col int, previous []Attack) (AttackResult, Attack, error) {
	if row < 0 || row >= BoardSize || col < 0 || col >= BoardSize {
		return AttackResult{}, Attack{}, ErrInvalidCoord
	}

	for _, a := range previous {
		if a.Row == row && a.Col == col {
			return AttackResult{}, Attack{}, ErrCellAttacked
		}
	}

	record := Attack{Row: row, Col: col}
	result := AttackResult{}

	for _, s := range ships {
		for _, c := range s.Cells {
			if c.Row != row || c.Col != col {
				continue
			}
			s.HitCount++
			record.Hit = true
			result.Hit = true
			if s.Sunk() {
				result.Sunk = true
				result.ShipName = s.Name
			}
			result.GameOver = AllSunk(ships)
			return result, record, nil
		}
	}

	return result, record, nil
}
