package battle

import (
	"errors"
	"fmt"
)

// BoardSize 棋盘边长（10×10）
const BoardSize = 10

// ShipSpec 船只规格
type ShipSpec struct {
	Name string
	Size int
}

// Catalog 标准舰队：五艘固定尺寸的船
var Catalog = []ShipSpec{
	{Name: "Carrier", Size: 5},
	{Name: "Battleship", Size: 4},
	{Name: "Cruiser", Size: 3},
	{Name: "Submarine", Size: 3},
	{Name: "Destroyer", Size: 2},
}

// Cell 棋盘格子坐标
type Cell struct {
	Row int
	Col int
}

// Ship 已布置的船只
type Ship struct {
	Name     string
	Size     int
	Cells    []Cell
	HitCount int
}

// Sunk 船只是否已被击沉
func (s *Ship) Sunk() bool {
	return s.HitCount >= s.Size
}

// Placement 一艘船的布阵请求
type Placement struct {
	Name       string
	Row        int
	Col        int
	Horizontal bool
}

var (
	ErrOutOfBounds   = errors.New("placement out of bounds")
	ErrOverlap       = errors.New("ships overlap")
	ErrUnknownShip   = errors.New("ship not in catalog")
	ErrIncompleteSet = errors.New("fleet must contain exactly one ship of each catalog entry")
)

// specByName 在目录中查找船只规格
func specByName(name string) (ShipSpec, bool) {
	for _, spec := range Catalog {
		if spec.Name == name {
			return spec, true
		}
	}
	return ShipSpec{}, false
}

// cellsFor 计算一次布阵覆盖的格子
func cellsFor(size, row, col int, horizontal bool) []Cell {
	cells := make([]Cell, size)
	for i := range size {
		if horizontal {
			cells[i] = Cell{Row: row, Col: col + i}
		} else {
			cells[i] = Cell{Row: row + i, Col: col}
		}
	}
	return cells
}

// CanPlace 检查一次布阵是否越界或与已有船只重叠
func CanPlace(occupied map[Cell]bool, size, row, col int, horizontal bool) bool {
	for _, c := range cellsFor(size, row, col, horizontal) {
		if c.Row < 0 || c.Row >= BoardSize || c.Col < 0 || c.Col >= BoardSize {
			return false
		}
		if occupied[c] {
			return false
		}
	}
	return true
}

// BuildFleet 校验整套布阵并生成船只列表。
// 要求目录中每艘船恰好出现一次，且互不重叠、全部在棋盘内。
func BuildFleet(placements []Placement) ([]*Ship, error) {
	if len(placements) != len(Catalog) {
		return nil, ErrIncompleteSet
	}

	occupied := make(map[Cell]bool)
	used := make(map[string]bool)
	ships := make([]*Ship, 0, len(placements))

	for _, p := range placements {
		spec, ok := specByName(p.Name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownShip, p.Name)
		}
		if used[p.Name] {
			return nil, fmt.Errorf("%w: duplicate %s", ErrIncompleteSet, p.Name)
		}
		used[p.Name] = true

		if !CanPlace(occupied, spec.Size, p.Row, p.Col, p.Horizontal) {
			cells := cellsFor(spec.Size, p.Row, p.Col, p.Horizontal)
			for _, c := range cells {
				if c.Row < 0 || c.Row >= BoardSize || c.Col < 0 || c.Col >= BoardSize {
					return nil, fmt.Errorf("%w: %s", ErrOutOfBounds, p.Name)
				}
			}
			return nil, fmt.Errorf("%w: %s", ErrOverlap, p.Name)
		}

		cells := cellsFor(spec.Size, p.Row, p.Col, p.Horizontal)
		for _, c := range cells {
			occupied[c] = true
		}
		ships = append(ships, &Ship{
			Name:  spec.Name,
			Size:  spec.Size,
			Cells: cells,
		})
	}

	return ships, nil
}

// IsValidFleet 校验一组已生成的船只是否构成完整合法的舰队。
// 用于从快照恢复后的一致性检查。
func IsValidFleet(ships []*Ship) bool {
	if len(ships) != len(Catalog) {
		return false
	}

	occupied := make(map[Cell]bool)
	used := make(map[string]bool)

	for _, s := range ships {
		spec, ok := specByName(s.Name)
		if !ok || used[s.Name] || spec.Size != s.Size || len(s.Cells) != s.Size {
			return false
		}
		used[s.Name] = true

		for _, c := range s.Cells {
			if c.Row < 0 || c.Row >= BoardSize || c.Col < 0 || c.Col >= BoardSize {
				return false
			}
			if occupied[c] {
				return false
			}
			occupied[c] = true
		}
	}

	return true
}

// AllSunk 是否全部船只已被击沉
func AllSunk(ships []*Ship) bool {
	for _, s := range ships {
		if !s.Sunk() {
			return false
		}
	}
	return len(ships) > 0
}
