package battle

import "math/rand/v2"

// RandomFleet 生成一套随机的合法布阵。
// 布阵超时的玩家由服务器自动代为布阵，保证游戏可以继续。
func RandomFleet() []*Ship {
	occupied := make(map[Cell]bool)
	ships := make([]*Ship, 0, len(Catalog))

	for _, spec := range Catalog {
		for {
			horizontal := rand.IntN(2) == 0
			row := rand.IntN(BoardSize)
			col := rand.IntN(BoardSize)

			if !CanPlace(occupied, spec.Size, row, col, horizontal) {
				continue
			}

			cells := cellsFor(spec.Size, row, col, horizontal)
			for _, c := range cells {
				occupied[c] = true
			}
			ships = append(ships, &Ship{
				Name:  spec.Name,
				Size:  spec.Size,
				Cells: cells,
			})
			break
		}
	}

	return ships
}
