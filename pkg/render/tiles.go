package render

import (
	"runtime"
	"sort"
	"sync"
)

// tileGrid buckets visible primitives into screen tiles, each bucket
// sorted front to back by depth. Equal depths keep store order (stable
// sort); the compositing result does not depend on how ties break.
type tileGrid struct {
	cols, rows int
	prims      [][]int32
}

func binTiles(p *Projection, width, height int) *tileGrid {
	cols := (width + TileSize - 1) / TileSize
	rows := (height + TileSize - 1) / TileSize
	g := &tileGrid{cols: cols, rows: rows, prims: make([][]int32, cols*rows)}
	for i, r := range p.Radii {
		if r == 0 {
			continue
		}
		minTX := int(p.tileMinXY[i*4])
		minTY := int(p.tileMinXY[i*4+1])
		maxTX := int(p.tileMinXY[i*4+2])
		maxTY := int(p.tileMinXY[i*4+3])
		for ty := minTY; ty < maxTY; ty++ {
			for tx := minTX; tx < maxTX; tx++ {
				t := ty*cols + tx
				g.prims[t] = append(g.prims[t], int32(i))
			}
		}
	}
	for _, list := range g.prims {
		sort.SliceStable(list, func(a, b int) bool {
			return p.Depth[list[a]] < p.Depth[list[b]]
		})
	}
	return g
}

// bounds returns the pixel rectangle of tile t, clipped to the image
func (g *tileGrid) bounds(t, width, height int) (x0, y0, x1, y1 int) {
	tx, ty := t%g.cols, t/g.cols
	x0 = tx * TileSize
	y0 = ty * TileSize
	x1 = min(x0+TileSize, width)
	y1 = min(y0+TileSize, height)
	return
}

// parallelTiles runs fn over every tile index using a fixed worker pool.
// Tiles are striped across workers so the assignment is deterministic;
// fn receives the worker id so callers can keep per-worker accumulators.
func parallelTiles(numWorkers, numTiles int, fn func(worker, tile int)) {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if numWorkers > numTiles {
		numWorkers = numTiles
	}
	if numWorkers <= 1 {
		for t := 0; t < numTiles; t++ {
			fn(0, t)
		}
		return
	}
	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for t := worker; t < numTiles; t += numWorkers {
				fn(worker, t)
			}
		}(w)
	}
	wg.Wait()
}
