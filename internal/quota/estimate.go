package quota

import (
	"math"

	"github.com/avolkovs/tripatlas/internal/models"
)

// Web-mercator tiles are undefined beyond this latitude.
const maxMercatorLat = 85.05112878

// Estimate is the predicted cost of covering a bounding box with tiles.
type Estimate struct {
	TileCount      int
	EstimatedBytes int64
}

// EstimateTiles predicts the download cost for a bounding box across the
// given zoom range, assuming avgTileBytes per tile.
func EstimateTiles(b models.BoundingBox, minZoom, maxZoom int, avgTileBytes int64) Estimate {
	count := 0
	for z := minZoom; z <= maxZoom; z++ {
		x1, y1, x2, y2 := tileRange(b, z)
		count += (x2 - x1 + 1) * (y2 - y1 + 1)
	}
	return Estimate{TileCount: count, EstimatedBytes: int64(count) * avgTileBytes}
}

// EnumerateTiles lists every tile key covering the box across the zoom range
// in a stable order (zoom, then row, then column). The download engine's
// checkpoint index arithmetic depends on this order being deterministic.
func EnumerateTiles(b models.BoundingBox, minZoom, maxZoom int, sourceID string) []models.TileKey {
	est := EstimateTiles(b, minZoom, maxZoom, 0)
	keys := make([]models.TileKey, 0, est.TileCount)
	for z := minZoom; z <= maxZoom; z++ {
		x1, y1, x2, y2 := tileRange(b, z)
		for y := y1; y <= y2; y++ {
			for x := x1; x <= x2; x++ {
				keys = append(keys, models.TileKey{SourceID: sourceID, Z: z, X: x, Y: y})
			}
		}
	}
	return keys
}

// tileRange returns the inclusive tile index bounds of the box at zoom z.
func tileRange(b models.BoundingBox, z int) (x1, y1, x2, y2 int) {
	r := b.Rect()
	south := clampLat(r.Lat.Lo * 180 / math.Pi)
	north := clampLat(r.Lat.Hi * 180 / math.Pi)
	west := r.Lng.Lo * 180 / math.Pi
	east := r.Lng.Hi * 180 / math.Pi

	n := 1 << z
	x1 = clampTile(lonToTileX(west, n), n)
	x2 = clampTile(lonToTileX(east, n), n)
	// north latitude maps to the smaller row index
	y1 = clampTile(latToTileY(north, n), n)
	y2 = clampTile(latToTileY(south, n), n)
	return x1, y1, x2, y2
}

func lonToTileX(lon float64, n int) int {
	return int(math.Floor((lon + 180) / 360 * float64(n)))
}

func latToTileY(lat float64, n int) int {
	rad := lat * math.Pi / 180
	return int(math.Floor((1 - math.Log(math.Tan(rad)+1/math.Cos(rad))/math.Pi) / 2 * float64(n)))
}

func clampLat(lat float64) float64 {
	if lat > maxMercatorLat {
		return maxMercatorLat
	}
	if lat < -maxMercatorLat {
		return -maxMercatorLat
	}
	return lat
}

func clampTile(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
