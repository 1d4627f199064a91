package spatial

import (
	"sort"

	"github.com/golang/geo/s2"
)

// Point is a weighted position in degrees
type Point struct {
	Lat    float64
	Lon    float64
	Weight float64 // 1 for unweighted clustering
}

// DBSCANParams configures density clustering on the sphere
type DBSCANParams struct {
	Eps       float64 // neighbourhood radius in radians
	MinWeight float64 // summed weight (point itself included) required for a core point
}

// Noise is the label of points that belong to no cluster
const Noise = -1

// bruteForceLimit is the size below which neighbourhoods are scanned linearly
const bruteForceLimit = 64

// DBSCAN labels points with 0-based cluster ids, or Noise.
// Cluster ids follow the order in which the first core point of each cluster
// appears in the input, so the caller fixes the numbering by fixing the order.
func DBSCAN(points []Point, params DBSCANParams) []int {
	n := len(points)
	if n == 0 {
		return nil
	}

	const (
		unvisited = 0
		noise     = -1
	)
	labels := make([]int, n) // 0=unvisited, -1=noise, >0=cluster id + 1
	clusterID := 0

	index := newCellIndex(points, params.Eps)

	for i := 0; i < n; i++ {
		if labels[i] != unvisited {
			continue
		}

		neighbors := index.regionQuery(points, i, params.Eps)
		if weightOf(points, neighbors) < params.MinWeight {
			labels[i] = noise
			continue
		}

		clusterID++
		labels[i] = clusterID

		// queue-based expansion
		for j := 0; j < len(neighbors); j++ {
			idx := neighbors[j]
			if labels[idx] == noise {
				labels[idx] = clusterID // border point
			}
			if labels[idx] != unvisited {
				continue
			}
			labels[idx] = clusterID

			next := index.regionQuery(points, idx, params.Eps)
			if weightOf(points, next) >= params.MinWeight {
				neighbors = append(neighbors, next...)
			}
		}
	}

	out := make([]int, n)
	for i, l := range labels {
		if l <= 0 {
			out[i] = Noise
		} else {
			out[i] = l - 1
		}
	}
	return out
}

func weightOf(points []Point, idx []int) float64 {
	var w float64
	for _, i := range idx {
		w += points[i].Weight
	}
	return w
}

// cellIndex buckets points into s2 cells at least twice as wide as eps, so
// every eps-neighbour of a point lies in its own cell or an adjacent one
type cellIndex struct {
	level int
	cells map[s2.CellID][]int
	ids   []s2.CellID
}

func newCellIndex(points []Point, eps float64) *cellIndex {
	if len(points) < bruteForceLimit || eps <= 0 {
		return nil
	}
	level := s2.MinWidthMetric.MaxLevel(2 * eps)
	if level < 2 {
		return nil
	}

	ci := &cellIndex{
		level: level,
		cells: make(map[s2.CellID][]int),
		ids:   make([]s2.CellID, len(points)),
	}
	for i, p := range points {
		id := s2.CellIDFromLatLng(s2.LatLngFromDegrees(p.Lat, p.Lon)).Parent(level)
		ci.ids[i] = id
		ci.cells[id] = append(ci.cells[id], i)
	}
	return ci
}

// regionQuery returns indices of all points within eps of points[idx], idx included,
// in ascending index order
func (ci *cellIndex) regionQuery(points []Point, idx int, eps float64) []int {
	p := points[idx]
	var result []int

	if ci == nil {
		for j, q := range points {
			if AngularDistance(p.Lat, p.Lon, q.Lat, q.Lon) <= eps {
				result = append(result, j)
			}
		}
		return result
	}

	own := ci.ids[idx]
	seen := map[s2.CellID]bool{own: true}
	candidates := append([]int(nil), ci.cells[own]...)
	for _, nb := range own.AllNeighbors(ci.level) {
		if seen[nb] {
			continue
		}
		seen[nb] = true
		candidates = append(candidates, ci.cells[nb]...)
	}

	for _, j := range candidates {
		q := points[j]
		if AngularDistance(p.Lat, p.Lon, q.Lat, q.Lon) <= eps {
			result = append(result, j)
		}
	}
	sort.Ints(result)
	return result
}
