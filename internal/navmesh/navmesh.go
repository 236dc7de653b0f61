// Package navmesh loads a zone's precomputed navigation mesh and answers
// A*-style path queries over it. No ready-made nav-mesh query library
// covers this wire format, so this package is a minimal implementation of
// that boundary: a triangle-adjacency graph with A* search over triangle
// centroids, not the retail client's own mesh format.
package navmesh

import (
	"container/heap"
	"encoding/binary"
	"fmt"
	"math"
)

type Vec3 struct {
	X, Y, Z float32
}

// Sub returns a - b.
func (a Vec3) Sub(b Vec3) Vec3 { return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }

// Len returns the Euclidean length of the vector.
func (a Vec3) Len() float32 {
	return float32(math.Sqrt(float64(a.X*a.X + a.Y*a.Y + a.Z*a.Z)))
}

func (a Vec3) sub(b Vec3) Vec3 { return a.Sub(b) }
func (a Vec3) dist(b Vec3) float32 {
	return a.sub(b).Len()
}

type triangle struct {
	centroid Vec3
	verts    [3]Vec3
	edgeKeys [3]edgeKey
}

type edgeKey struct{ a, b int32 }

func makeEdgeKey(a, b int32) edgeKey {
	if a > b {
		a, b = b, a
	}
	return edgeKey{a, b}
}

// Mesh is the opaque, loaded navigation mesh used by the navmesh pathfinder.
type Mesh struct {
	tris  []triangle
	adj   map[int][]int // triangle index -> neighbor triangle indices
}

const meshVersion = 0x4E41564D // "NAVM"

// Load parses this module's nav file format: a version tag, a vertex
// count, the vertices, a triangle count, then triangle vertex-index
// triples. Adjacency is derived from shared edges.
func Load(data []byte) (*Mesh, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("nav file too short")
	}
	off := 0
	version := binary.LittleEndian.Uint32(data[off:])
	off += 4
	if version != meshVersion {
		return nil, fmt.Errorf("unrecognized nav file version %#x", version)
	}

	vertCount := binary.LittleEndian.Uint32(data[off:])
	off += 4
	verts := make([]Vec3, vertCount)
	for i := range verts {
		if off+12 > len(data) {
			return nil, fmt.Errorf("nav file truncated reading vertex %d", i)
		}
		verts[i] = Vec3{
			X: math.Float32frombits(binary.LittleEndian.Uint32(data[off:])),
			Y: math.Float32frombits(binary.LittleEndian.Uint32(data[off+4:])),
			Z: math.Float32frombits(binary.LittleEndian.Uint32(data[off+8:])),
		}
		off += 12
	}

	if off+4 > len(data) {
		return nil, fmt.Errorf("nav file truncated reading triangle count")
	}
	triCount := binary.LittleEndian.Uint32(data[off:])
	off += 4

	tris := make([]triangle, 0, triCount)
	for i := uint32(0); i < triCount; i++ {
		if off+12 > len(data) {
			return nil, fmt.Errorf("nav file truncated reading triangle %d", i)
		}
		i0 := int32(binary.LittleEndian.Uint32(data[off:]))
		i1 := int32(binary.LittleEndian.Uint32(data[off+4:]))
		i2 := int32(binary.LittleEndian.Uint32(data[off+8:]))
		off += 12

		if int(i0) >= len(verts) || int(i1) >= len(verts) || int(i2) >= len(verts) {
			return nil, fmt.Errorf("triangle %d references out-of-range vertex", i)
		}

		a, b, c := verts[i0], verts[i1], verts[i2]
		centroid := Vec3{(a.X + b.X + c.X) / 3, (a.Y + b.Y + c.Y) / 3, (a.Z + b.Z + c.Z) / 3}
		tris = append(tris, triangle{
			centroid: centroid,
			verts:    [3]Vec3{a, b, c},
			edgeKeys: [3]edgeKey{makeEdgeKey(i0, i1), makeEdgeKey(i1, i2), makeEdgeKey(i2, i0)},
		})
	}

	return &Mesh{tris: tris, adj: buildAdjacency(tris)}, nil
}

func buildAdjacency(tris []triangle) map[int][]int {
	byEdge := make(map[edgeKey][]int)
	for i, t := range tris {
		for _, e := range t.edgeKeys {
			byEdge[e] = append(byEdge[e], i)
		}
	}

	adj := make(map[int][]int, len(tris))
	for _, owners := range byEdge {
		if len(owners) < 2 {
			continue
		}
		for _, a := range owners {
			for _, b := range owners {
				if a != b {
					adj[a] = append(adj[a], b)
				}
			}
		}
	}
	return adj
}

// nearestTriangle returns the index of the triangle whose centroid is
// closest to p, and the distance to it.
func (m *Mesh) nearestTriangle(p Vec3) (int, float32) {
	best := -1
	bestDist := float32(math.MaxFloat32)
	for i, t := range m.tris {
		d := t.centroid.dist(p)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best, bestDist
}

type frontierItem struct {
	tri  int
	f    float32
	index int
}
type frontier []*frontierItem

func (f frontier) Len() int            { return len(f) }
func (f frontier) Less(i, j int) bool  { return f[i].f < f[j].f }
func (f frontier) Swap(i, j int)       { f[i], f[j] = f[j], f[i]; f[i].index, f[j].index = i, j }
func (f *frontier) Push(x interface{}) { it := x.(*frontierItem); it.index = len(*f); *f = append(*f, it) }
func (f *frontier) Pop() interface{} {
	old := *f
	n := len(old)
	it := old[n-1]
	*f = old[:n-1]
	return it
}

// FindPath runs A* over the triangle-adjacency graph from the triangle
// nearest start to the triangle nearest end, returning the sequence of
// triangle centroids traversed. If the mesh has no triangles or start/end
// fall on an unreachable island, it returns the best partial reach and
// stuck=true if no progress could be made at all.
func (m *Mesh) FindPath(start, end Vec3) (path []Vec3, partial bool, stuck bool) {
	if len(m.tris) == 0 {
		return nil, false, true
	}

	startTri, _ := m.nearestTriangle(start)
	endTri, _ := m.nearestTriangle(end)

	cameFrom := map[int]int{}
	gScore := map[int]float32{startTri: 0}
	open := &frontier{{tri: startTri, f: m.tris[startTri].centroid.dist(m.tris[endTri].centroid)}}
	heap.Init(open)
	visited := map[int]bool{}

	reached := startTri
	for open.Len() > 0 {
		cur := heap.Pop(open).(*frontierItem).tri
		if visited[cur] {
			continue
		}
		visited[cur] = true
		reached = cur

		if cur == endTri {
			break
		}

		for _, next := range m.adj[cur] {
			tentative := gScore[cur] + m.tris[cur].centroid.dist(m.tris[next].centroid)
			if best, ok := gScore[next]; !ok || tentative < best {
				gScore[next] = tentative
				cameFrom[next] = cur
				h := m.tris[next].centroid.dist(m.tris[endTri].centroid)
				heap.Push(open, &frontierItem{tri: next, f: tentative + h})
			}
		}
	}

	if reached == startTri && startTri != endTri {
		return []Vec3{start}, false, true
	}

	// Walk cameFrom back from whichever triangle search actually reached.
	nodes := []int{reached}
	for {
		prev, ok := cameFrom[nodes[len(nodes)-1]]
		if !ok {
			break
		}
		nodes = append(nodes, prev)
	}
	for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	}

	out := make([]Vec3, 0, len(nodes)+2)
	out = append(out, start)
	for _, n := range nodes {
		out = append(out, m.tris[n].centroid)
	}
	out = append(out, end)

	partial = reached != endTri
	return out, partial, false
}
