// Package terrainmap loads a zone's collision mesh and answers downward
// ray casts for "best ground Z" queries. No third-party
// triangle-soup ray-cast library exists anywhere in the retrieved pack, so
// this is a plain Möller–Trumbore intersection over the loaded face list;
// that boundary is recorded in DESIGN.md.
package terrainmap

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Invalid is the sentinel returned when no ground is found below or above a
// query point. The caller (movement engine) must never move the player to
// Invalid and should keep the current Z instead.
const Invalid = float32(math.MaxFloat32)

const (
	versionV1 = 0x01000000
	versionV2 = 0x02000000
)

type Vertex struct {
	X, Y, Z float32
}

type face struct {
	i0, i1, i2 uint32
}

// Map is the opaque spatial index: vertices plus face indices, queried
// only through BestZ.
type Map struct {
	verts []Vertex
	faces []face
}

// Load parses either the V1 or V2 on-disk map format. The
// facelist section is read to advance the cursor correctly but its
// contents aren't retained; the core never uses it.
func Load(data []byte) (*Map, error) {
	if len(data) < 16 {
		return nil, fmt.Errorf("map file too short: %d bytes", len(data))
	}

	version := binary.LittleEndian.Uint32(data[0:4])
	switch version {
	case versionV1:
		return loadV1(data)
	case versionV2:
		return loadV2(data)
	default:
		return nil, fmt.Errorf("unrecognized map version tag %#x", version)
	}
}

func loadV1(data []byte) (*Map, error) {
	off := 4
	faceCount := binary.LittleEndian.Uint32(data[off:])
	off += 4
	nodeCount := binary.LittleEndian.Uint16(data[off:]) // V1: 16-bit node count
	off += 2
	facelistCount := binary.LittleEndian.Uint32(data[off:])
	off += 4

	verts, off, err := readVertices(data, off, int(nodeCount))
	if err != nil {
		return nil, err
	}

	faces := make([]face, 0, faceCount)
	for i := uint32(0); i < faceCount; i++ {
		if off+12 > len(data) {
			return nil, fmt.Errorf("v1 map truncated reading face %d", i)
		}
		f := face{
			i0: binary.LittleEndian.Uint32(data[off:]),
			i1: binary.LittleEndian.Uint32(data[off+4:]),
			i2: binary.LittleEndian.Uint32(data[off+8:]),
		}
		off += 12
		off += 12 // three unused normal floats
		faces = append(faces, f)
	}

	// facelist section: one uint32 count per node bucket, skipped.
	off += int(facelistCount) * 4

	return &Map{verts: verts, faces: faces}, nil
}

func loadV2(data []byte) (*Map, error) {
	off := 4
	faceCount := binary.LittleEndian.Uint32(data[off:])
	off += 4
	nodeCount := binary.LittleEndian.Uint32(data[off:])
	off += 4
	facelistCount := binary.LittleEndian.Uint32(data[off:])
	off += 4

	verts, off, err := readVertices(data, off, int(nodeCount))
	if err != nil {
		return nil, err
	}

	faces := make([]face, 0, faceCount)
	for i := uint32(0); i < faceCount; i++ {
		if off+16 > len(data) {
			return nil, fmt.Errorf("v2 map truncated reading face %d", i)
		}
		f := face{
			i0: binary.LittleEndian.Uint32(data[off:]),
			i1: binary.LittleEndian.Uint32(data[off+4:]),
			i2: binary.LittleEndian.Uint32(data[off+8:]),
		}
		off += 12
		off += 4 // flags word, unused
		faces = append(faces, f)
	}

	off += int(facelistCount) * 4

	return &Map{verts: verts, faces: faces}, nil
}

func readVertices(data []byte, off, count int) ([]Vertex, int, error) {
	verts := make([]Vertex, 0, count)
	for i := 0; i < count; i++ {
		if off+12 > len(data) {
			return nil, off, fmt.Errorf("map truncated reading vertex %d", i)
		}
		v := Vertex{
			X: math.Float32frombits(binary.LittleEndian.Uint32(data[off:])),
			Y: math.Float32frombits(binary.LittleEndian.Uint32(data[off+4:])),
			Z: math.Float32frombits(binary.LittleEndian.Uint32(data[off+8:])),
		}
		off += 12
		verts = append(verts, v)
	}
	return verts, off, nil
}

// BestZ casts a ray from (x, y, z+10) straight down to (x, y, -infinity)
// and returns the Z of the first intersection. If nothing is hit below, a
// single upward cast to +infinity is tried. If that also finds nothing,
// BestZ returns Invalid.
func (m *Map) BestZ(x, y, z float32) float32 {
	origin := Vertex{X: x, Y: y, Z: z + 10}

	if zHit, ok := m.castDown(origin); ok {
		return zHit
	}
	if zHit, ok := m.castUp(origin); ok {
		return zHit
	}
	return Invalid
}

func (m *Map) castDown(origin Vertex) (float32, bool) {
	best := float32(math.Inf(-1))
	found := false
	for _, f := range m.faces {
		a, b, c := m.verts[f.i0], m.verts[f.i1], m.verts[f.i2]
		if hitZ, ok := rayTriangleZ(origin, -1, a, b, c); ok {
			if hitZ <= origin.Z && hitZ > best {
				best = hitZ
				found = true
			}
		}
	}
	return best, found
}

func (m *Map) castUp(origin Vertex) (float32, bool) {
	best := float32(math.Inf(1))
	found := false
	for _, f := range m.faces {
		a, b, c := m.verts[f.i0], m.verts[f.i1], m.verts[f.i2]
		if hitZ, ok := rayTriangleZ(origin, 1, a, b, c); ok {
			if hitZ >= origin.Z && hitZ < best {
				best = hitZ
				found = true
			}
		}
	}
	return best, found
}

const epsilon = 1e-6

// rayTriangleZ intersects a vertical ray (direction +1 or -1 along Z)
// against triangle (a,b,c) using Möller–Trumbore, returning the Z of the
// intersection point.
func rayTriangleZ(origin Vertex, dirZ float32, a, b, c Vertex) (float32, bool) {
	edge1 := sub(b, a)
	edge2 := sub(c, a)
	dir := Vertex{X: 0, Y: 0, Z: dirZ}

	h := cross(dir, edge2)
	det := dot(edge1, h)
	if det > -epsilon && det < epsilon {
		return 0, false
	}
	invDet := 1.0 / det

	s := sub(origin, a)
	u := dot(s, h) * invDet
	if u < 0 || u > 1 {
		return 0, false
	}

	q := cross(s, edge1)
	v := dot(dir, q) * invDet
	if v < 0 || u+v > 1 {
		return 0, false
	}

	t := dot(edge2, q) * invDet
	if t < epsilon {
		return 0, false
	}

	return origin.Z + dirZ*t, true
}

func sub(a, b Vertex) Vertex { return Vertex{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func cross(a, b Vertex) Vertex {
	return Vertex{
		X: a.Y*b.Z - a.Z*b.Y,
		Y: a.Z*b.X - a.X*b.Z,
		Z: a.X*b.Y - a.Y*b.X,
	}
}
func dot(a, b Vertex) float32 { return a.X*b.X + a.Y*b.Y + a.Z*b.Z }
