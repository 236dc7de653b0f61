// Package pathfind is the two-variant pathfinder facade. It is modeled as
// a tagged variant (one struct) rather than an interface with two
// subclasses: a nil *navmesh.Mesh selects the null (straight-line)
// behavior.
package pathfind

import (
	"os"
	"path/filepath"

	"github.com/pixil98/hc/internal/navmesh"
)

const DefaultStepSize = 10
const DefaultOffset = 5

// Waypoint is one point on a Path, tagged teleport (the navmesh variant
// can return teleport links; the null variant never does).
type Waypoint struct {
	X, Y, Z   float32
	Teleport bool
}

// Options controls how a Finder builds its returned waypoints.
type Options struct {
	SmoothPath bool
	StepSize   float32
	Offset     float32
}

func DefaultOptions() Options {
	return Options{StepSize: DefaultStepSize, Offset: DefaultOffset}
}

// Finder is the sum-type pathfinder facade. A nil mesh means "null
// finder": find_path always returns a straight line between start and end.
type Finder struct {
	mesh *navmesh.Mesh
}

// NewNullFinder returns a Finder that always produces a direct line.
func NewNullFinder() *Finder {
	return &Finder{}
}

// NewNavMeshFinder wraps an already-loaded mesh.
func NewNavMeshFinder(mesh *navmesh.Mesh) *Finder {
	return &Finder{mesh: mesh}
}

// IsNavMesh reports whether this Finder is backed by a real mesh (as
// opposed to the null straight-line fallback).
func (f *Finder) IsNavMesh() bool { return f.mesh != nil }

// FindPath runs the pathfinding contract shared by both variants.
func (f *Finder) FindPath(start, end navmesh.Vec3, opts Options) (path []Waypoint, partial bool, stuck bool) {
	if opts.StepSize <= 0 {
		opts.StepSize = DefaultStepSize
	}

	if f.mesh == nil {
		return buildWaypoints([]navmesh.Vec3{start, end}, opts), false, false
	}

	raw, isPartial, isStuck := f.mesh.FindPath(start, end)
	if opts.SmoothPath {
		raw = smooth(raw)
	}
	return buildWaypoints(raw, opts), isPartial, isStuck
}

// Select loads <navmeshRoot>/<zone>.nav if present and returns a
// navmesh-backed Finder; otherwise (or on a parse failure) it degrades to
// the null finder. The bool result
// reports whether a real mesh was loaded.
func Select(navmeshRoot, zone string) (*Finder, bool, error) {
	if navmeshRoot == "" {
		return NewNullFinder(), false, nil
	}

	path := filepath.Join(navmeshRoot, zone+".nav")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewNullFinder(), false, nil
		}
		return NewNullFinder(), false, err
	}

	mesh, err := navmesh.Load(data)
	if err != nil {
		// Degrade gracefully on a malformed mesh file; the caller logs the
		// warning, this package just reports it.
		return NewNullFinder(), false, err
	}

	return NewNavMeshFinder(mesh), true, nil
}

func buildWaypoints(points []navmesh.Vec3, opts Options) []Waypoint {
	resampled := resample(points, opts.StepSize)
	out := make([]Waypoint, 0, len(resampled))
	for _, p := range resampled {
		out = append(out, Waypoint{X: p.X, Y: p.Y, Z: p.Z + opts.Offset})
	}
	return out
}

// resample inserts intermediate points so no consecutive pair of waypoints
// is farther apart than stepSize.
func resample(points []navmesh.Vec3, stepSize float32) []navmesh.Vec3 {
	if len(points) < 2 || stepSize <= 0 {
		return points
	}

	out := make([]navmesh.Vec3, 0, len(points))
	out = append(out, points[0])
	for i := 1; i < len(points); i++ {
		prev := points[i-1]
		cur := points[i]
		dist := prev.Sub(cur).Len()
		if dist <= stepSize {
			out = append(out, cur)
			continue
		}
		steps := int(dist/stepSize) + 1
		for s := 1; s <= steps; s++ {
			t := float32(s) / float32(steps)
			out = append(out, navmesh.Vec3{
				X: prev.X + (cur.X-prev.X)*t,
				Y: prev.Y + (cur.Y-prev.Y)*t,
				Z: prev.Z + (cur.Z-prev.Z)*t,
			})
		}
	}
	return out
}

// smooth drops interior points that are collinear with their neighbors,
// the "simplify collinear segments" behavior behind the smooth_path option.
func smooth(points []navmesh.Vec3) []navmesh.Vec3 {
	if len(points) < 3 {
		return points
	}
	out := []navmesh.Vec3{points[0]}
	for i := 1; i < len(points)-1; i++ {
		if !collinear(points[i-1], points[i], points[i+1]) {
			out = append(out, points[i])
		}
	}
	out = append(out, points[len(points)-1])
	return out
}

func collinear(a, b, c navmesh.Vec3) bool {
	ab := b.Sub(a)
	bc := c.Sub(b)
	cross := navmesh.Vec3{
		X: ab.Y*bc.Z - ab.Z*bc.Y,
		Y: ab.Z*bc.X - ab.X*bc.Z,
		Z: ab.X*bc.Y - ab.Y*bc.X,
	}
	const eps = 1e-3
	return cross.Len() < eps
}
