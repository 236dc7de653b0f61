// Package movement is the tick-driven runner that owns the
// player's own position, heading, speed, follow target, and active
// waypoint path, and coordinates with the pathfinder and terrain map to
// produce outgoing position-update packets. Engine.Tick is kept pure
// enough to unit test without a real clock: dt is always supplied by the
// caller, and the only wall-clock reads are the interval gates for the
// terrain Z fix, stuck detection, and the position-update cadence, all
// routed through an
// injectable clock, following the same functional-option construction
// pattern used elsewhere in this module.
package movement

import (
	"math"
	"time"

	"github.com/pixil98/hc/internal/entity"
	"github.com/pixil98/hc/internal/navmesh"
	"github.com/pixil98/hc/internal/pathfind"
	"github.com/pixil98/hc/internal/terrainmap"
	"github.com/pixil98/hc/internal/wire"
)

// Animation values as sent on the wire.
const (
	AnimStand = 0
	AnimWalk  = 1
	AnimRun   = 27
)

// Movement tuning constants.
const (
	RunSpeed    = 70.0 // units/s
	WalkSpeed   = 30.0 // units/s
	RunAnimThreshold = 45.0

	MovingUpdateInterval = 50 * time.Millisecond
	IdleUpdateInterval   = 1500 * time.Millisecond

	WaypointArrivalRadius = 5.0
	PathArrivalRadius     = 2.0

	FollowCloseDist = 10.0
	FollowFarDist   = 30.0
	FollowSpeedMin  = 0.5
	FollowSpeedMax  = 1.5

	StuckWindow      = 3 * time.Second
	StuckMinProgress = 1.0

	ZFixInterval = 500 * time.Millisecond
	ZFixFactor   = 0.3
	ZFixMinDelta = 1.0
	ZFixMaxDelta = 20.0

	maxTickDelta = 100 * time.Millisecond
)

// State is the movement sub-state: Idle, MovingToPoint, FollowingPath, or
// FollowingEntity. FollowingEntity is reported by
// State() whenever a follow target is set, layered over whichever of the
// other three the engine is mechanically doing to reach it (see Tick).
type State int

const (
	Idle State = iota
	MovingToPoint
	FollowingPath
	FollowingEntity
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case MovingToPoint:
		return "moving_to_point"
	case FollowingPath:
		return "following_path"
	case FollowingEntity:
		return "following_entity"
	default:
		return "unknown"
	}
}

// SpeedMode toggles between the walk and run command pair.
type SpeedMode int

const (
	Run SpeedMode = iota
	Walk
)

// TickResult reports what happened during one Tick call.
type TickResult struct {
	// PositionUpdate is set when a position-update packet is due this
	// tick; nil otherwise. The caller (driver loop) encodes and sends it.
	PositionUpdate *wire.Position
	PathRecomputed  bool
	Stopped         bool
}

// Engine is the movement runner. Construct with NewEngine and drive with
// Tick at roughly 60Hz; a blocking `move` command is layered on top by
// the CLI dispatcher polling IsMoving until it goes false.
type Engine struct {
	finder  *pathfind.Finder
	terrain *terrainmap.Map
	entities *entity.Model
	spawnID uint32

	x, y, z float32
	heading float32
	animation uint16
	speedMode SpeedMode
	pathfindingEnabled bool

	movementState State
	targetX, targetY, targetZ float32
	path      []pathfind.Waypoint
	pathIndex int
	followName string

	waypointStuckSince     time.Time
	waypointStuckBestDist  float32
	haveStuckSample        bool

	lastZFix           time.Time
	lastPositionUpdate time.Time
	sequence            uint16
	forceUpdate         bool

	now func() time.Time
}

// Option configures an Engine at construction, the same functional-option
// shape as driverloop.Option (internal/driverloop/opts.go).
type Option func(*Engine)

// WithClock overrides the engine's wall-clock source; used by tests to
// make the 500ms/50ms/1500ms/3s interval gates deterministic.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(finder *pathfind.Finder, terrain *terrainmap.Map, entities *entity.Model, opts ...Option) *Engine {
	e := &Engine{
		finder:             finder,
		terrain:            terrain,
		entities:           entities,
		pathfindingEnabled: true,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.lastZFix = e.now()
	e.lastPositionUpdate = e.now()
	return e
}

// SetSpawnID tells the engine which entity id is "self", needed both to
// populate the outgoing position-update packet and to keep the player's
// own Entity record in sync.
func (e *Engine) SetSpawnID(id uint32) { e.spawnID = id }

// SpawnID returns the player's own spawn id, 0 if not yet known. A caller
// must suppress sending a position update entirely when this is 0 (the
// server would read it as a broadcast).
func (e *Engine) SpawnID() uint32 { return e.spawnID }

// SetPosition seeds the player's scalars, used at zone entry once the
// profile packet's position/heading are known.
func (e *Engine) SetPosition(x, y, z, heading float32) {
	e.x, e.y, e.z, e.heading = x, y, z, heading
}

func (e *Engine) Position() (x, y, z, heading float32) { return e.x, e.y, e.z, e.heading }

// IsMoving reports whether the engine has an active target or path. This
// is what the CLI's blocking move command polls.
func (e *Engine) IsMoving() bool { return e.movementState != Idle }

// State reports FollowingEntity whenever a follow target is set,
// regardless of the mechanical sub-state used to reach it, matching the
// FollowingEntity's user-facing vocabulary.
func (e *Engine) State() State {
	if e.followName != "" {
		return FollowingEntity
	}
	return e.movementState
}

// SetPathfinder swaps in a newly-loaded per-zone pathfinder; called by the
// protocol driver once a zone's short name is known; pathfinder selection
// happens per zone, not once at startup.
func (e *Engine) SetPathfinder(f *pathfind.Finder) { e.finder = f }

// SetTerrain swaps in a newly-loaded per-zone terrain map, or nil if none
// was found on disk (the terrain Z fix then simply never fires).
func (e *Engine) SetTerrain(t *terrainmap.Map) { e.terrain = t }

func (e *Engine) SetSpeedMode(m SpeedMode) { e.speedMode = m }
func (e *Engine) SpeedMode() SpeedMode      { return e.speedMode }

func (e *Engine) SetPathfindingEnabled(v bool) { e.pathfindingEnabled = v }
func (e *Engine) PathfindingEnabled() bool     { return e.pathfindingEnabled }

func (e *Engine) FollowName() string { return e.followName }

func (e *Engine) baseSpeed() float32 {
	if e.speedMode == Walk {
		return WalkSpeed
	}
	return RunSpeed
}

// Move adopts a path to (x,y,z) via the pathfinder if one is enabled and
// present, otherwise a direct MovingToPoint target.
func (e *Engine) Move(x, y, z float32) {
	e.followName = ""
	e.adoptDestination(x, y, z)
}

func (e *Engine) adoptDestination(x, y, z float32) bool {
	if e.finder != nil && e.pathfindingEnabled {
		start := navmesh.Vec3{X: e.x, Y: e.y, Z: e.z}
		end := navmesh.Vec3{X: x, Y: y, Z: z}
		nodes, _, stuck := e.finder.FindPath(start, end, pathfind.DefaultOptions())
		if !stuck && len(nodes) > 0 {
			e.path = nodes
			e.pathIndex = 0
			e.movementState = FollowingPath
			e.resetStuckTracking()
			return true
		}
	}
	e.targetX, e.targetY, e.targetZ = x, y, z
	e.movementState = MovingToPoint
	return false
}

// MoveToEntity resolves name via the entity model and performs a one-shot
// move to its current position.
func (e *Engine) MoveToEntity(name string) (entity.Entity, bool) {
	target, ok := e.entities.FindByNamePrefix(name)
	if !ok {
		return entity.Entity{}, false
	}
	e.followName = ""
	e.adoptDestination(target.X, target.Y, target.Z)
	return target, true
}

// Follow resolves name and enters persistent follow mode: re-resolved by
// name every tick so a respawned target with a new spawn id is still
// tracked.
func (e *Engine) Follow(name string) (entity.Entity, bool) {
	target, ok := e.entities.FindByNamePrefix(name)
	if !ok {
		return entity.Entity{}, false
	}
	e.followName = target.Name
	e.adoptDestination(target.X, target.Y, target.Z)
	return target, true
}

// StopFollow clears follow mode without otherwise touching movement.
func (e *Engine) StopFollow() { e.followName = "" }

// Face turns in place to point at (x,y,z), forcing a position update on
// the next tick. Only heading changes; movement state is untouched.
func (e *Engine) Face(x, y, z float32) {
	e.heading = headingTo(x-e.x, y-e.y)
	e.forceUpdate = true
}

// FaceEntity resolves name and faces its current position.
func (e *Engine) FaceEntity(name string) (entity.Entity, bool) {
	target, ok := e.entities.FindByNamePrefix(name)
	if !ok {
		return entity.Entity{}, false
	}
	e.Face(target.X, target.Y, target.Z)
	return target, true
}

// Turn rotates the current heading by a relative number of degrees,
// wrapped to [0,360).
func (e *Engine) Turn(degrees float32) {
	h := e.heading + degrees
	for h < 0 {
		h += 360
	}
	for h >= 360 {
		h -= 360
	}
	e.heading = h
	e.forceUpdate = true
}

// Stop clears path, target, and follow name; sets animation to stand and
// forces a single position update on the next Tick.
func (e *Engine) Stop() {
	e.movementState = Idle
	e.path = nil
	e.pathIndex = 0
	e.followName = ""
	e.animation = AnimStand
	e.forceUpdate = true
}

func (e *Engine) resetStuckTracking() {
	e.haveStuckSample = false
}

// Tick advances the engine by dt (capped at maxTickDelta) and returns
// whatever the caller needs to act on this iteration: an outgoing
// position-update packet, whether a path was (re)computed, or whether
// movement just stopped.
func (e *Engine) Tick(dt time.Duration) TickResult {
	if dt > maxTickDelta {
		dt = maxTickDelta
	}

	result := TickResult{}

	followDist, followOK := e.tickFollow(&result)

	if e.movementState == FollowingPath {
		e.advanceWaypoints()
	}

	moved := e.tickMotion(dt, followDist, followOK, &result)

	if e.terrain != nil {
		e.tickZFix()
	}

	e.syncEntity()

	if e.tickPositionUpdate(moved) {
		p := e.buildPositionPayload()
		result.PositionUpdate = &p
	}

	return result
}

// tickFollow resolves the follow target by name and
// (re)computes a path when the target has drifted. It returns the current
// distance to the target (for the speed multiplier) and whether the
// target was found this tick.
func (e *Engine) tickFollow(result *TickResult) (float32, bool) {
	if e.followName == "" {
		return 0, false
	}

	target, ok := e.entities.FindByNamePrefix(e.followName)
	if !ok {
		return 0, false
	}

	dist := dist3(e.x, e.y, e.z, target.X, target.Y, target.Z)

	if dist <= FollowCloseDist {
		if e.movementState != Idle {
			e.movementState = Idle
			e.path = nil
			e.pathIndex = 0
			result.Stopped = true
		}
		return dist, true
	}

	if dist > FollowFarDist {
		needsRecompute := false
		switch {
		case e.movementState == Idle:
			needsRecompute = true
		case e.movementState == FollowingPath && len(e.path) > 0:
			last := e.path[len(e.path)-1]
			needsRecompute = dist3(last.X, last.Y, last.Z, target.X, target.Y, target.Z) > 5
		case e.movementState == MovingToPoint:
			needsRecompute = dist3(e.targetX, e.targetY, e.targetZ, target.X, target.Y, target.Z) > 5
		default:
			needsRecompute = true
		}
		if needsRecompute {
			e.adoptDestination(target.X, target.Y, target.Z)
			result.PathRecomputed = true
		}
	}

	return dist, true
}

// advanceWaypoints advances past any waypoint within arrival radius
// (tighter radius for the final waypoint), falling through to stuck
// detection when the current waypoint can't be reached.
func (e *Engine) advanceWaypoints() {
	if len(e.path) == 0 {
		e.movementState = Idle
		return
	}

	for e.pathIndex < len(e.path) {
		wp := e.path[e.pathIndex]
		d := dist3(e.x, e.y, e.z, wp.X, wp.Y, wp.Z)
		radius := float32(WaypointArrivalRadius)
		if e.pathIndex == len(e.path)-1 {
			radius = PathArrivalRadius
		}
		if d <= radius {
			e.pathIndex++
			e.resetStuckTracking()
			continue
		}

		e.checkStuck(d)
		return
	}

	// Ran off the end of the path: arrived.
	e.movementState = Idle
	e.path = nil
	e.pathIndex = 0
}

// checkStuck advances past the current waypoint if distance to it hasn't
// decreased by >=1 unit in 3s (or stops, if it was the last one).
func (e *Engine) checkStuck(currentDist float32) {
	now := e.now()
	if !e.haveStuckSample {
		e.haveStuckSample = true
		e.waypointStuckSince = now
		e.waypointStuckBestDist = currentDist
		return
	}
	if currentDist <= e.waypointStuckBestDist-StuckMinProgress {
		e.waypointStuckBestDist = currentDist
		e.waypointStuckSince = now
		return
	}
	if now.Sub(e.waypointStuckSince) >= StuckWindow {
		e.pathIndex++
		e.resetStuckTracking()
		if e.pathIndex >= len(e.path) {
			e.movementState = Idle
			e.path = nil
			e.pathIndex = 0
		}
	}
}

// tickMotion advances position toward the immediate target and updates
// heading and animation. Returns whether the
// engine is actively moving this tick (used for the update-cadence gate).
func (e *Engine) tickMotion(dt time.Duration, followDist float32, followOK bool, result *TickResult) bool {
	if e.movementState == Idle {
		return false
	}

	var tx, ty, tz float32
	switch e.movementState {
	case FollowingPath:
		if e.pathIndex >= len(e.path) {
			e.movementState = Idle
			return false
		}
		wp := e.path[e.pathIndex]
		tx, ty, tz = wp.X, wp.Y, wp.Z
	case MovingToPoint:
		tx, ty, tz = e.targetX, e.targetY, e.targetZ
	default:
		return false
	}

	dx := tx - e.x
	dy := ty - e.y
	dz := tz - e.z
	remaining := float32(math.Sqrt(float64(dx*dx + dy*dy + dz*dz)))

	if remaining < 1e-6 {
		e.arriveAtTarget(result)
		return false
	}

	speed := e.baseSpeed()
	if followOK {
		speed *= followSpeedMultiplier(followDist)
	}

	step := speed * float32(dt.Seconds())
	if step > remaining {
		step = remaining
	}

	nx := e.x + dx/remaining*step
	ny := e.y + dy/remaining*step
	nz := e.z + dz/remaining*step

	e.heading = headingTo(nx-e.x, ny-e.y)

	actualSpeed := step / float32(dt.Seconds())
	if dt <= 0 {
		actualSpeed = 0
	}
	e.animation = animationFor(actualSpeed)

	e.x, e.y, e.z = nx, ny, nz

	if e.movementState == MovingToPoint && step >= remaining {
		e.arriveAtTarget(result)
		return false
	}

	return true
}

func (e *Engine) arriveAtTarget(result *TickResult) {
	e.movementState = Idle
	e.path = nil
	e.pathIndex = 0
	e.animation = AnimStand
	result.Stopped = true
}

// followSpeedMultiplier maps the distance to a followed entity onto a
// 0.5-1.5 multiplier range: at or inside the close distance the
// follower eases off to 0.5x, and it ramps up to 1.5x by the far distance
// so it can catch back up.
func followSpeedMultiplier(dist float32) float32 {
	if dist <= FollowCloseDist {
		return FollowSpeedMin
	}
	if dist >= FollowFarDist {
		return FollowSpeedMax
	}
	t := (dist - FollowCloseDist) / (FollowFarDist - FollowCloseDist)
	return FollowSpeedMin + t*(FollowSpeedMax-FollowSpeedMin)
}

// headingTo applies the non-standard atan2(dx,dy) convention
// (0=+Y/North, 90=+X/East), wrapped to [0,360).
func headingTo(dx, dy float32) float32 {
	deg := float32(math.Atan2(float64(dx), float64(dy))) * 180.0 / math.Pi
	for deg < 0 {
		deg += 360
	}
	for deg >= 360 {
		deg -= 360
	}
	return deg
}

func animationFor(speed float32) uint16 {
	switch {
	case speed <= 0:
		return AnimStand
	case speed >= RunAnimThreshold:
		return AnimRun
	default:
		return AnimWalk
	}
}

// tickZFix nudges Z toward the terrain's best-ground-Z every 500ms while
// moving, by 30% of the difference, as long as that difference is in
// (1,20) units.
func (e *Engine) tickZFix() {
	now := e.now()
	if now.Sub(e.lastZFix) < ZFixInterval {
		return
	}
	e.lastZFix = now

	if e.movementState == Idle {
		return
	}

	best := e.terrain.BestZ(e.x, e.y, e.z)
	if best == terrainmap.Invalid {
		return
	}
	delta := best - e.z
	abs := delta
	if abs < 0 {
		abs = -abs
	}
	if abs > ZFixMinDelta && abs < ZFixMaxDelta {
		e.z += delta * ZFixFactor
	}
}

// syncEntity keeps the player's own Entity record coherent with the
// engine's scalars after every tick.
func (e *Engine) syncEntity() {
	if e.entities == nil || e.spawnID == 0 {
		return
	}
	e.entities.UpdatePosition(e.spawnID, entity.PositionUpdate{
		X: e.x, Y: e.y, Z: e.z,
		Heading:   e.heading,
		Animation: e.animation,
	})
}

func (e *Engine) tickPositionUpdate(movingThisTick bool) bool {
	now := e.now()
	interval := IdleUpdateInterval
	if e.movementState != Idle || movingThisTick {
		interval = MovingUpdateInterval
	}

	due := e.forceUpdate || now.Sub(e.lastPositionUpdate) >= interval
	if !due {
		return false
	}
	e.forceUpdate = false
	e.lastPositionUpdate = now
	return true
}

// buildPositionPayload constructs the bit-packed record for the player's
// own outgoing update with deltas zeroed, matching what real clients
// actually send on the wire. The on-ground bit is not part of Position; the
// caller sets it when encoding.
func (e *Engine) buildPositionPayload() wire.Position {
	e.sequence++
	return wire.Position{
		X: e.x, Y: e.y, Z: e.z,
		Heading:   e.heading,
		Animation: e.animation,
	}
}

// Sequence reports the current outgoing sequence number, monotonic for
// the life of a zone session.
func (e *Engine) Sequence() uint16 { return e.sequence }

func dist3(x1, y1, z1, x2, y2, z2 float32) float32 {
	dx, dy, dz := x2-x1, y2-y1, z2-z1
	return float32(math.Sqrt(float64(dx*dx + dy*dy + dz*dz)))
}
