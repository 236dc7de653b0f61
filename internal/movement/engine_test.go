package movement

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/pixil98/hc/internal/entity"
	"github.com/pixil98/hc/internal/pathfind"
	"github.com/pixil98/hc/internal/terrainmap"
)

func TestHeadingConvention(t *testing.T) {
	tests := map[string]struct {
		dx, dy  float32
		expDeg  float32
	}{
		"north (+Y)":         {dx: 0, dy: 1, expDeg: 0},
		"east (+X)":          {dx: 1, dy: 0, expDeg: 90},
		"south (-Y)":         {dx: 0, dy: -1, expDeg: 180},
		"west (-X)":          {dx: -1, dy: 0, expDeg: 270},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got := headingTo(tc.dx, tc.dy)
			if math.Abs(float64(got-tc.expDeg)) > 0.01 {
				t.Fatalf("headingTo(%v, %v) = %v, want %v", tc.dx, tc.dy, got, tc.expDeg)
			}
		})
	}
}

func TestAnimationThreshold(t *testing.T) {
	tests := map[string]struct {
		speed  float32
		expAnim uint16
	}{
		"stopped":       {speed: 0, expAnim: AnimStand},
		"below threshold": {speed: 30, expAnim: AnimWalk},
		"at threshold":   {speed: 45, expAnim: AnimRun},
		"above threshold": {speed: 70, expAnim: AnimRun},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if got := animationFor(tc.speed); got != tc.expAnim {
				t.Fatalf("animationFor(%v) = %d, want %d", tc.speed, got, tc.expAnim)
			}
		})
	}
}

// fakeClock lets tests advance time deterministically without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time   { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMoveWithoutPathfinderEntersMovingToPoint(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	em := entity.NewModel()
	e := NewEngine(pathfind.NewNullFinder(), nil, em, WithClock(clock.now))
	e.SetSpawnID(1)
	em.InsertOrReplace(entity.Entity{SpawnID: 1})
	e.SetPosition(0, 0, 0, 0)
	e.SetPathfindingEnabled(false)

	e.Move(100, 0, 0)
	if e.State() != FollowingPath && e.State() != MovingToPoint {
		t.Fatalf("expected an active movement state, got %v", e.State())
	}
	if !e.IsMoving() {
		t.Fatalf("expected IsMoving() true after Move")
	}

	// Drive enough ticks at 60Hz to cross 100 units at run speed (70/s).
	ticksNeeded := int(math.Floor(float64(100)/RunSpeed/(1.0/60.0))) + 5
	for i := 0; i < ticksNeeded; i++ {
		clock.advance(time.Second / 60)
		e.Tick(time.Second / 60)
	}

	if e.IsMoving() {
		x, y, z, _ := e.Position()
		t.Fatalf("expected movement to complete, still moving at (%v,%v,%v)", x, y, z)
	}
	x, _, _, _ := e.Position()
	if math.Abs(float64(x-100)) > 1 {
		t.Fatalf("final x = %v, want ~100", x)
	}
}

func TestStopClearsStateAndForcesUpdate(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	em := entity.NewModel()
	em.InsertOrReplace(entity.Entity{SpawnID: 1})
	e := NewEngine(pathfind.NewNullFinder(), nil, em, WithClock(clock.now))
	e.SetSpawnID(1)
	e.Move(50, 0, 0)
	clock.advance(2 * time.Second)
	e.Tick(time.Millisecond)

	e.Stop()
	if e.IsMoving() {
		t.Fatalf("expected IsMoving() false after Stop")
	}

	clock.advance(time.Millisecond)
	res := e.Tick(time.Millisecond)
	if res.PositionUpdate == nil {
		t.Fatalf("expected Stop to force a position update on the next tick")
	}
}

func TestFollowRecomputesOnDrift(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	em := entity.NewModel()
	em.InsertOrReplace(entity.Entity{SpawnID: 1})
	em.InsertOrReplace(entity.Entity{SpawnID: 2, Name: "Target", X: 100, Y: 100, Z: 0})

	e := NewEngine(pathfind.NewNullFinder(), nil, em, WithClock(clock.now))
	e.SetSpawnID(1)
	e.SetPosition(0, 0, 0, 0)

	if _, ok := e.Follow("Target"); !ok {
		t.Fatalf("expected to resolve follow target")
	}
	if e.FollowName() == "" {
		t.Fatalf("expected follow name to be set")
	}
	if e.State() != FollowingEntity {
		t.Fatalf("State() = %v, want FollowingEntity", e.State())
	}

	// Drive a few ticks; the null pathfinder gives a direct path so the
	// player moves toward the target's original position.
	for i := 0; i < 30; i++ {
		clock.advance(time.Second / 60)
		e.Tick(time.Second / 60)
	}

	// Target moves away; next tick should recompute rather than keep
	// heading for the stale point.
	em.InsertOrReplace(entity.Entity{SpawnID: 2, Name: "Target", X: 100, Y: 150, Z: 0})
	clock.advance(time.Second / 60)
	res := e.Tick(time.Second / 60)
	if !res.PathRecomputed {
		t.Fatalf("expected a path recompute after the target drifted")
	}

	// Once close enough, movement stops but follow name remains set
	//.
	e.SetPosition(95, 145, 0, 0)
	clock.advance(time.Second / 60)
	e.Tick(time.Second / 60)
	if e.IsMoving() {
		t.Fatalf("expected movement to stop once within follow-close distance")
	}
	if e.FollowName() == "" {
		t.Fatalf("expected follow name to remain set after stopping near the target")
	}
}

func TestStuckDetectionAdvancesWaypoint(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	em := entity.NewModel()
	em.InsertOrReplace(entity.Entity{SpawnID: 1})
	e := NewEngine(pathfind.NewNullFinder(), nil, em, WithClock(clock.now))
	e.SetSpawnID(1)
	e.SetPosition(0, 0, 0, 0)

	// Manually install a two-waypoint path whose first waypoint can never
	// be reached (simulated obstruction: we never actually move there by
	// freezing position) to exercise the stuck-advance path directly.
	e.movementState = FollowingPath
	e.path = []pathfind.Waypoint{{X: 1000, Y: 1000, Z: 0}, {X: 10, Y: 0, Z: 0}}
	e.pathIndex = 0

	// First call seeds the stuck sample.
	e.advanceWaypoints()
	if e.pathIndex != 0 {
		t.Fatalf("expected no advance on the first sample, pathIndex=%d", e.pathIndex)
	}

	clock.advance(StuckWindow + time.Second)
	e.advanceWaypoints()
	if e.pathIndex != 1 {
		t.Fatalf("expected stuck detection to advance past the unreachable waypoint, pathIndex=%d", e.pathIndex)
	}
}

func TestTerrainZFixAsymptoticCorrection(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	m := buildFlatTerrainMap(t, 10)
	em := entity.NewModel()
	em.InsertOrReplace(entity.Entity{SpawnID: 1})
	e := NewEngine(pathfind.NewNullFinder(), m, em, WithClock(clock.now))
	e.SetSpawnID(1)
	e.SetPosition(0, 0, 8, 0)
	// Disable pathfinding so the target carries no vertical waypoint
	// offset, keeping this test's Z isolated to
	// the fix itself rather than also drifting from horizontal motion.
	e.SetPathfindingEnabled(false)
	e.Move(1000, 0, 8) // keep movementState non-idle so the Z fix applies

	clock.advance(ZFixInterval)
	e.Tick(time.Millisecond)

	_, _, z, _ := e.Position()
	want := float32(8 + 0.3*(10-8))
	if math.Abs(float64(z-want)) > 0.01 {
		t.Fatalf("z after one fix interval = %v, want %v", z, want)
	}

	for i := 0; i < 50; i++ {
		clock.advance(ZFixInterval)
		e.Tick(time.Millisecond)
	}
	_, _, z, _ = e.Position()
	if math.Abs(float64(z-10)) > 0.2 {
		t.Fatalf("z did not converge toward terrain height, got %v", z)
	}
}

func TestPositionUpdateIntervalsIdleVsMoving(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	em := entity.NewModel()
	em.InsertOrReplace(entity.Entity{SpawnID: 1})
	e := NewEngine(pathfind.NewNullFinder(), nil, em, WithClock(clock.now))
	e.SetSpawnID(1)

	// Idle: the very first Tick will not be due immediately since
	// lastPositionUpdate was stamped at construction.
	clock.advance(IdleUpdateInterval - time.Millisecond)
	res := e.Tick(time.Millisecond)
	if res.PositionUpdate != nil {
		t.Fatalf("expected no idle update before the 1500ms interval elapses")
	}
	clock.advance(2 * time.Millisecond)
	res = e.Tick(time.Millisecond)
	if res.PositionUpdate == nil {
		t.Fatalf("expected an idle update once the 1500ms interval elapses")
	}

	e.Move(1000, 0, 0)
	clock.advance(MovingUpdateInterval + time.Millisecond)
	res = e.Tick(time.Second / 60)
	if res.PositionUpdate == nil {
		t.Fatalf("expected a moving update once the 50ms interval elapses")
	}
}

func TestSequenceMonotonic(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	em := entity.NewModel()
	em.InsertOrReplace(entity.Entity{SpawnID: 1})
	e := NewEngine(pathfind.NewNullFinder(), nil, em, WithClock(clock.now))
	e.SetSpawnID(1)
	e.Move(1000, 0, 0)

	var last uint16
	for i := 0; i < 20; i++ {
		clock.advance(MovingUpdateInterval + time.Millisecond)
		res := e.Tick(time.Second / 60)
		if res.PositionUpdate != nil {
			if e.Sequence() <= last {
				t.Fatalf("sequence not monotonic: %d <= %d", e.Sequence(), last)
			}
			last = e.Sequence()
		}
	}
	if last == 0 {
		t.Fatalf("expected at least one position update to have been emitted")
	}
}

func TestEntityRecordTracksEngineScalars(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	em := entity.NewModel()
	em.InsertOrReplace(entity.Entity{SpawnID: 1})
	e := NewEngine(pathfind.NewNullFinder(), nil, em, WithClock(clock.now))
	e.SetSpawnID(1)
	e.Move(1000, 0, 0)

	for i := 0; i < 5; i++ {
		clock.advance(time.Second / 60)
		e.Tick(time.Second / 60)
		x, y, z, heading := e.Position()
		rec, ok := em.Get(1)
		if !ok {
			t.Fatalf("expected self entity to exist")
		}
		if rec.X != x || rec.Y != y || rec.Z != z || rec.Heading != heading {
			t.Fatalf("entity record %+v diverged from engine position (%v,%v,%v,%v)", rec, x, y, z, heading)
		}
	}
}

// buildFlatTerrainMap encodes a minimal V2 map file covering a large flat
// quad at the given Z, for exercising BestZ without a real zone file.
func buildFlatTerrainMap(t *testing.T, z float32) *terrainmap.Map {
	t.Helper()

	var buf []byte
	putU32 := func(v uint32) { var b [4]byte; binary.LittleEndian.PutUint32(b[:], v); buf = append(buf, b[:]...) }
	putF32 := func(v float32) { putU32(math.Float32bits(v)) }

	putU32(0x02000000) // version
	putU32(2)          // face_count
	putU32(4)          // node_count
	putU32(0)           // facelist_count

	verts := [4][3]float32{
		{-1000, -1000, z},
		{1000, -1000, z},
		{1000, 1000, z},
		{-1000, 1000, z},
	}
	for _, v := range verts {
		putF32(v[0])
		putF32(v[1])
		putF32(v[2])
	}

	faces := [2][3]uint32{{0, 1, 2}, {0, 2, 3}}
	for _, f := range faces {
		putU32(f[0])
		putU32(f[1])
		putU32(f[2])
		putU32(0) // flags
	}

	m, err := terrainmap.Load(buf)
	if err != nil {
		t.Fatalf("building flat terrain map: %v", err)
	}
	return m
}
