// Package entity is the in-memory world model: a mapping from spawn id to
// entity record, mutated by the protocol driver as spawn/despawn/position/
// health packets arrive. Keyed by spawn_id rather than character id, since
// this module tracks other players/NPCs visible in a zone, not accounts.
package entity

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Entity is the server-visible actor record, including the player's own
// record.
type Entity struct {
	SpawnID uint32
	Name    string

	X, Y, Z float32
	Heading float32

	Level    uint8
	ClassID  uint8
	RaceID   uint32
	Gender   uint8
	GuildID  uint32

	HPPercent  uint8
	CurrentMana uint16
	MaxMana     uint16

	Animation uint16

	DeltaX, DeltaY, DeltaZ float32
	DeltaHeading           float32

	LastUpdateTime time.Time
}

// PositionUpdate is the decoded form of the bit-packed record
// handed to UpdatePosition; its fields mirror internal/wire.Position's by
// name, and callers copy them across field by field.
type PositionUpdate struct {
	X, Y, Z                float32
	Heading                float32
	DeltaX, DeltaY, DeltaZ float32
	DeltaHeading           float32
	Animation              uint16
}

// Model is the spawn_id -> Entity map. All mutators are safe for
// concurrent use, though in practice only the protocol driver's single
// thread writes to it.
type Model struct {
	mu   sync.RWMutex
	byID map[uint32]*Entity
}

func NewModel() *Model {
	return &Model{byID: make(map[uint32]*Entity)}
}

// InsertOrReplace stores e, used for full spawn descriptors.
func (m *Model) InsertOrReplace(e Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := e
	m.byID[e.SpawnID] = &cp
}

// Remove deletes the entity on despawn.
func (m *Model) Remove(spawnID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, spawnID)
}

// Get returns a copy of the entity for spawnID, never a long-lived
// reference into the map.
func (m *Model) Get(spawnID uint32) (Entity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byID[spawnID]
	if !ok {
		return Entity{}, false
	}
	return *e, true
}

// UpdatePosition decodes the bit-packed record and mutates position/
// heading/animation/deltas in place, stamping LastUpdateTime. Unknown
// spawn ids are silently ignored.
func (m *Model) UpdatePosition(spawnID uint32, pos PositionUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[spawnID]
	if !ok {
		return
	}
	e.X, e.Y, e.Z = pos.X, pos.Y, pos.Z
	e.Heading = pos.Heading
	e.Animation = pos.Animation
	e.DeltaX, e.DeltaY, e.DeltaZ = pos.DeltaX, pos.DeltaY, pos.DeltaZ
	e.DeltaHeading = pos.DeltaHeading
	e.LastUpdateTime = time.Now()
}

// UpdateHPPercent mutates an existing record's HP in place; it never
// creates a new record.
func (m *Model) UpdateHPPercent(spawnID uint32, hp uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.byID[spawnID]; ok {
		e.HPPercent = hp
	}
}

func (m *Model) UpdateMana(spawnID uint32, current, max uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.byID[spawnID]; ok {
		e.CurrentMana = current
		e.MaxMana = max
	}
}

func (m *Model) MarkDead(spawnID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.byID[spawnID]; ok {
		e.HPPercent = 0
	}
}

// normalizeQuery lowercases and folds spaces to underscores, matching the
// server's convention for character names in spawn records.
func normalizeQuery(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, " ", "_"))
}

// FindByNamePrefix returns the entity whose name is the longest
// case-insensitive prefix match for query, breaking ties by lowest
// spawn_id.
func (m *Model) FindByNamePrefix(query string) (Entity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q := normalizeQuery(query)
	if q == "" {
		return Entity{}, false
	}

	var best *Entity
	bestLen := -1
	for _, e := range m.byID {
		name := normalizeQuery(e.Name)
		if !strings.HasPrefix(name, q) {
			continue
		}
		switch {
		case len(name) > bestLen:
			bestLen = len(name)
			best = e
		case len(name) == bestLen && best != nil && e.SpawnID < best.SpawnID:
			best = e
		}
	}
	if best == nil {
		return Entity{}, false
	}
	return *best, true
}

// NearbyEntity is one result of EnumerateNear: the entity plus its distance
// from the query origin.
type NearbyEntity struct {
	Entity   Entity
	Distance float32
}

// Filter decides whether an entity should be included in EnumerateNear's
// results.
type Filter func(Entity) bool

// EnumerateNear returns every entity passing filter, ordered nearest-first
// from origin. A nil filter matches everything.
func (m *Model) EnumerateNear(origin [3]float32, filter Filter) []NearbyEntity {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]NearbyEntity, 0, len(m.byID))
	for _, e := range m.byID {
		if filter != nil && !filter(*e) {
			continue
		}
		dx := e.X - origin[0]
		dy := e.Y - origin[1]
		dz := e.Z - origin[2]
		dist := float32(math.Sqrt(float64(dx*dx + dy*dy + dz*dz)))
		out = append(out, NearbyEntity{Entity: *e, Distance: dist})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Entity.SpawnID < out[j].Entity.SpawnID
	})
	return out
}

// Snapshot returns a stable-ordered copy of every entity currently tracked,
// for callers (status view, the `list` command) that need to iterate
// without holding the model's lock while formatting. Supplemented from
// original_source/hc/eq.cpp's Zone::GetActorByID/FindClosestActor helpers,
// which the distilled spec only partially captured.
func (m *Model) Snapshot() []Entity {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entity, 0, len(m.byID))
	for _, e := range m.byID {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SpawnID < out[j].SpawnID })
	return out
}

// Len reports how many entities are tracked.
func (m *Model) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}
