package entity

import "testing"

func TestFindByNamePrefix(t *testing.T) {
	tests := map[string]struct {
		entities []Entity
		query    string
		expFound bool
		expID    uint32
	}{
		"exact match": {
			entities: []Entity{{SpawnID: 1, Name: "Fippy_Darkpaw"}},
			query:    "fippy_darkpaw",
			expFound: true,
			expID:    1,
		},
		"prefix with space treated as underscore": {
			entities: []Entity{{SpawnID: 1, Name: "Fippy_Darkpaw"}},
			query:    "fippy dark",
			expFound: true,
			expID:    1,
		},
		"longest match wins": {
			entities: []Entity{
				{SpawnID: 1, Name: "Fip"},
				{SpawnID: 2, Name: "Fippy_Darkpaw"},
			},
			query:    "fip",
			expFound: true,
			expID:    2,
		},
		"tie breaks on lowest spawn id": {
			entities: []Entity{
				{SpawnID: 5, Name: "Guard"},
				{SpawnID: 2, Name: "Guard"},
			},
			query:    "guard",
			expFound: true,
			expID:    2,
		},
		"no match": {
			entities: []Entity{{SpawnID: 1, Name: "Fippy_Darkpaw"}},
			query:    "zzz",
			expFound: false,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			m := NewModel()
			for _, e := range tc.entities {
				m.InsertOrReplace(e)
			}

			got, ok := m.FindByNamePrefix(tc.query)
			if ok != tc.expFound {
				t.Fatalf("found = %v, want %v", ok, tc.expFound)
			}
			if ok && got.SpawnID != tc.expID {
				t.Fatalf("spawn id = %d, want %d", got.SpawnID, tc.expID)
			}
		})
	}
}

func TestUpdatePositionIgnoresUnknownSpawn(t *testing.T) {
	m := NewModel()
	m.UpdatePosition(99, PositionUpdate{X: 1, Y: 2, Z: 3})
	if m.Len() != 0 {
		t.Fatalf("expected no entity to be created for an unknown spawn id, got %d", m.Len())
	}
}

func TestUpdatePositionMutatesInPlace(t *testing.T) {
	m := NewModel()
	m.InsertOrReplace(Entity{SpawnID: 42, Name: "Self", HPPercent: 100})
	m.UpdatePosition(42, PositionUpdate{X: 10, Y: 20, Z: 30, Heading: 90})

	e, ok := m.Get(42)
	if !ok {
		t.Fatalf("expected entity 42 to still exist")
	}
	if e.X != 10 || e.Y != 20 || e.Z != 30 || e.Heading != 90 {
		t.Fatalf("position not updated: %+v", e)
	}
	if e.HPPercent != 100 {
		t.Fatalf("unrelated field HPPercent clobbered: %+v", e)
	}
}

func TestEnumerateNearOrdersByDistance(t *testing.T) {
	m := NewModel()
	m.InsertOrReplace(Entity{SpawnID: 1, Name: "Far", X: 100, Y: 0, Z: 0})
	m.InsertOrReplace(Entity{SpawnID: 2, Name: "Near", X: 1, Y: 0, Z: 0})
	m.InsertOrReplace(Entity{SpawnID: 3, Name: "Mid", X: 10, Y: 0, Z: 0})

	near := m.EnumerateNear([3]float32{0, 0, 0}, nil)
	if len(near) != 3 {
		t.Fatalf("expected 3 results, got %d", len(near))
	}
	if near[0].Entity.SpawnID != 2 || near[1].Entity.SpawnID != 3 || near[2].Entity.SpawnID != 1 {
		t.Fatalf("not ordered by distance: %+v", near)
	}
}

func TestHPManaDeadMutateExistingOnly(t *testing.T) {
	m := NewModel()
	m.UpdateHPPercent(1, 50)
	m.UpdateMana(1, 10, 20)
	m.MarkDead(1)
	if m.Len() != 0 {
		t.Fatalf("mutators on an unknown spawn id must not create a record, got %d entities", m.Len())
	}

	m.InsertOrReplace(Entity{SpawnID: 1, Name: "Self", HPPercent: 100})
	m.UpdateHPPercent(1, 50)
	m.UpdateMana(1, 10, 20)
	e, _ := m.Get(1)
	if e.HPPercent != 50 || e.CurrentMana != 10 || e.MaxMana != 20 {
		t.Fatalf("mutators did not apply: %+v", e)
	}

	m.MarkDead(1)
	e, _ = m.Get(1)
	if e.HPPercent != 0 {
		t.Fatalf("MarkDead should zero HPPercent, got %+v", e)
	}
}
