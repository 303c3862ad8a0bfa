package intent

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "state", "intent.db"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": db,
	}
}

func TestIncomingRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			offer := `{"type":"offer","sdp":"v=0"}`
			c1 := `{"candidate":"candidate:1","sdpMid":"0"}`
			c2 := `{"candidate":"candidate:2","sdpMid":"0"}`

			if err := SaveIncoming(s, "alice@example.com", offer, []string{c1}); err != nil {
				t.Fatalf("SaveIncoming failed: %v", err)
			}
			if err := AppendCandidate(s, c2); err != nil {
				t.Fatalf("AppendCandidate failed: %v", err)
			}

			got, err := Load(s)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			want := Intent{
				Target:     "alice@example.com",
				Initiator:  false,
				Offer:      offer,
				Candidates: []string{c1, c2},
			}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("Load = %+v, want %+v", got, want)
			}

			raw, _, _ := s.Get(KeyCandidates)
			if raw != "["+c1+","+c2+"]" {
				t.Fatalf("call_candidates = %s, want an array of objects", raw)
			}
		})
	}
}

func TestOutgoingReplacesIncoming(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := SaveIncoming(s, "alice@example.com", `{"type":"offer"}`, []string{`{"candidate":"c"}`}); err != nil {
				t.Fatal(err)
			}
			if err := SaveOutgoing(s, "bob@example.com"); err != nil {
				t.Fatalf("SaveOutgoing failed: %v", err)
			}
			got, err := Load(s)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			want := Intent{Target: "bob@example.com", Initiator: true}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("Load = %+v, want %+v", got, want)
			}
		})
	}
}

func TestClearRemovesAllKeys(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := SaveIncoming(s, "alice@example.com", `{"type":"offer"}`, []string{`{"candidate":"c"}`}); err != nil {
				t.Fatal(err)
			}
			if err := Clear(s); err != nil {
				t.Fatalf("Clear failed: %v", err)
			}
			for _, k := range Keys {
				if _, ok, _ := s.Get(k); ok {
					t.Errorf("%s still present after Clear", k)
				}
			}
			if _, err := Load(s); !errors.Is(err, ErrNoIntent) {
				t.Fatalf("Load after Clear = %v, want ErrNoIntent", err)
			}
			// Clearing twice is harmless.
			if err := Clear(s); err != nil {
				t.Fatalf("second Clear failed: %v", err)
			}
		})
	}
}

func TestRejectsNonJSONCandidate(t *testing.T) {
	s := NewMemoryStore()
	if err := SaveIncoming(s, "alice@example.com", "offer", []string{"not json"}); err == nil {
		t.Fatal("expected error for a non-JSON candidate")
	}
	if _, ok, _ := s.Get(KeyTarget); ok {
		t.Fatal("a rejected save must not write any key")
	}
}

func TestLoadBadInitiator(t *testing.T) {
	s := NewMemoryStore()
	s.Set(map[string]string{KeyTarget: "a@example.com", KeyInitiator: "maybe"})
	if _, err := Load(s); err == nil {
		t.Fatal("expected error for an unparseable call_initiator")
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intent.db")

	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := SaveOutgoing(db, "bob@example.com"); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, err = OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	got, err := Load(db)
	if err != nil {
		t.Fatalf("Load after reopen failed: %v", err)
	}
	if got.Target != "bob@example.com" || !got.Initiator {
		t.Fatalf("Load after reopen = %+v", got)
	}
}
