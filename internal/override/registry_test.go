package override_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxlabel/internal/override"
	"github.com/MrWong99/voxlabel/internal/speaker"
)

// stores is a minimal override.Mappings backed by a map.
type stores struct {
	mu        sync.Mutex
	byID      map[string]*speaker.Store
	discarded []string
}

func newStores() *stores { return &stores{byID: make(map[string]*speaker.Store)} }

func (s *stores) Ensure(tid string) *speaker.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byID[tid]
	if !ok {
		st = speaker.NewStore(tid)
		s.byID[tid] = st
	}
	return st
}

func (s *stores) Discard(tid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byID[tid]
	delete(s.byID, tid)
	s.discarded = append(s.discarded, tid)
	return ok
}

func (s *stores) has(tid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byID[tid]
	return ok
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newRegistry(t *testing.T) (*override.Registry, *stores, *fakeClock) {
	t.Helper()
	m := newStores()
	clk := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return override.NewRegistry(m, override.WithClock(clk.now)), m, clk
}

func find(ms []speaker.Mapping, id string) (speaker.Mapping, bool) {
	for _, m := range ms {
		if m.SpeakerID == id {
			return m, true
		}
	}
	return speaker.Mapping{}, false
}

func TestApplyOverride_SynthesisesBaseline(t *testing.T) {
	t.Parallel()

	r, _, _ := newRegistry(t)

	got, err := r.ApplyOverride("s", "t1", "Speaker 1", "Alice", "Lead")
	if err != nil {
		t.Fatalf("ApplyOverride: unexpected error: %v", err)
	}
	m, ok := find(got, "Speaker 1")
	if !ok || m.Name != "Alice" || m.Role != "Lead" {
		t.Fatalf("ApplyOverride: got %+v, want Alice/Lead", got)
	}
	if m.Provenance != speaker.AutoDetected {
		t.Errorf("Provenance = %v, want AutoDetected", m.Provenance)
	}

	info, ok := r.OverrideInfo("s")
	if !ok {
		t.Fatal("OverrideInfo: session missing")
	}
	if a := info.Actions["Speaker 1"]; a.Original.Name != "Speaker 1" {
		t.Fatalf("Original = %+v, want name Speaker 1", a.Original)
	}

	got, err = r.RevertOverride("s", "Speaker 1")
	if err != nil {
		t.Fatalf("RevertOverride: unexpected error: %v", err)
	}
	if m, _ := find(got, "Speaker 1"); m.Name != "Speaker 1" || m.Role != "" {
		t.Fatalf("after revert: got %+v, want name Speaker 1", m)
	}
	if r.IsOverridden("s", "Speaker 1") {
		t.Fatal("IsOverridden: expected false after revert")
	}
}

func TestApplyOverride_KeepsEarliestOriginal(t *testing.T) {
	t.Parallel()

	r, m, _ := newRegistry(t)
	m.Ensure("t1").Initialize([]string{"Speaker 1"}, []speaker.Mapping{
		{SpeakerID: "Speaker 1", Name: "Bob", Role: "Host"},
	}, "t1")

	if _, err := r.ApplyOverride("s", "t1", "Speaker 1", "Alice", "Lead"); err != nil {
		t.Fatalf("ApplyOverride #1: %v", err)
	}
	if _, err := r.ApplyOverride("s", "t1", "Speaker 1", "Carol", ""); err != nil {
		t.Fatalf("ApplyOverride #2: %v", err)
	}

	info, _ := r.Peek("s")
	if len(info.Actions) != 1 {
		t.Fatalf("Actions: got %d entries, want 1 (latest wins)", len(info.Actions))
	}
	a := info.Actions["Speaker 1"]
	if a.New.Name != "Carol" {
		t.Errorf("New = %+v, want Carol", a.New)
	}
	if a.Original != (speaker.Values{Name: "Bob", Role: "Host"}) {
		t.Errorf("Original = %+v, want Bob/Host", a.Original)
	}

	got, err := r.RevertOverride("s", "Speaker 1")
	if err != nil {
		t.Fatalf("RevertOverride: %v", err)
	}
	if mm, _ := find(got, "Speaker 1"); mm.Name != "Bob" || mm.Role != "Host" {
		t.Fatalf("after revert: got %+v, want Bob/Host", mm)
	}
	if m.Ensure("t1").HasChanges() {
		t.Fatal("HasChanges: expected false after revert to baseline")
	}
}

func TestApplyOverride_Rejects(t *testing.T) {
	t.Parallel()

	r, _, _ := newRegistry(t)

	var ve *speaker.ValidationError
	if _, err := r.ApplyOverride("s", "t1", "Speaker 1", "A", ""); !errors.As(err, &ve) {
		t.Fatalf("short name: expected ValidationError, got %v", err)
	}
	if r.Len() != 0 {
		t.Fatal("rejected override must not create a tracker")
	}
	if _, err := r.ApplyOverride("", "t1", "Speaker 1", "Alice", ""); !errors.Is(err, override.ErrEmptyID) {
		t.Fatalf("empty session: expected ErrEmptyID, got %v", err)
	}

	if _, err := r.ApplyOverride("s", "t1", "Speaker 1", "Alice", ""); err != nil {
		t.Fatalf("ApplyOverride: %v", err)
	}
	if _, err := r.ApplyOverride("s", "t2", "Speaker 1", "Alice", ""); !errors.Is(err, override.ErrTranscriptionMismatch) {
		t.Fatalf("other transcription: expected ErrTranscriptionMismatch, got %v", err)
	}
}

func TestRevertOverride_Errors(t *testing.T) {
	t.Parallel()

	r, _, _ := newRegistry(t)

	if _, err := r.RevertOverride("ghost", "Speaker 1"); !override.IsSessionNotFound(err) {
		t.Fatalf("unknown session: expected SessionNotFoundError, got %v", err)
	}

	_, _ = r.ApplyOverride("s", "t1", "Speaker 1", "Alice", "")
	if _, err := r.RevertOverride("s", "Speaker 9"); !speaker.IsNotFound(err) {
		t.Fatalf("untracked speaker: expected not found, got %v", err)
	}
	if _, err := r.RevertOverride("s", "Speaker 1"); err != nil {
		t.Fatalf("first revert: %v", err)
	}
	if _, err := r.RevertOverride("s", "Speaker 1"); !speaker.IsNotFound(err) {
		t.Fatalf("second revert: expected not found, got %v", err)
	}

	info, _ := r.Peek("s")
	a := info.Actions["Speaker 1"]
	if a.Kind != override.ActionRevert {
		t.Fatalf("Kind = %v, want revert", a.Kind)
	}
	if a.Original.Name != "Alice" || a.New.Name != "Speaker 1" {
		t.Fatalf("revert action = %+v, want Alice -> Speaker 1", a)
	}
}

func TestRevertAll(t *testing.T) {
	t.Parallel()

	r, m, _ := newRegistry(t)
	_, _ = r.ApplyOverride("s", "t1", "Speaker 1", "Alice", "")
	_, _ = r.ApplyOverride("s", "t1", "Speaker 2", "Bob", "")
	_, _ = r.ApplyOverride("s", "t1", "Speaker 3", "Carol", "")
	_, _ = r.RevertOverride("s", "Speaker 3")

	n, err := r.RevertAll("s")
	if err != nil {
		t.Fatalf("RevertAll: unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("RevertAll: reverted %d, want 2", n)
	}
	for _, id := range []string{"Speaker 1", "Speaker 2", "Speaker 3"} {
		if got, _ := m.Ensure("t1").Lookup(id); got.Name != id {
			t.Errorf("%s: Name = %q, want %q", id, got.Name, id)
		}
	}

	if n, err := r.RevertAll("s"); n != 0 || err != nil {
		t.Fatalf("RevertAll again: got (%d, %v), want (0, nil)", n, err)
	}
	if _, err := r.RevertAll("ghost"); !override.IsSessionNotFound(err) {
		t.Fatalf("RevertAll unknown: expected SessionNotFoundError, got %v", err)
	}
}

func TestRevertOverride_RestoresRemovedEntry(t *testing.T) {
	t.Parallel()

	r, m, _ := newRegistry(t)
	st := m.Ensure("t1")
	st.Initialize([]string{"Speaker 1", "Speaker 2"}, nil, "t1")

	_, _ = r.ApplyOverride("s", "t1", "Speaker 2", "Bob", "")
	if err := st.Remove("Speaker 2"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := r.RevertOverride("s", "Speaker 2"); err != nil {
		t.Fatalf("RevertOverride: %v", err)
	}
	if got, ok := st.Lookup("Speaker 2"); !ok || got.Name != "" {
		t.Fatalf("Lookup after revert: got (%+v, %v), want blank entry", got, ok)
	}
}

func TestRevertOverride_RoundTripAcrossOtherSpeakers(t *testing.T) {
	t.Parallel()

	r, m, clk := newRegistry(t)
	st := m.Ensure("t1")
	st.Initialize([]string{"Speaker 1", "Speaker 2", "Speaker 3"}, []speaker.Mapping{
		{SpeakerID: "Speaker 1", Name: "Alice", Role: "Host"},
		{SpeakerID: "Speaker 2", Name: "Bob"},
	}, "t1")
	want := map[string]speaker.Values{}
	for _, mp := range st.Mappings() {
		want[mp.SpeakerID] = mp.Values()
	}

	steps := []struct{ id, name, role string }{
		{"Speaker 1", "Ann", "Guest"},
		{"Speaker 2", "Ben", "Producer"},
		{"Speaker 1", "Anna", ""},
		{"Speaker 3", "Cleo", "Editor"},
	}
	for _, s := range steps {
		clk.advance(time.Second)
		if _, err := r.ApplyOverride("s", "t1", s.id, s.name, s.role); err != nil {
			t.Fatalf("ApplyOverride(%s): %v", s.id, err)
		}
	}

	for _, id := range []string{"Speaker 1", "Speaker 3", "Speaker 2"} {
		if _, err := r.RevertOverride("s", id); err != nil {
			t.Fatalf("RevertOverride(%s): %v", id, err)
		}
		got, ok := st.Lookup(id)
		if !ok {
			t.Fatalf("Lookup(%s): missing after revert", id)
		}
		if got.Values() != want[id] {
			t.Fatalf("Lookup(%s) after revert = %+v, want %+v", id, got.Values(), want[id])
		}
	}
	if st.HasChanges() {
		t.Fatal("HasChanges after reverting everything: want false")
	}
}

func TestClearSession(t *testing.T) {
	t.Parallel()

	r, m, _ := newRegistry(t)
	_, _ = r.ApplyOverride("a", "t1", "Speaker 1", "Alice", "")
	_, _ = r.ApplyOverride("b", "t1", "Speaker 2", "Bob", "")

	if !r.ClearSession("a") {
		t.Fatal("ClearSession(a): want true")
	}
	if !m.has("t1") {
		t.Fatal("t1 mappings must survive while session b still uses them")
	}
	if r.ClearSession("a") {
		t.Fatal("ClearSession(a) again: want false")
	}
	if !r.ClearSession("b") {
		t.Fatal("ClearSession(b): want true")
	}
	if m.has("t1") {
		t.Fatal("t1 mappings must be discarded with the last session")
	}
	if _, ok := r.OverrideInfo("b"); ok {
		t.Fatal("OverrideInfo after clear: want absent")
	}
}

func TestClearSession_SharedTranscriptionRestoresOriginals(t *testing.T) {
	t.Parallel()

	r, m, clk := newRegistry(t)
	st := m.Ensure("t1")
	st.Initialize([]string{"Speaker 1", "Speaker 2"}, nil, "t1")

	if _, err := r.ApplyOverride("a", "t1", "Speaker 1", "Alice", ""); err != nil {
		t.Fatalf("ApplyOverride(a): %v", err)
	}
	if _, err := r.ApplyOverride("b", "t1", "Speaker 2", "Bob", ""); err != nil {
		t.Fatalf("ApplyOverride(b): %v", err)
	}
	r.ClearSession("a")

	got, ok := st.Lookup("Speaker 1")
	if !ok || got.Name != "" || got.Role != "" {
		t.Fatalf("Lookup(Speaker 1) after clear: got (%+v, %v), want original blank entry", got, ok)
	}
	if got, _ := st.Lookup("Speaker 2"); got.Name != "Bob" {
		t.Fatalf("Lookup(Speaker 2): got %q, want Bob", got.Name)
	}
	if _, err := r.RevertOverride("b", "Speaker 2"); err != nil {
		t.Fatalf("RevertOverride(b): %v", err)
	}
	if got, _ := st.Lookup("Speaker 2"); got.Name != "" {
		t.Fatalf("Lookup(Speaker 2) after revert: got %q, want blank", got.Name)
	}

	t.Run("later override inherits the baseline", func(t *testing.T) {
		clk.advance(time.Second)
		_, _ = r.ApplyOverride("c", "t1", "Speaker 1", "Carol", "Host")
		clk.advance(time.Second)
		_, _ = r.ApplyOverride("b", "t1", "Speaker 1", "Dave", "Guest")

		r.ClearSession("c")
		if got, _ := st.Lookup("Speaker 1"); got.Name != "Dave" {
			t.Fatalf("Lookup(Speaker 1): got %q, want the later Dave override kept", got.Name)
		}
		if _, err := r.RevertOverride("b", "Speaker 1"); err != nil {
			t.Fatalf("RevertOverride(b): %v", err)
		}
		if got, _ := st.Lookup("Speaker 1"); got.Name != "" || got.Role != "" {
			t.Fatalf("Lookup(Speaker 1) after revert: got %+v, want the pre-override blank", got.Values())
		}
	})

	t.Run("earlier override is restored to", func(t *testing.T) {
		clk.advance(time.Second)
		_, _ = r.ApplyOverride("b", "t1", "Speaker 2", "Bob", "")
		clk.advance(time.Second)
		_, _ = r.ApplyOverride("d", "t1", "Speaker 2", "Erin", "")

		r.ClearSession("d")
		if got, _ := st.Lookup("Speaker 2"); got.Name != "Bob" {
			t.Fatalf("Lookup(Speaker 2): got %q, want Bob restored", got.Name)
		}
	})

	r.ClearSession("b")
	if m.has("t1") {
		t.Fatal("t1 mappings must be discarded with the last session")
	}
	if m.Ensure("t1").HasChanges() {
		t.Fatal("HasChanges after the last session cleared: want false")
	}
}

func TestClearSessionIf(t *testing.T) {
	t.Parallel()

	r, _, _ := newRegistry(t)
	_, _ = r.ApplyOverride("s", "t1", "Speaker 1", "Alice", "")

	if r.ClearSessionIf("s", func(override.Tracker) bool { return false }) {
		t.Fatal("ClearSessionIf with false predicate: want false")
	}
	if r.Len() != 1 {
		t.Fatal("session must survive a false predicate")
	}
	if !r.ClearSessionIf("s", func(tr override.Tracker) bool { return tr.OverrideCount() == 1 }) {
		t.Fatal("ClearSessionIf with true predicate: want true")
	}
}

func TestActivity(t *testing.T) {
	t.Parallel()

	r, _, clk := newRegistry(t)
	_, _ = r.ApplyOverride("s", "t1", "Speaker 1", "Alice", "")
	started := clk.now()

	clk.advance(time.Minute)
	if info, _ := r.Peek("s"); !info.LastActivity.Equal(started) {
		t.Fatalf("Peek bumped activity: %v", info.LastActivity)
	}
	info, _ := r.OverrideInfo("s")
	if !info.LastActivity.Equal(started.Add(time.Minute)) {
		t.Fatalf("OverrideInfo: LastActivity = %v, want %v", info.LastActivity, started.Add(time.Minute))
	}
	if !info.SessionStarted.Equal(started) {
		t.Fatalf("SessionStarted = %v, want %v", info.SessionStarted, started)
	}

	info.Actions["Speaker 9"] = override.Action{}
	if again, _ := r.Peek("s"); len(again.Actions) != 1 {
		t.Fatal("OverrideInfo must return a copy")
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	t.Parallel()

	r, _, _ := newRegistry(t)
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := []string{"Speaker 1", "Speaker 2"}[i%2]
			_, _ = r.ApplyOverride("s", "t1", id, "Alice", "")
			_, _ = r.RevertOverride("s", id)
			_ = r.Sessions()
		}()
	}
	wg.Wait()

	if got := r.Sessions(); len(got) != 1 {
		t.Fatalf("Sessions: got %d, want 1", len(got))
	}
}
