package gallery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// memStore is an in-memory ImageStore.
type memStore struct {
	images  map[string][]byte
	listErr error
}

func (s *memStore) List(context.Context) ([]string, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	keys := make([]string, 0, len(s.images))
	for k := range s.images {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

func (s *memStore) Fetch(_ context.Context, key string) ([]byte, error) {
	data, ok := s.images[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrImageNotFound, key)
	}
	return data, nil
}

// fakeDetector maps image content to an embedding. Content "noface"
// yields no detection and "error" yields an error.
type fakeDetector struct {
	mu       sync.Mutex
	calls    []string
	minScore float64
}

func (d *fakeDetector) Detect(_ context.Context, data []byte, minScore float64) (*facematch.Detection, error) {
	d.mu.Lock()
	d.calls = append(d.calls, string(data))
	d.minScore = minScore
	d.mu.Unlock()

	switch string(data) {
	case "noface":
		return nil, nil
	case "error":
		return nil, errors.New("engine unavailable")
	}
	var v float32
	for _, b := range data {
		v += float32(b)
	}
	return &facematch.Detection{Score: 0.9, Embedding: []float32{v, 0}}, nil
}

func TestBuild(t *testing.T) {
	store := mock.NewMockStore()
	store.AddEmployee(database.Employee{
		ID: 1, Name: "Alice",
		Descriptors: []database.StoredDescriptor{{Source: "alice.jpg", Embedding: []float32{0.1, 0.2}}},
	})
	store.AddEmployee(database.Employee{ID: 2, Name: "Jiří Novák", AvatarPath: "avatars/2.jpg"})
	store.AddEmployee(database.Employee{ID: 3, Name: "Carol", AvatarPath: "avatars/3.jpg"})
	store.AddEmployee(database.Employee{ID: 4, Name: "Dave", AvatarPath: "avatars/missing.jpg"})
	store.AddEmployee(database.Employee{ID: 5, Name: "Nobody"})

	images := &memStore{images: map[string][]byte{
		"avatars/2.jpg":          []byte("a"),
		"extra/jiri_novak-2.jpg": []byte("b"),
		"extra/someone.jpg":      []byte("c"),
		"avatars/3.jpg":          []byte("noface"),
	}}
	det := &fakeDetector{}

	var progress int
	var mu sync.Mutex
	b := NewBuilder(store, images, det, 0.5)
	b.OnProgress = func() {
		mu.Lock()
		progress++
		mu.Unlock()
	}

	g, report, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if g.Len() != 2 {
		t.Fatalf("gallery Len() = %d, want 2", g.Len())
	}
	ids := g.Identities()
	if ids[0].EmployeeID != 1 || ids[1].EmployeeID != 2 {
		t.Errorf("gallery order = %d, %d", ids[0].EmployeeID, ids[1].EmployeeID)
	}
	if len(ids[1].Descriptors) != 2 {
		t.Errorf("Jiří descriptors = %d, want avatar and extra image", len(ids[1].Descriptors))
	}

	if report.Loaded != 2 || report.Precomputed != 1 || report.Computed != 1 || report.Descriptors != 3 {
		t.Errorf("report = %+v", report)
	}
	var skipped []int64
	for _, s := range report.Skipped {
		skipped = append(skipped, s.EmployeeID)
	}
	// Employee 5 has neither avatar nor descriptors, so the roster omits it.
	if !slices.Equal(skipped, []int64{3, 4}) {
		t.Errorf("skipped = %v, want [3 4]", skipped)
	}
	if progress != 4 {
		t.Errorf("progress calls = %d, want 4", progress)
	}
	if det.minScore != 0.5 {
		t.Errorf("detector minScore = %v, want 0.5", det.minScore)
	}
}

func TestBuild_RosterFailure(t *testing.T) {
	store := mock.NewMockStore()
	store.ListRosterError = errors.New("connection refused")

	_, _, err := NewBuilder(store, nil, nil, 0.5).Build(context.Background())
	if err == nil {
		t.Fatal("expected roster error")
	}
}

func TestBuild_ListFailureUsesAvatars(t *testing.T) {
	store := mock.NewMockStore()
	store.AddEmployee(database.Employee{ID: 1, Name: "Alice", AvatarPath: "alice.jpg"})
	images := &memStore{
		images:  map[string][]byte{"alice.jpg": []byte("x")},
		listErr: errors.New("forbidden"),
	}

	g, report, err := NewBuilder(store, images, &fakeDetector{}, 0.5).Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if g.Len() != 1 || report.Computed != 1 {
		t.Errorf("Len() = %d, report = %+v", g.Len(), report)
	}
}

func TestBuild_DetectorError(t *testing.T) {
	store := mock.NewMockStore()
	store.AddEmployee(database.Employee{ID: 1, Name: "Alice", AvatarPath: "alice.jpg"})
	images := &memStore{images: map[string][]byte{"alice.jpg": []byte("error")}}

	g, report, err := NewBuilder(store, images, &fakeDetector{}, 0.5).Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if g.Len() != 0 {
		t.Errorf("Len() = %d, want 0", g.Len())
	}
	if len(report.Skipped) != 1 || report.Skipped[0].Reason != "engine unavailable" {
		t.Errorf("skipped = %+v", report.Skipped)
	}
}

func TestReferenceKeys(t *testing.T) {
	keys := []string{"a/jan-novak.jpg", "b/Jan_Novak_2.png", "c/jana.jpg", "avatar.jpg"}
	got := ReferenceKeys(database.Employee{Name: "Jan Novák", AvatarPath: "avatar.jpg"}, keys)
	want := []string{"avatar.jpg", "a/jan-novak.jpg", "b/Jan_Novak_2.png"}
	if !slices.Equal(got, want) {
		t.Errorf("ReferenceKeys() = %v, want %v", got, want)
	}
}

func TestEnroll(t *testing.T) {
	store := mock.NewMockStore()
	store.AddEmployee(database.Employee{
		ID: 1, Name: "Alice", AvatarPath: "alice.jpg",
		Descriptors: []database.StoredDescriptor{{Source: "old", Embedding: []float32{1, 1}}},
	})
	store.AddEmployee(database.Employee{ID: 2, Name: "Bob", AvatarPath: "bob.jpg"})
	store.AddEmployee(database.Employee{ID: 3, Name: "Carol", AvatarPath: "carol.jpg"})
	images := &memStore{images: map[string][]byte{
		"alice.jpg": []byte("a"),
		"bob.jpg":   []byte("b"),
		"carol.jpg": []byte("noface"),
	}}
	b := NewBuilder(store, images, &fakeDetector{}, 0.5)
	ctx := context.Background()

	report, err := b.Enroll(ctx, store, false)
	if err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}
	if report.Enrolled != 1 || report.Unchanged != 1 || len(report.Skipped) != 1 {
		t.Errorf("report = %+v", report)
	}

	roster, _ := store.ListRoster(ctx)
	if len(roster[1].Descriptors) != 1 || roster[1].Descriptors[0].Source != "bob.jpg" {
		t.Errorf("Bob descriptors = %+v", roster[1].Descriptors)
	}

	report, err = b.Enroll(ctx, store, true)
	if err != nil {
		t.Fatalf("Enroll(force) error = %v", err)
	}
	if report.Enrolled != 2 {
		t.Errorf("forced Enrolled = %d, want 2", report.Enrolled)
	}
	roster, _ = store.ListRoster(ctx)
	if roster[0].Descriptors[0].Source != "alice.jpg" {
		t.Errorf("Alice descriptor not replaced: %+v", roster[0].Descriptors)
	}

	store.SaveDescriptorsError = errors.New("read only")
	if _, err := b.Enroll(ctx, store, true); err == nil {
		t.Error("expected store error")
	}
}

func TestFindConflicts(t *testing.T) {
	g := facematch.NewGallery([]facematch.Identity{
		{EmployeeID: 1, Name: "Alice", Descriptors: [][]float32{{0, 0}, {0.05, 0}}},
		{EmployeeID: 2, Name: "Bob", Descriptors: [][]float32{{0.1, 0}}},
		{EmployeeID: 3, Name: "Carol", Descriptors: [][]float32{{5, 5}}},
	})

	conflicts := FindConflicts(g, 0.2)
	if len(conflicts) != 2 {
		t.Fatalf("conflicts = %+v, want 2", conflicts)
	}
	first := conflicts[0]
	if first.A.EmployeeID != 1 || first.A.Index != 1 || first.B.EmployeeID != 2 {
		t.Errorf("closest conflict = %+v", first)
	}
	if first.Distance > conflicts[1].Distance {
		t.Error("conflicts not sorted by distance")
	}
	for _, c := range conflicts {
		if c.A.EmployeeID == c.B.EmployeeID {
			t.Errorf("same-employee pair reported: %+v", c)
		}
		if c.A.EmployeeID == 3 || c.B.EmployeeID == 3 {
			t.Errorf("distant employee reported: %+v", c)
		}
	}

	if got := FindConflicts(facematch.NewGallery(nil), 1); got != nil {
		t.Errorf("empty gallery conflicts = %v", got)
	}
}

func TestDirStore(t *testing.T) {
	dir := t.TempDir()
	mustWrite := func(rel, content string) {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	mustWrite("b.jpg", "b")
	mustWrite("team/a.PNG", "a")
	mustWrite("notes.txt", "ignored")

	s := NewDirStore(dir)
	ctx := context.Background()

	keys, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if !slices.Equal(keys, []string{"b.jpg", "team/a.PNG"}) {
		t.Errorf("List() = %v", keys)
	}

	data, err := s.Fetch(ctx, "team/a.PNG")
	if err != nil || string(data) != "a" {
		t.Errorf("Fetch() = %q, %v", data, err)
	}
	if _, err := s.Fetch(ctx, "missing.jpg"); !errors.Is(err, ErrImageNotFound) {
		t.Errorf("Fetch(missing) error = %v, want ErrImageNotFound", err)
	}
	if _, err := s.Fetch(ctx, "../../etc/passwd"); !errors.Is(err, ErrImageNotFound) {
		t.Errorf("Fetch(escape) error = %v, want ErrImageNotFound", err)
	}
}

func TestHTTPStore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bucket/index.json":
			fmt.Fprint(w, `["z.jpg", "readme.md", "team/jan novak.jpg"]`)
		case "/bucket/team/jan novak.jpg":
			fmt.Fprint(w, "jan")
		case "/bucket/broken.jpg":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	ctx := context.Background()
	s := NewHTTPStore(server.URL+"/bucket/", 0)

	keys, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if !slices.Equal(keys, []string{"team/jan novak.jpg", "z.jpg"}) {
		t.Errorf("List() = %v", keys)
	}

	data, err := s.Fetch(ctx, "team/jan novak.jpg")
	if err != nil || string(data) != "jan" {
		t.Errorf("Fetch() = %q, %v", data, err)
	}
	if _, err := s.Fetch(ctx, "nope.jpg"); !errors.Is(err, ErrImageNotFound) {
		t.Errorf("Fetch(missing) error = %v", err)
	}
	if _, err := s.Fetch(ctx, "broken.jpg"); err == nil || errors.Is(err, ErrImageNotFound) {
		t.Errorf("Fetch(broken) error = %v", err)
	}

	noIndex := NewHTTPStore(server.URL+"/other", 0)
	keys, err = noIndex.List(ctx)
	if err != nil || keys != nil {
		t.Errorf("List() without index = %v, %v", keys, err)
	}
}
