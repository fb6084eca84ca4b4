package mock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

func TestMockStore_Roster(t *testing.T) {
	m := NewMockStore()
	m.AddEmployee(database.Employee{ID: 3, Name: "Carol", AvatarPath: "carol.jpg"})
	m.AddEmployee(database.Employee{ID: 1, Name: "Alice"})
	m.AddEmployee(database.Employee{ID: 2, Name: "Bob"})

	ctx := context.Background()
	if err := m.SaveDescriptors(ctx, 2, []database.StoredDescriptor{{Source: "bob.jpg", Embedding: []float32{1}}}); err != nil {
		t.Fatalf("SaveDescriptors() error = %v", err)
	}
	if err := m.SaveDescriptors(ctx, 9, nil); err == nil {
		t.Error("expected error for unknown employee")
	}

	roster, err := m.ListRoster(ctx)
	if err != nil {
		t.Fatalf("ListRoster() error = %v", err)
	}
	if len(roster) != 2 || roster[0].ID != 2 || roster[1].ID != 3 {
		t.Fatalf("ListRoster() = %+v, want Bob then Carol", roster)
	}
	if roster[0].Descriptors[0].EmployeeID != 2 {
		t.Errorf("descriptor EmployeeID = %d, want 2", roster[0].Descriptors[0].EmployeeID)
	}

	all, _ := m.ListEmployees(ctx)
	if len(all) != 3 || all[0].ID != 1 {
		t.Errorf("ListEmployees() = %+v", all)
	}
}

func TestMockStore_InsertAttendance(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	ok, err := m.InsertAttendance(ctx, &database.AttendanceRecord{EmployeeID: 1, Day: "2026-03-02", CheckedAt: at})
	if err != nil || !ok {
		t.Fatalf("first insert = %v, %v", ok, err)
	}
	ok, err = m.InsertAttendance(ctx, &database.AttendanceRecord{EmployeeID: 1, Day: "2026-03-02", CheckedAt: at.Add(time.Hour)})
	if err != nil || ok {
		t.Fatalf("duplicate insert = %v, %v", ok, err)
	}

	rec, err := m.FindAttendance(ctx, 1, at.Add(-time.Hour), at.Add(time.Hour))
	if err != nil || rec == nil {
		t.Fatalf("FindAttendance() = %v, %v", rec, err)
	}
	rec, _ = m.FindAttendance(ctx, 1, at.Add(time.Hour), at.Add(2*time.Hour))
	if rec != nil {
		t.Errorf("FindAttendance() outside range = %+v", rec)
	}
	if m.InsertCalls() != 2 || m.FindCalls() != 2 {
		t.Errorf("calls = %d inserts, %d finds", m.InsertCalls(), m.FindCalls())
	}

	m.InsertError = errors.New("db down")
	if _, err := m.InsertAttendance(ctx, &database.AttendanceRecord{EmployeeID: 2, Day: "2026-03-02"}); err == nil {
		t.Error("expected injected error")
	}
}

func TestMockStore_ConcurrentInsert(t *testing.T) {
	m := NewMockStore()
	m.InsertDelay = 5 * time.Millisecond

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.InsertAttendance(context.Background(), &database.AttendanceRecord{EmployeeID: 7, Day: "2026-03-02"})
			if err != nil {
				t.Errorf("InsertAttendance() error = %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("wins = %d, want 1", wins)
	}
	if n := len(m.Records()); n != 1 {
		t.Errorf("records = %d, want 1", n)
	}
}
