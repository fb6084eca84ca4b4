package postgres

import (
	"context"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/pgvector/pgvector-go"
)

// EmployeeRepository reads the roster and stores precomputed descriptors.
type EmployeeRepository struct {
	pool *Pool
}

// NewEmployeeRepository creates a new PostgreSQL employee repository.
func NewEmployeeRepository(pool *Pool) *EmployeeRepository {
	return &EmployeeRepository{pool: pool}
}

// ListEmployees returns every employee ordered by ID.
func (r *EmployeeRepository) ListEmployees(ctx context.Context) ([]database.Employee, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, COALESCE(avatar_path, '')
		FROM employees
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query employees: %w", err)
	}
	defer rows.Close()

	var employees []database.Employee
	for rows.Next() {
		var e database.Employee
		if err := rows.Scan(&e.ID, &e.Name, &e.AvatarPath); err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		employees = append(employees, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate employees: %w", err)
	}
	return employees, nil
}

// ListRoster returns employees usable for the gallery: those with an
// avatar or at least one descriptor, with descriptors attached.
func (r *EmployeeRepository) ListRoster(ctx context.Context) ([]database.Employee, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT e.id, e.name, COALESCE(e.avatar_path, '')
		FROM employees e
		WHERE COALESCE(e.avatar_path, '') <> ''
		   OR EXISTS (SELECT 1 FROM face_descriptors d WHERE d.employee_id = e.id)
		ORDER BY e.id
	`)
	if err != nil {
		return nil, fmt.Errorf("query roster: %w", err)
	}
	defer rows.Close()

	var employees []database.Employee
	index := make(map[int64]int)
	for rows.Next() {
		var e database.Employee
		if err := rows.Scan(&e.ID, &e.Name, &e.AvatarPath); err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		index[e.ID] = len(employees)
		employees = append(employees, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roster: %w", err)
	}

	descriptors, err := r.listDescriptors(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range descriptors {
		if i, ok := index[d.EmployeeID]; ok {
			employees[i].Descriptors = append(employees[i].Descriptors, d)
		}
	}
	return employees, nil
}

func (r *EmployeeRepository) listDescriptors(ctx context.Context) ([]database.StoredDescriptor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, employee_id, source, embedding, created_at
		FROM face_descriptors
		ORDER BY employee_id, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query descriptors: %w", err)
	}
	defer rows.Close()

	var out []database.StoredDescriptor
	for rows.Next() {
		var d database.StoredDescriptor
		var vec pgvector.Vector
		if err := rows.Scan(&d.ID, &d.EmployeeID, &d.Source, &vec, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan descriptor: %w", err)
		}
		d.Embedding = vec.Slice()
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate descriptors: %w", err)
	}
	return out, nil
}

// SaveDescriptors replaces all descriptors of an employee in one transaction.
func (r *EmployeeRepository) SaveDescriptors(ctx context.Context, employeeID int64, descriptors []database.StoredDescriptor) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM face_descriptors WHERE employee_id = $1", employeeID); err != nil {
		return fmt.Errorf("delete descriptors: %w", err)
	}

	for _, d := range descriptors {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO face_descriptors (employee_id, source, embedding)
			VALUES ($1, $2, $3)
		`, employeeID, d.Source, pgvector.NewVector(d.Embedding))
		if err != nil {
			return fmt.Errorf("insert descriptor %s: %w", d.Source, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit descriptors: %w", err)
	}
	return nil
}
