package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"github.com/noah-isme/gema-sync/internal/models"
)

var (
	// ErrUnknownResource indicates the resource is not on the mutation whitelist.
	ErrUnknownResource = errors.New("unknown resource")
	// ErrUnknownColumn indicates a record referenced a column the resource does not have.
	ErrUnknownColumn = errors.New("unknown column")
)

// IdempotencyColumn is the unique column insert writes deduplicate on.
const IdempotencyColumn = "idempotency_key"

// MutationRepository performs the per-resource writes queued actions replay.
type MutationRepository interface {
	Insert(ctx context.Context, resource string, record map[string]any) error
	Update(ctx context.Context, resource, id string, fields map[string]any) error
	Upsert(ctx context.Context, resource string, records []map[string]any, conflictColumns []string) error
	Resources() []string
}

type mutationResource struct {
	table   string
	columns map[string]struct{}
}

type mutationRepository struct {
	db        *gorm.DB
	resources map[string]mutationResource
	now       func() time.Time
}

// MutationModels lists the tables writable through the mutation repository.
func MutationModels() []any {
	return []any{
		&models.Attendance{},
		&models.Grade{},
		&models.ExamResult{},
		&models.Message{},
		&models.Payment{},
	}
}

// MigrateMutationTables creates the whitelisted tables. Production schemas are
// owned by the central backend; this is used for local development and tests.
func MigrateMutationTables(db *gorm.DB) error {
	return db.AutoMigrate(MutationModels()...)
}

// NewMutationRepository constructs a repository whose whitelist is derived from the
// GORM schema of MutationModels.
func NewMutationRepository(db *gorm.DB) (MutationRepository, error) {
	cache := &sync.Map{}
	resources := make(map[string]mutationResource)
	for _, model := range MutationModels() {
		parsed, err := schema.Parse(model, cache, db.NamingStrategy)
		if err != nil {
			return nil, fmt.Errorf("parse mutation schema: %w", err)
		}
		columns := make(map[string]struct{}, len(parsed.DBNames))
		for _, name := range parsed.DBNames {
			columns[name] = struct{}{}
		}
		resources[parsed.Table] = mutationResource{table: parsed.Table, columns: columns}
	}

	return &mutationRepository{db: db, resources: resources, now: time.Now}, nil
}

func (r *mutationRepository) Resources() []string {
	names := make([]string, 0, len(r.resources))
	for name := range r.resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *mutationRepository) Insert(ctx context.Context, resource string, record map[string]any) error {
	res, err := r.resource(resource)
	if err != nil {
		return err
	}
	row, err := res.filter(record)
	if err != nil {
		return err
	}

	now := r.now().UTC()
	row["created_at"] = now
	row["updated_at"] = now

	query := r.db.WithContext(ctx).Table(res.table)
	if key, ok := row[IdempotencyColumn]; ok && key != nil && key != "" {
		query = query.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: IdempotencyColumn}},
			DoNothing: true,
		})
	}
	return query.Create(row).Error
}

func (r *mutationRepository) Update(ctx context.Context, resource, id string, fields map[string]any) error {
	res, err := r.resource(resource)
	if err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%s: id is required", resource)
	}
	row, err := res.filter(fields)
	if err != nil {
		return err
	}
	delete(row, "id")
	delete(row, "created_at")
	row["updated_at"] = r.now().UTC()

	result := r.db.WithContext(ctx).Table(res.table).Where("id = ?", id).Updates(row)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", resource, id, gorm.ErrRecordNotFound)
	}
	return nil
}

func (r *mutationRepository) Upsert(ctx context.Context, resource string, records []map[string]any, conflictColumns []string) error {
	res, err := r.resource(resource)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if len(conflictColumns) == 0 {
		return fmt.Errorf("%s: upsert requires conflict columns", resource)
	}

	conflict := make([]clause.Column, 0, len(conflictColumns))
	skip := map[string]struct{}{"id": {}, "created_at": {}, IdempotencyColumn: {}}
	for _, column := range conflictColumns {
		if _, ok := res.columns[column]; !ok {
			return fmt.Errorf("%s.%s: %w", resource, column, ErrUnknownColumn)
		}
		conflict = append(conflict, clause.Column{Name: column})
		skip[column] = struct{}{}
	}

	now := r.now().UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, record := range records {
			row, err := res.filter(record)
			if err != nil {
				return err
			}
			row["created_at"] = now
			row["updated_at"] = now

			updates := make([]string, 0, len(row))
			for column := range row {
				if _, ok := skip[column]; !ok {
					updates = append(updates, column)
				}
			}
			sort.Strings(updates)

			if err := tx.Table(res.table).Clauses(clause.OnConflict{
				Columns:   conflict,
				DoUpdates: clause.AssignmentColumns(updates),
			}).Create(row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *mutationRepository) resource(name string) (mutationResource, error) {
	res, ok := r.resources[name]
	if !ok {
		return mutationResource{}, fmt.Errorf("%q: %w", name, ErrUnknownResource)
	}
	return res, nil
}

func (res mutationResource) filter(record map[string]any) (map[string]any, error) {
	row := make(map[string]any, len(record)+2)
	for column, value := range record {
		if _, ok := res.columns[column]; !ok {
			return nil, fmt.Errorf("%s.%s: %w", res.table, column, ErrUnknownColumn)
		}
		row[column] = value
	}
	return row, nil
}
