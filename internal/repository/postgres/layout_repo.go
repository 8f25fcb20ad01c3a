package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dafibh/layouts/layouts-backend/internal/domain"
	"github.com/dafibh/layouts/layouts-backend/internal/util"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the SQLSTATE for unique_violation
const uniqueViolation = "23505"

const layoutColumns = `id, name, permission, creator_user_id, created_at, updated_at, data`

// LayoutRepository implements domain.LayoutRepository using PostgreSQL.
// Every write runs in one transaction holding an advisory lock on the
// namespace, so the name scan and the write cannot interleave with another writer.
type LayoutRepository struct {
	pool  *pgxpool.Pool
	clock util.Clock
}

var (
	_ domain.LayoutRepository = (*LayoutRepository)(nil)
	_ domain.LayoutRestorer   = (*LayoutRepository)(nil)
)

// NewLayoutRepository creates a new LayoutRepository
func NewLayoutRepository(pool *pgxpool.Pool, clock util.Clock) *LayoutRepository {
	if clock == nil {
		clock = util.NewMonotonicClock()
	}
	return &LayoutRepository{
		pool:  pool,
		clock: clock,
	}
}

// ListMetadata returns every layout in the namespace without payloads, in insertion order
func (r *LayoutRepository) ListMetadata(ctx context.Context, namespace string) ([]domain.LayoutMetadata, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, permission, creator_user_id, created_at, updated_at
		FROM layouts
		WHERE namespace = $1
		ORDER BY seq`, namespace)
	if err != nil {
		return nil, fmt.Errorf("list layouts: %w", err)
	}
	defer rows.Close()

	result := []domain.LayoutMetadata{}
	for rows.Next() {
		var meta domain.LayoutMetadata
		var permission string
		if err := rows.Scan(&meta.ID, &meta.Name, &permission, &meta.CreatorUserID, &meta.CreatedAt, &meta.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan layout metadata: %w", err)
		}
		meta.Permission = domain.Permission(permission)
		result = append(result, normalizeMetadata(meta))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list layouts: %w", err)
	}
	return result, nil
}

// Get returns the layout or nil if it does not exist
func (r *LayoutRepository) Get(ctx context.Context, namespace string, id uuid.UUID) (*domain.Layout, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+layoutColumns+` FROM layouts WHERE namespace = $1 AND id = $2`, namespace, id)
	layout, err := scanLayout(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get layout: %w", err)
	}
	return layout, nil
}

// Create stores a new private layout unless the name is taken in the private partition
func (r *LayoutRepository) Create(ctx context.Context, namespace string, input domain.NewLayout) (domain.WriteResult, error) {
	return r.inNamespaceTx(ctx, namespace, func(tx pgx.Tx) (domain.WriteResult, error) {
		taken, err := nameTaken(ctx, tx, namespace, uuid.Nil, input.Name, domain.PermissionCreatorWrite)
		if err != nil {
			return domain.WriteResult{}, err
		}
		if taken {
			return domain.Conflicted(), nil
		}

		now := r.clock.Now()
		layout := &domain.Layout{
			LayoutMetadata: domain.LayoutMetadata{
				ID:            uuid.New(),
				Name:          input.Name,
				Permission:    domain.PermissionCreatorWrite,
				CreatorUserID: input.CreatorUserID,
				CreatedAt:     now,
				UpdatedAt:     now,
			},
			Data: input.Data,
		}
		if err := insertLayout(ctx, tx, namespace, layout); err != nil {
			return domain.WriteResult{}, err
		}
		return domain.Succeeded(layout.LayoutMetadata), nil
	})
}

// Update replaces a layout's payload and optionally its name.
// Checks run in order: existence, name uniqueness, then the version token.
func (r *LayoutRepository) Update(ctx context.Context, namespace string, input domain.LayoutUpdate) (domain.WriteResult, error) {
	return r.inNamespaceTx(ctx, namespace, func(tx pgx.Tx) (domain.WriteResult, error) {
		target, err := getForUpdate(ctx, tx, namespace, input.ID)
		if err != nil {
			return domain.WriteResult{}, err
		}
		if target == nil {
			return domain.Conflicted(), nil
		}

		name := target.Name
		if input.Name != nil {
			name = *input.Name
		}
		taken, err := nameTaken(ctx, tx, namespace, target.ID, name, target.Permission)
		if err != nil {
			return domain.WriteResult{}, err
		}
		if taken {
			return domain.Conflicted(), nil
		}
		if !target.UpdatedAt.Equal(input.IfUnmodifiedSince) {
			return domain.PreconditionFailed(), nil
		}

		updatedAt := r.clock.After(target.UpdatedAt)
		_, err = tx.Exec(ctx, `
			UPDATE layouts SET name = $3, data = $4::json, updated_at = $5
			WHERE namespace = $1 AND id = $2`,
			namespace, target.ID, name, string(input.Data), updatedAt)
		if err != nil {
			return domain.WriteResult{}, fmt.Errorf("update layout: %w", err)
		}

		meta := target.LayoutMetadata
		meta.Name = name
		meta.UpdatedAt = updatedAt
		return domain.Succeeded(meta), nil
	})
}

// Rename changes a layout's name, keeping its payload
func (r *LayoutRepository) Rename(ctx context.Context, namespace string, input domain.LayoutRename) (domain.WriteResult, error) {
	return r.inNamespaceTx(ctx, namespace, func(tx pgx.Tx) (domain.WriteResult, error) {
		target, err := getForUpdate(ctx, tx, namespace, input.ID)
		if err != nil {
			return domain.WriteResult{}, err
		}
		if target == nil {
			return domain.Conflicted(), nil
		}
		taken, err := nameTaken(ctx, tx, namespace, target.ID, input.Name, target.Permission)
		if err != nil {
			return domain.WriteResult{}, err
		}
		if taken {
			return domain.Conflicted(), nil
		}
		if !target.UpdatedAt.Equal(input.IfUnmodifiedSince) {
			return domain.PreconditionFailed(), nil
		}

		updatedAt := r.clock.After(target.UpdatedAt)
		_, err = tx.Exec(ctx, `
			UPDATE layouts SET name = $3, updated_at = $4
			WHERE namespace = $1 AND id = $2`,
			namespace, target.ID, input.Name, updatedAt)
		if err != nil {
			return domain.WriteResult{}, fmt.Errorf("rename layout: %w", err)
		}

		meta := target.LayoutMetadata
		meta.Name = input.Name
		meta.UpdatedAt = updatedAt
		return domain.Succeeded(meta), nil
	})
}

// Delete removes a layout. Deleting a layout that is already gone succeeds.
func (r *LayoutRepository) Delete(ctx context.Context, namespace string, id uuid.UUID, ifUnmodifiedSince time.Time) (domain.WriteResult, error) {
	return r.inNamespaceTx(ctx, namespace, func(tx pgx.Tx) (domain.WriteResult, error) {
		target, err := getForUpdate(ctx, tx, namespace, id)
		if err != nil {
			return domain.WriteResult{}, err
		}
		if target == nil {
			return domain.WriteResult{Status: domain.WriteStatusSuccess}, nil
		}
		if !target.UpdatedAt.Equal(ifUnmodifiedSince) {
			return domain.PreconditionFailed(), nil
		}

		if _, err := tx.Exec(ctx, `DELETE FROM layouts WHERE namespace = $1 AND id = $2`, namespace, id); err != nil {
			return domain.WriteResult{}, fmt.Errorf("delete layout: %w", err)
		}
		return domain.WriteResult{Status: domain.WriteStatusSuccess}, nil
	})
}

// Share copies a layout into the shared partition under a new id.
// The name must not belong to a private layout other than the source, nor to
// any shared layout.
func (r *LayoutRepository) Share(ctx context.Context, namespace string, input domain.LayoutShare) (domain.WriteResult, error) {
	return r.inNamespaceTx(ctx, namespace, func(tx pgx.Tx) (domain.WriteResult, error) {
		source, err := getForUpdate(ctx, tx, namespace, input.SourceID)
		if err != nil {
			return domain.WriteResult{}, err
		}
		if source == nil {
			return domain.Conflicted(), nil
		}

		taken, err := nameTaken(ctx, tx, namespace, source.ID, input.Name, domain.PermissionCreatorWrite)
		if err != nil {
			return domain.WriteResult{}, err
		}
		if !taken {
			taken, err = nameTaken(ctx, tx, namespace, uuid.Nil, input.Name, input.Permission)
			if err != nil {
				return domain.WriteResult{}, err
			}
		}
		if taken {
			return domain.Conflicted(), nil
		}

		now := r.clock.Now()
		layout := &domain.Layout{
			LayoutMetadata: domain.LayoutMetadata{
				ID:            uuid.New(),
				Name:          input.Name,
				Permission:    input.Permission,
				CreatorUserID: input.CreatorUserID,
				CreatedAt:     now,
				UpdatedAt:     now,
			},
			Data: source.Data,
		}
		if err := insertLayout(ctx, tx, namespace, layout); err != nil {
			return domain.WriteResult{}, err
		}
		return domain.Succeeded(layout.LayoutMetadata), nil
	})
}

// Restore inserts snapshot layouts, replacing any namespace the snapshot names
func (r *LayoutRepository) Restore(ctx context.Context, snapshot domain.LayoutSnapshot) error {
	if err := snapshot.Validate(); err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin restore: %w", err)
	}
	defer tx.Rollback(ctx)

	for namespace, layouts := range snapshot {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, namespace); err != nil {
			return fmt.Errorf("lock namespace: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM layouts WHERE namespace = $1`, namespace); err != nil {
			return fmt.Errorf("clear namespace: %w", err)
		}
		for _, layout := range layouts {
			if err := insertLayout(ctx, tx, namespace, layout); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit restore: %w", err)
	}
	return nil
}

// inNamespaceTx runs fn in a transaction serialized against other writers of
// the same namespace. A unique violation raised by a concurrent writer outside
// the lock (e.g. a restore) is reported as a conflict.
func (r *LayoutRepository) inNamespaceTx(ctx context.Context, namespace string, fn func(tx pgx.Tx) (domain.WriteResult, error)) (domain.WriteResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.WriteResult{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, namespace); err != nil {
		return domain.WriteResult{}, fmt.Errorf("lock namespace: %w", err)
	}

	result, err := fn(tx)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflicted(), nil
		}
		return domain.WriteResult{}, err
	}
	if !result.OK() {
		return result, nil
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return domain.Conflicted(), nil
		}
		return domain.WriteResult{}, fmt.Errorf("commit transaction: %w", err)
	}
	return result, nil
}

// Helper functions

func getForUpdate(ctx context.Context, tx pgx.Tx, namespace string, id uuid.UUID) (*domain.Layout, error) {
	row := tx.QueryRow(ctx, `SELECT `+layoutColumns+` FROM layouts WHERE namespace = $1 AND id = $2 FOR UPDATE`, namespace, id)
	layout, err := scanLayout(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load layout: %w", err)
	}
	return layout, nil
}

// nameTaken reports whether a layout other than exclude holds name in the
// visibility partition of permission
func nameTaken(ctx context.Context, tx pgx.Tx, namespace string, exclude uuid.UUID, name string, permission domain.Permission) (bool, error) {
	var taken bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM layouts
			WHERE namespace = $1
			  AND name = $2
			  AND (permission = 'creator_write') = $3
			  AND id <> $4
		)`, namespace, name, permission.IsPrivate(), exclude).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check layout name: %w", err)
	}
	return taken, nil
}

func insertLayout(ctx context.Context, tx pgx.Tx, namespace string, layout *domain.Layout) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO layouts (id, namespace, name, permission, creator_user_id, created_at, updated_at, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::json)`,
		layout.ID, namespace, layout.Name, string(layout.Permission), layout.CreatorUserID,
		layout.CreatedAt, layout.UpdatedAt, string(layout.Data))
	if err != nil {
		return fmt.Errorf("insert layout: %w", err)
	}
	return nil
}

func scanLayout(row pgx.Row) (*domain.Layout, error) {
	var layout domain.Layout
	var permission string
	var data []byte
	err := row.Scan(
		&layout.ID,
		&layout.Name,
		&permission,
		&layout.CreatorUserID,
		&layout.CreatedAt,
		&layout.UpdatedAt,
		&data,
	)
	if err != nil {
		return nil, err
	}
	layout.Permission = domain.Permission(permission)
	layout.Data = data
	layout.LayoutMetadata = normalizeMetadata(layout.LayoutMetadata)
	return &layout, nil
}

// normalizeMetadata returns timestamps in UTC; pgx yields them in the local zone
func normalizeMetadata(meta domain.LayoutMetadata) domain.LayoutMetadata {
	meta.CreatedAt = meta.CreatedAt.UTC()
	meta.UpdatedAt = meta.UpdatedAt.UTC()
	return meta
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
