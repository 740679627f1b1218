package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/facepass/internal/database"
)

// Store persists identities and face samples through database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// New creates a store on an open database handle. The caller owns db.
func New(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, dialect: d, now: time.Now}
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) getIdentityBy(ctx context.Context, q queryer, column string, value any) (*database.Identity, error) {
	var (
		identity  database.Identity
		createdAt int64
	)
	query := s.dialect.Rebind("SELECT id, name, created_at FROM identities WHERE " + column + " = ?")
	err := q.QueryRowContext(ctx, query, value).Scan(&identity.ID, &identity.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get identity by %s: %w", column, err)
	}
	identity.CreatedAt = fromMillis(createdAt)
	return &identity, nil
}

// GetIdentity retrieves an identity by id.
func (s *Store) GetIdentity(ctx context.Context, id int64) (*database.Identity, error) {
	return s.getIdentityBy(ctx, s.db, "id", id)
}

// GetIdentityByName retrieves an identity by its exact name.
func (s *Store) GetIdentityByName(ctx context.Context, name string) (*database.Identity, error) {
	return s.getIdentityBy(ctx, s.db, "name", name)
}

// ListIdentities returns all identities with their sample counts.
func (s *Store) ListIdentities(ctx context.Context) ([]database.IdentitySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.name, i.created_at, COUNT(f.id)
		FROM identities i
		LEFT JOIN face_samples f ON f.identity_id = i.id
		GROUP BY i.id, i.name, i.created_at
		ORDER BY i.id
	`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var result []database.IdentitySummary
	for rows.Next() {
		var (
			summary   database.IdentitySummary
			createdAt int64
		)
		if err := rows.Scan(&summary.ID, &summary.Name, &createdAt, &summary.SampleCount); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		summary.CreatedAt = fromMillis(createdAt)
		result = append(result, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return result, nil
}

// ListSampleIDs returns the sample ids of an identity.
func (s *Store) ListSampleIDs(ctx context.Context, identityID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		s.dialect.Rebind("SELECT id FROM face_samples WHERE identity_id = ? ORDER BY id"), identityID)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan sample id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}
	return ids, nil
}

// GetSample retrieves a sample with its image.
func (s *Store) GetSample(ctx context.Context, id int64) (*database.FaceSample, error) {
	var (
		sample    database.FaceSample
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		s.dialect.Rebind("SELECT id, identity_id, image, created_at FROM face_samples WHERE id = ?"), id).
		Scan(&sample.ID, &sample.IdentityID, &sample.Image, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sample: %w", err)
	}
	sample.CreatedAt = fromMillis(createdAt)
	return &sample, nil
}

// LoadAllSamples returns every identity with its samples.
func (s *Store) LoadAllSamples(ctx context.Context) ([]database.IdentitySamples, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.name, i.created_at, f.id, f.image, f.created_at
		FROM identities i
		LEFT JOIN face_samples f ON f.identity_id = i.id
		ORDER BY i.id, f.id
	`)
	if err != nil {
		return nil, fmt.Errorf("load samples: %w", err)
	}
	defer rows.Close()

	var result []database.IdentitySamples
	for rows.Next() {
		var (
			identityID      int64
			name            string
			identityCreated int64
			sampleID        sql.NullInt64
			image           []byte
			sampleCreatedAt sql.NullInt64
		)
		if err := rows.Scan(&identityID, &name, &identityCreated, &sampleID, &image, &sampleCreatedAt); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}

		if len(result) == 0 || result[len(result)-1].Identity.ID != identityID {
			result = append(result, database.IdentitySamples{
				Identity: database.Identity{ID: identityID, Name: name, CreatedAt: fromMillis(identityCreated)},
			})
		}
		if !sampleID.Valid {
			continue
		}
		last := &result[len(result)-1]
		last.Samples = append(last.Samples, database.FaceSample{
			ID:         sampleID.Int64,
			IdentityID: identityID,
			Image:      image,
			CreatedAt:  fromMillis(sampleCreatedAt.Int64),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}
	return result, nil
}

// AddSample appends a sample to the identity with the given name.
func (s *Store) AddSample(ctx context.Context, name string, image []byte) (*database.FaceSample, error) {
	created := s.now()
	params := "?, ?"
	if s.dialect.SelectParams != "" {
		params = s.dialect.SelectParams
	}
	insert := "INSERT INTO face_samples (identity_id, image, created_at) SELECT id, " + params + " FROM identities WHERE name = ?"

	sample := database.FaceSample{Image: image, CreatedAt: fromMillis(toMillis(created))}

	if s.dialect.Returning {
		err := s.db.QueryRowContext(ctx, s.dialect.Rebind(insert+" RETURNING id, identity_id"),
			image, toMillis(created), name).Scan(&sample.ID, &sample.IdentityID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrIdentityNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("insert sample: %w", err)
		}
		return &sample, nil
	}

	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(insert), image, toMillis(created), name)
	if err != nil {
		return nil, fmt.Errorf("insert sample: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("insert sample: %w", err)
	}
	if affected == 0 {
		return nil, database.ErrIdentityNotFound
	}
	if sample.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("insert sample: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, s.dialect.Rebind("SELECT identity_id FROM face_samples WHERE id = ?"),
		sample.ID).Scan(&sample.IdentityID); err != nil {
		return nil, fmt.Errorf("read inserted sample: %w", err)
	}
	return &sample, nil
}

// BeginEnroll opens an enrollment transaction for name.
func (s *Store) BeginEnroll(ctx context.Context, name string) (database.EnrollTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	if s.dialect.LockName != "" {
		if _, err := tx.ExecContext(ctx, s.dialect.Rebind(s.dialect.LockName), name); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("lock identity name: %w", err)
		}
	}

	return &enrollTx{store: s, tx: tx}, nil
}

type enrollTx struct {
	store *Store
	tx    *sql.Tx
	done  bool
}

func (t *enrollTx) GetIdentityByName(ctx context.Context, name string) (*database.Identity, error) {
	return t.store.getIdentityBy(ctx, t.tx, "name", name)
}

func (t *enrollTx) InsertIdentity(ctx context.Context, name string) (*database.Identity, error) {
	identity := database.Identity{Name: name, CreatedAt: fromMillis(toMillis(t.store.now()))}
	d := t.store.dialect
	insert := "INSERT INTO identities (name, created_at) VALUES (?, ?)"

	var err error
	if d.Returning {
		err = t.tx.QueryRowContext(ctx, d.Rebind(insert+" RETURNING id"), name, toMillis(identity.CreatedAt)).
			Scan(&identity.ID)
	} else {
		var res sql.Result
		res, err = t.tx.ExecContext(ctx, d.Rebind(insert), name, toMillis(identity.CreatedAt))
		if err == nil {
			identity.ID, err = res.LastInsertId()
		}
	}
	if err != nil {
		if d.IsUniqueViolation != nil && d.IsUniqueViolation(err) {
			return nil, database.ErrDuplicateIdentity
		}
		return nil, fmt.Errorf("insert identity: %w", err)
	}
	return &identity, nil
}

func (t *enrollTx) InsertSample(ctx context.Context, identityID int64, image []byte) (*database.FaceSample, error) {
	sample := database.FaceSample{
		IdentityID: identityID,
		Image:      image,
		CreatedAt:  fromMillis(toMillis(t.store.now())),
	}
	d := t.store.dialect
	insert := "INSERT INTO face_samples (identity_id, image, created_at) VALUES (?, ?, ?)"

	var err error
	if d.Returning {
		err = t.tx.QueryRowContext(ctx, d.Rebind(insert+" RETURNING id"), identityID, image, toMillis(sample.CreatedAt)).
			Scan(&sample.ID)
	} else {
		var res sql.Result
		res, err = t.tx.ExecContext(ctx, d.Rebind(insert), identityID, image, toMillis(sample.CreatedAt))
		if err == nil {
			sample.ID, err = res.LastInsertId()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("insert sample: %w", err)
	}
	return &sample, nil
}

func (t *enrollTx) Commit() error {
	t.done = true
	if err := t.tx.Commit(); err != nil {
		if d := t.store.dialect; d.IsUniqueViolation != nil && d.IsUniqueViolation(err) {
			return database.ErrDuplicateIdentity
		}
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (t *enrollTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

var _ database.IdentityWriter = (*Store)(nil)
