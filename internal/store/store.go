// Package store persists sandbox records. It is the single source of truth
// for sandbox ownership and status.
//
// The one-live-sandbox-per-owner rule is enforced by a partial unique index
// on (owner_kind, owner_ref) covering every status except deleted, so two
// processes racing to create for the same owner cannot both succeed.
package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	moderncsqlite "modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/firefly-engineering/sandboxd/internal/errors"
	"github.com/firefly-engineering/sandboxd/internal/logging"
	"github.com/firefly-engineering/sandboxd/internal/record"
)

// maxIDAttempts bounds retries when a freshly generated id is already taken.
const maxIDAttempts = 16

const liveOwnerIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_sandbox_records_live_owner
	ON sandbox_records (owner_kind, owner_ref) WHERE status <> 'deleted'`

// Config selects and tunes the database backend.
type Config struct {
	// Driver is one of sqlite, memory or postgres.
	Driver       string
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// Store reads and writes sandbox records.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
	newID  func() (string, error)
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for store diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides sandbox id generation.
func WithIDGenerator(gen func() (string, error)) Option {
	return func(s *Store) { s.newID = gen }
}

// Open connects to the configured database and migrates the schema. The
// returned cleanup closes the underlying connection pool.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, func(context.Context) error, error) {
	s := &Store{
		logger: logging.Discard(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  record.NewID,
	}
	for _, opt := range opts {
		opt(s)
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	var dialector gorm.Dialector
	embedded := false
	switch driver {
	case "", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, nil, errors.ConfigError("sqlite store requires a dsn", nil)
		}
		dialector = gormsqlite.New(gormsqlite.Config{DriverName: "sqlite", DSN: cfg.DSN})
		embedded = true
	case "memory":
		dialector = gormsqlite.New(gormsqlite.Config{DriverName: "sqlite", DSN: "file:sandboxd?mode=memory&cache=shared"})
		embedded = true
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, nil, errors.ConfigError("postgres store requires a dsn", nil)
		}
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, nil, errors.ConfigError(fmt.Sprintf("unsupported store driver %q", cfg.Driver), nil)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Discard,
		NowFunc:        s.now,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s store: %w", driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	if embedded {
		// One connection serializes writers and keeps an in-memory database alive.
		sqlDB.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}

	s.db = db
	if err := s.migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}

	s.logger.Debug("store opened", "driver", driver)

	cleanup := func(context.Context) error {
		return sqlDB.Close()
	}
	return s, cleanup, nil
}

func (s *Store) migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&record.Record{}); err != nil {
		return fmt.Errorf("failed to migrate sandbox records: %w", err)
	}
	if err := db.Exec(liveOwnerIndex).Error; err != nil {
		return fmt.Errorf("failed to create live owner index: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// TryClaim returns the owner's live record, or nil when the owner has none.
func (s *Store) TryClaim(ctx context.Context, kind record.OwnerKind, ref string) (*record.Record, error) {
	var recs []record.Record
	err := s.db.WithContext(ctx).
		Where("owner_kind = ? AND owner_ref = ? AND status <> ?", kind, ref, record.StatusDeleted).
		Order("created_at DESC").
		Limit(1).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to look up sandbox for %s/%s: %w", kind, ref, err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

// NewRecord describes a record to create.
type NewRecord struct {
	OwnerKind record.OwnerKind
	OwnerRef  string
	ExpiresAt *time.Time
}

// Create inserts a provisioning record for an owner that has no live
// record. If another caller created one first, Create returns an
// ErrConflict error and the caller should re-read with TryClaim.
func (s *Store) Create(ctx context.Context, nr NewRecord) (*record.Record, error) {
	if !nr.OwnerKind.Valid() {
		return nil, errors.ValidationError(fmt.Sprintf("unknown owner kind %q", nr.OwnerKind))
	}
	if strings.TrimSpace(nr.OwnerRef) == "" {
		return nil, errors.ValidationError("owner reference cannot be empty")
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := s.newID()
		if err != nil {
			return nil, err
		}

		now := s.now()
		rec := &record.Record{
			ID:        id,
			OwnerKind: nr.OwnerKind,
			OwnerRef:  nr.OwnerRef,
			Status:    record.StatusProvisioning,
			CreatedAt: now,
			UpdatedAt: now,
			ExpiresAt: nr.ExpiresAt,
		}

		err = s.db.WithContext(ctx).Create(rec).Error
		if err == nil {
			s.logger.Debug("sandbox record created", "id", id, "kind", nr.OwnerKind, "owner", nr.OwnerRef)
			return rec, nil
		}
		if !isUniqueViolation(err) {
			return nil, fmt.Errorf("failed to create sandbox record: %w", err)
		}

		existing, claimErr := s.TryClaim(ctx, nr.OwnerKind, nr.OwnerRef)
		if claimErr != nil {
			return nil, claimErr
		}
		if existing != nil {
			return nil, errors.Conflict(string(nr.OwnerKind), nr.OwnerRef)
		}

		s.logger.Debug("sandbox id collision, retrying", "id", id, "attempt", attempt+1)
	}

	return nil, fmt.Errorf("failed to allocate a unique sandbox id after %d attempts", maxIDAttempts)
}

// Get loads a record by id.
func (s *Store) Get(ctx context.Context, id string) (*record.Record, error) {
	var recs []record.Record
	if err := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to load sandbox %s: %w", id, err)
	}
	if len(recs) == 0 {
		return nil, errors.SandboxNotFound(id)
	}
	return &recs[0], nil
}

// List returns records in creation order, optionally filtered by status.
func (s *Store) List(ctx context.Context, statuses ...record.Status) ([]*record.Record, error) {
	q := s.db.WithContext(ctx).Order("created_at ASC")
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}

	var recs []*record.Record
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list sandboxes: %w", err)
	}
	return recs, nil
}

// ListExpired returns live visitor records whose expiry is at or before now.
// Records already being deleted are left to the teardown retry path.
func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]*record.Record, error) {
	var candidates []*record.Record
	err := s.db.WithContext(ctx).
		Where("owner_kind = ? AND status IN ? AND expires_at IS NOT NULL", record.OwnerVisitor,
			[]record.Status{record.StatusProvisioning, record.StatusRunning, record.StatusStopped}).
		Order("created_at ASC").
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expired sandboxes: %w", err)
	}

	var expired []*record.Record
	for _, rec := range candidates {
		if rec.Expired(now) {
			expired = append(expired, rec)
		}
	}
	return expired, nil
}

// CountByStatus returns the number of records in each status.
func (s *Store) CountByStatus(ctx context.Context) (map[record.Status]int64, error) {
	var rows []struct {
		Status record.Status
		Count  int64
	}
	err := s.db.WithContext(ctx).
		Model(&record.Record{}).
		Select("status, count(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count sandboxes: %w", err)
	}

	counts := make(map[record.Status]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// TransitionOption sets extra columns alongside a status change.
type TransitionOption func(map[string]any)

// WithExpiresAt stamps the expiry time.
func WithExpiresAt(t *time.Time) TransitionOption {
	return func(u map[string]any) {
		if t != nil {
			u["expires_at"] = *t
		}
	}
}

// WithValidatedAt stamps the last reconciliation time.
func WithValidatedAt(t time.Time) TransitionOption {
	return func(u map[string]any) { u["last_validated_at"] = t }
}

// Transition moves a record to a new status. The update only applies when
// the current status is an allowed predecessor, so concurrent writers cannot
// move a record backwards. Transitioning to the current status is a no-op.
func (s *Store) Transition(ctx context.Context, id string, to record.Status, opts ...TransitionOption) (*record.Record, error) {
	from := record.Predecessors(to)
	if len(from) == 0 {
		return nil, errors.InvalidTransition(id, "any", string(to))
	}

	updates := map[string]any{
		"status":     to,
		"updated_at": s.now(),
	}
	for _, opt := range opts {
		opt(updates)
	}

	res := s.db.WithContext(ctx).
		Model(&record.Record{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to move sandbox %s to %s: %w", id, to, res.Error)
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 && current.Status != to {
		return nil, errors.InvalidTransition(id, string(current.Status), string(to))
	}

	if res.RowsAffected > 0 {
		s.logger.Debug("sandbox status changed", "id", id, "status", to)
	}
	return current, nil
}

// Touch records a successful reconciliation without changing status.
func (s *Store) Touch(ctx context.Context, id string, at time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&record.Record{}).
		Where("id = ? AND status <> ?", id, record.StatusDeleted).
		Update("last_validated_at", at).Error
	if err != nil {
		return fmt.Errorf("failed to touch sandbox %s: %w", id, err)
	}
	return nil
}

// isUniqueViolation reports whether err is a unique constraint failure from
// any supported driver.
func isUniqueViolation(err error) bool {
	if stderrors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	var liteErr *moderncsqlite.Error
	if stderrors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlitelib.SQLITE_CONSTRAINT_UNIQUE ||
			code == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY ||
			(code == sqlitelib.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE"))
	}

	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
