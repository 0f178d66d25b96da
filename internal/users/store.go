package users

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrNotFound is returned when a lookup finds no matching registered user.
var ErrNotFound = errors.New("users: registered user not found")

// ErrAlreadyRegistered is returned by Create when the nickname already has
// a registered-user row.
var ErrAlreadyRegistered = errors.New("users: nickname already registered")

// Store is the registered-user persistence contract the hub consumes. It
// is intentionally narrow: the core treats a registered user as an opaque
// handle (spec.md §3).
type Store interface {
	// Find returns the record for nick, or ErrNotFound.
	Find(ctx context.Context, nick string) (*Record, error)

	// Create inserts a new record. Returns ErrAlreadyRegistered if nick is
	// already present.
	Create(ctx context.Context, r *Record) error

	// Save updates an existing record in place.
	Save(ctx context.Context, r *Record) error

	// Delete removes a record by nick. Idempotent.
	Delete(ctx context.Context, nick string) error

	// ListByClass returns every nick registered at exactly the given
	// class, ascending (mirrors cRegList::ShowUsers' "ORDER BY nick ASC").
	ListByClass(ctx context.Context, class int) ([]string, error)

	// Close releases the underlying connection pool.
	Close() error
}

// gormStore is the MySQL-backed Store implementation.
type gormStore struct {
	db *gorm.DB
}

// OpenGORM opens (and migrates) the registered-user table against dsn, a
// standard go-sql-driver/mysql DSN.
func OpenGORM(dsn string) (Store, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("users: open database: %w", err)
	}

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("users: migrate schema: %w", err)
	}

	return &gormStore{db: db}, nil
}

func (s *gormStore) Find(ctx context.Context, nick string) (*Record, error) {
	var r Record
	err := s.db.WithContext(ctx).Where("nick = ?", nick).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("users: find %q: %w", nick, err)
	}
	return &r, nil
}

func (s *gormStore) Create(ctx context.Context, r *Record) error {
	if _, err := s.Find(ctx, r.Nick); err == nil {
		return ErrAlreadyRegistered
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("users: create %q: %w", r.Nick, err)
	}
	return nil
}

func (s *gormStore) Save(ctx context.Context, r *Record) error {
	if err := s.db.WithContext(ctx).Save(r).Error; err != nil {
		return fmt.Errorf("users: save %q: %w", r.Nick, err)
	}
	return nil
}

func (s *gormStore) Delete(ctx context.Context, nick string) error {
	if err := s.db.WithContext(ctx).Where("nick = ?", nick).Delete(&Record{}).Error; err != nil {
		return fmt.Errorf("users: delete %q: %w", nick, err)
	}
	return nil
}

func (s *gormStore) ListByClass(ctx context.Context, class int) ([]string, error) {
	var nicks []string
	err := s.db.WithContext(ctx).Model(&Record{}).
		Where("class = ?", class).
		Order("nick ASC").
		Pluck("nick", &nicks).Error
	if err != nil {
		return nil, fmt.Errorf("users: list class %d: %w", class, err)
	}
	return nicks, nil
}

func (s *gormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("users: underlying sql.DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("users: close: %w", err)
	}
	return nil
}
