// Package sqlstore implements the chat MessageStore and the presence backing
// store on top of GORM and SQLite.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pelusa-v/pelusa-chat/internal/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	ErrUserExists    = errors.New("user already exists")
	ErrEmptyUsername = errors.New("username is empty")
)

// Store is the GORM-backed implementation of store.MessageStore.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

var _ store.MessageStore = (*Store)(nil)

// Open opens the SQLite database at dsn with a single pooled connection.
// A ":memory:" database only lives as long as that connection.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func New(db *gorm.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Migrate creates or updates the schema.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(allModels...); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateUser adds a user; usernames are unique regardless of case.
func (s *Store) CreateUser(ctx context.Context, username string) (*store.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrEmptyUsername
	}
	if _, err := s.GetUserByUsername(ctx, username); err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, store.ErrUserNotFound) {
		return nil, err
	}
	row := userModel{Username: username, CreatedAt: s.now()}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &store.User{ID: row.ID, Username: row.Username}, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	var row userModel
	err := s.db.WithContext(ctx).
		Where("LOWER(username) = LOWER(?)", strings.TrimSpace(username)).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &store.User{ID: row.ID, Username: row.Username}, nil
}

// GetUsersByIDs returns the users that exist among ids, ordered by id.
func (s *Store) GetUsersByIDs(ctx context.Context, ids []uint) ([]store.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []userModel
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to find users: %w", err)
	}
	return toUsers(rows), nil
}

func (s *Store) SetOnline(ctx context.Context, username string, _ time.Time) error {
	return s.updatePresence(ctx, username, map[string]any{"online": true})
}

func (s *Store) SetOffline(ctx context.Context, username string, at time.Time) error {
	return s.updatePresence(ctx, username, map[string]any{"online": false, "last_seen": at.UTC()})
}

func (s *Store) updatePresence(ctx context.Context, username string, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&userModel{}).Where("username = ?", username).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update presence: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrUserNotFound
	}
	return nil
}

func (s *Store) Presence(ctx context.Context, username string) (*store.Presence, error) {
	var row userModel
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find presence: %w", err)
	}
	p := &store.Presence{Username: row.Username, Online: row.Online}
	if row.LastSeen != nil {
		p.LastSeen = *row.LastSeen
	}
	return p, nil
}

func toUsers(rows []userModel) []store.User {
	out := make([]store.User, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.User{ID: r.ID, Username: r.Username})
	}
	return out
}
