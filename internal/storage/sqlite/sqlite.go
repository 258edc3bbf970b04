package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fenggwsx/PostBoard/internal/config"
	"github.com/fenggwsx/PostBoard/internal/storage"
)

// timestampLayout is fixed width so that text ordering matches chronological ordering.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// Store is a GORM-backed SQLite implementation of storage.Store.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

type postModel struct {
	ID        int64   `gorm:"primaryKey;autoIncrement"`
	Username  string  `gorm:"not null"`
	Content   string  `gorm:"not null"`
	ImageURL  *string `gorm:"column:image_url"`
	Timestamp string  `gorm:"not null;index"`
}

func (postModel) TableName() string { return "posts" }

type userModel struct {
	ID        uint   `gorm:"primaryKey"`
	Username  string `gorm:"uniqueIndex;not null"`
	Email     string `gorm:"not null"`
	Password  string `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (userModel) TableName() string { return "users" }

// NewStore opens a SQLite database at the provided path.
func NewStore(cfg config.DatabaseConfig) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single pooled connection serializes appends.
	sqlDB.SetMaxOpenConns(1)
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate applies schema updates.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&postModel{}, &userModel{})
}

// AppendPost stores a post stamped with the current UTC time.
func (s *Store) AppendPost(ctx context.Context, post storage.NewPost) (storage.Post, error) {
	model := postModel{
		Username:  post.Username,
		Content:   post.Content,
		ImageURL:  post.ImageURL,
		Timestamp: s.now().UTC().Format(timestampLayout),
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return storage.Post{}, storage.Persistence("append post", err)
	}
	return toPost(model)
}

// RecentPosts returns the newest posts in chronological order.
func (s *Store) RecentPosts(ctx context.Context, limit int) ([]storage.Post, error) {
	var models []postModel
	err := s.db.WithContext(ctx).
		Order("timestamp DESC").
		Order("id DESC").
		Limit(storage.NormalizeLimit(limit)).
		Find(&models).Error
	if err != nil {
		return nil, storage.Persistence("recent posts", err)
	}

	posts := make([]storage.Post, 0, len(models))
	for _, model := range models {
		post, err := toPost(model)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	storage.Reverse(posts)
	return posts, nil
}

// CreateUser stores a new user record.
func (s *Store) CreateUser(ctx context.Context, user *storage.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	model := userModel{
		Username:  user.Username,
		Email:     user.Email,
		Password:  user.Password,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return storage.ErrUserExists
		}
		return err
	}
	user.ID = model.ID
	return nil
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	var model userModel
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	user := &storage.User{
		ID:        model.ID,
		Username:  model.Username,
		Email:     model.Email,
		Password:  model.Password,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
	return user, nil
}

func toPost(model postModel) (storage.Post, error) {
	ts, err := time.Parse(timestampLayout, model.Timestamp)
	if err != nil {
		return storage.Post{}, storage.Persistence("decode post", fmt.Errorf("post %d timestamp %q: %w", model.ID, model.Timestamp, err))
	}
	return storage.Post{
		ID:        model.ID,
		Username:  model.Username,
		Content:   model.Content,
		ImageURL:  model.ImageURL,
		Timestamp: ts,
	}, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
