// Package memory persists long-lived facts extracted from conversations and
// retrieves the ones relevant to a new query by embedding similarity.
package memory

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/go-go-golems/helix/pkg/embeddings"
)

// FloatList stores an embedding vector as JSON so the row is portable across
// postgres and the sqlite database used in tests.
type FloatList []float32

func (l FloatList) Value() (driver.Value, error) {
	if l == nil {
		l = FloatList{}
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, errors.Wrap(err, "marshal embedding")
	}
	return string(b), nil
}

func (l *FloatList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = FloatList{}
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return errors.Errorf("unsupported embedding source type %T", src)
	}
}

// Entry is one remembered fact about a user.
type Entry struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	UserID         string     `json:"userId" gorm:"not null;index"`
	ConversationID *uuid.UUID `json:"conversationId" gorm:"type:uuid;index"`

	Content   string    `json:"content" gorm:"not null"`
	Embedding FloatList `json:"-" gorm:"type:text"`
}

func (Entry) TableName() string { return "memories" }

func (e *Entry) BeforeCreate(_ *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// ScoredEntry is a search hit with its cosine similarity to the query.
type ScoredEntry struct {
	Entry
	Score float32 `json:"score"`
}

// Store retrieves and records memories. CreatedBefore, when non-nil, restricts
// search to entries that already existed at that instant.
type Store interface {
	Search(ctx context.Context, userID, query string, limit int, createdBefore *time.Time) ([]ScoredEntry, error)
	Upsert(ctx context.Context, userID string, conversationID uuid.UUID, content string) (*Entry, error)
	ListAll(ctx context.Context, userID string) ([]Entry, error)
}

// DedupWindow is how recent a previous memory must be for a new one to update
// it in place instead of creating a fresh row. Rapid-fire turns about the same
// topic collapse into one entry.
const DedupWindow = 30 * time.Second

type DBStore struct {
	db          *gorm.DB
	provider    embeddings.Provider
	dedupWindow time.Duration
}

type Option func(*DBStore)

func WithDedupWindow(window time.Duration) Option {
	return func(s *DBStore) {
		s.dedupWindow = window
	}
}

func NewDBStore(db *gorm.DB, provider embeddings.Provider, options ...Option) (*DBStore, error) {
	s := &DBStore{db: db, provider: provider, dedupWindow: DedupWindow}
	for _, o := range options {
		o(s)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, errors.Wrap(err, "migrate memories")
	}
	return s, nil
}

func (s *DBStore) Search(ctx context.Context, userID, query string, limit int, createdBefore *time.Time) ([]ScoredEntry, error) {
	queryEmbedding, err := s.provider.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "embed query")
	}

	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if createdBefore != nil {
		q = q.Where("created_at < ?", *createdBefore)
	}
	var entries []Entry
	if err := q.Find(&entries).Error; err != nil {
		return nil, errors.Wrap(err, "load memories")
	}

	scored := make([]ScoredEntry, 0, len(entries))
	for _, entry := range entries {
		scored = append(scored, ScoredEntry{
			Entry: entry,
			Score: embeddings.CosineSimilarity(queryEmbedding, entry.Embedding),
		})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// Upsert records a memory. A memory written for the same user within the
// dedup window is updated in place rather than duplicated.
func (s *DBStore) Upsert(ctx context.Context, userID string, conversationID uuid.UUID, content string) (*Entry, error) {
	embedding, err := s.provider.GenerateEmbedding(ctx, content)
	if err != nil {
		return nil, errors.Wrap(err, "embed memory")
	}

	var recent Entry
	cutoff := time.Now().Add(-s.dedupWindow)
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND created_at >= ?", userID, cutoff).
		Order("created_at DESC").
		First(&recent).Error
	switch {
	case err == nil:
		recent.Content = content
		recent.Embedding = embedding
		if err := s.db.WithContext(ctx).Save(&recent).Error; err != nil {
			return nil, errors.Wrap(err, "update memory")
		}
		log.Debug().Str("memory_id", recent.ID.String()).Msg("memory updated in place")
		return &recent, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		entry := &Entry{
			UserID:         userID,
			ConversationID: &conversationID,
			Content:        content,
			Embedding:      embedding,
		}
		if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
			return nil, errors.Wrap(err, "create memory")
		}
		return entry, nil
	default:
		return nil, errors.Wrap(err, "find recent memory")
	}
}

func (s *DBStore) ListAll(ctx context.Context, userID string) ([]Entry, error) {
	var entries []Entry
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&entries).Error
	if err != nil {
		return nil, errors.Wrap(err, "list memories")
	}
	return entries, nil
}
