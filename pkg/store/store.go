package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store is the single source of truth for conversations, version groups,
// messages and file attachments.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Open connects to postgres and runs migrations.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	s := New(db)
	if err := s.AutoMigrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Conversation{}, &VersionGroup{}, &Message{}, &File{})
}

func translateError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// ownedConversation loads a conversation and distinguishes "not found" from
// "owned by someone else".
func ownedConversation(tx *gorm.DB, userID string, conversationID uuid.UUID) (*Conversation, error) {
	var conversation Conversation
	if err := tx.First(&conversation, "id = ?", conversationID).Error; err != nil {
		return nil, translateError(err)
	}
	if conversation.UserID != userID {
		return nil, ErrNotOwned
	}
	return &conversation, nil
}

func (s *Store) CreateConversation(ctx context.Context, userID string) (*Conversation, error) {
	conversation := &Conversation{UserID: userID}
	if err := s.db.WithContext(ctx).Create(conversation).Error; err != nil {
		return nil, errors.Wrap(err, "create conversation")
	}
	log.Debug().Str("conversation_id", conversation.ID.String()).Str("user_id", userID).Msg("conversation created")
	return conversation, nil
}

func (s *Store) GetConversation(ctx context.Context, userID string, conversationID uuid.UUID) (*Conversation, error) {
	return ownedConversation(s.db.WithContext(ctx), userID, conversationID)
}

// ListConversations returns the user's conversations, most recently active
// first.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	var conversations []Conversation
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&conversations).Error
	if err != nil {
		return nil, errors.Wrap(err, "list conversations")
	}
	return conversations, nil
}

// DeleteConversation removes the conversation and cascades version groups,
// messages and files in one transaction.
func (s *Store) DeleteConversation(ctx context.Context, userID string, conversationID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := ownedConversation(tx, userID, conversationID); err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&File{}).Error; err != nil {
			return errors.Wrap(err, "delete files")
		}
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&Message{}).Error; err != nil {
			return errors.Wrap(err, "delete messages")
		}
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&VersionGroup{}).Error; err != nil {
			return errors.Wrap(err, "delete version groups")
		}
		return errors.Wrap(tx.Delete(&Conversation{}, "id = ?", conversationID).Error, "delete conversation")
	})
}

func (s *Store) SetConversationTitle(ctx context.Context, conversationID uuid.UUID, title string) error {
	return errors.Wrap(
		s.db.WithContext(ctx).Model(&Conversation{}).Where("id = ?", conversationID).
			Update("title", title).Error,
		"set conversation title")
}

func (s *Store) SetHistorySummary(ctx context.Context, conversationID uuid.UUID, summary string) error {
	return errors.Wrap(
		s.db.WithContext(ctx).Model(&Conversation{}).Where("id = ?", conversationID).
			Update("history_summary", summary).Error,
		"set history summary")
}

// TouchConversation bumps the activity timestamps after a completed turn.
func (s *Store) TouchConversation(ctx context.Context, conversationID uuid.UUID) error {
	now := time.Now()
	return errors.Wrap(
		s.db.WithContext(ctx).Model(&Conversation{}).Where("id = ?", conversationID).
			Updates(map[string]interface{}{"last_activity_at": now, "updated_at": now}).Error,
		"touch conversation")
}

// CreateVersionGroup creates an empty turn slot.
// CreateVersionGroupWithPair creates a turn slot pre-populated with the user
// message and an empty assistant placeholder, so the turn is durable before
// the model is invoked. The pair enters Versions only on finalization.
func (s *Store) CreateVersionGroupWithPair(ctx context.Context, conversationID uuid.UUID, sender, query string) (*VersionGroup, error) {
	group := &VersionGroup{ConversationID: conversationID}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(group).Error; err != nil {
			return errors.Wrap(err, "create version group")
		}
		messages := []Message{
			{ConversationID: conversationID, VersionGroupID: group.ID, Role: RoleUser, Sender: sender, Content: query},
			{ConversationID: conversationID, VersionGroupID: group.ID, Role: RoleAssistant, Sender: RoleAssistant, Content: ""},
		}
		if err := tx.Create(&messages).Error; err != nil {
			return errors.Wrap(err, "create message pair")
		}
		group.Messages = messages
		return nil
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

func (s *Store) GetVersionGroup(ctx context.Context, groupID uuid.UUID) (*VersionGroup, error) {
	var group VersionGroup
	err := s.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("messages.created_at ASC") }).
		Preload("Messages.Files").
		First(&group, "id = ?", groupID).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &group, nil
}

// ListVersionGroups returns all groups of a conversation in chronological
// order, with messages and files preloaded.
func (s *Store) ListVersionGroups(ctx context.Context, conversationID uuid.UUID) ([]VersionGroup, error) {
	var groups []VersionGroup
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("messages.created_at ASC") }).
		Preload("Messages.Files").
		Find(&groups).Error
	if err != nil {
		return nil, errors.Wrap(err, "list version groups")
	}
	return groups, nil
}

// RecentVersionGroups returns up to limit groups, newest first. When before
// is non-nil only groups created strictly earlier are returned; this is the
// temporal cut used when regenerating an edited turn.
func (s *Store) RecentVersionGroups(ctx context.Context, conversationID uuid.UUID, limit int, before *time.Time) ([]VersionGroup, error) {
	q := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID)
	if before != nil {
		q = q.Where("created_at < ?", *before)
	}
	var groups []VersionGroup
	err := q.Order("created_at DESC").
		Limit(limit).
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("messages.created_at ASC") }).
		Find(&groups).Error
	if err != nil {
		return nil, errors.Wrap(err, "recent version groups")
	}
	return groups, nil
}

// AppendVersionPair atomically appends [userMessageID, assistantMessageID] to
// the group's versions and selects the new pair. Concurrent appends to the
// same group are serialized with a row lock so no sibling pair is lost.
func (s *Store) AppendVersionPair(ctx context.Context, groupID, userMessageID, assistantMessageID uuid.UUID) (*VersionGroup, error) {
	var group VersionGroup
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() == "postgres" {
			q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := q.First(&group, "id = ?", groupID).Error; err != nil {
			return translateError(err)
		}
		group.Versions = append(group.Versions, userMessageID.String(), assistantMessageID.String())
		group.ActiveIndex = len(group.Versions) - 2
		return errors.Wrap(
			tx.Model(&VersionGroup{}).Where("id = ?", groupID).
				Updates(map[string]interface{}{
					"versions":     group.Versions,
					"active_index": group.ActiveIndex,
				}).Error,
			"append version pair")
	})
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// UpdateGroupIndex persists a version-navigation change. The index must be an
// even offset within the group's versions.
func (s *Store) UpdateGroupIndex(ctx context.Context, conversationID, groupID uuid.UUID, index int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var group VersionGroup
		if err := tx.First(&group, "id = ? AND conversation_id = ?", groupID, conversationID).Error; err != nil {
			return translateError(err)
		}
		if index%2 != 0 || index < 0 || (len(group.Versions) > 0 && index > len(group.Versions)-2) {
			return ErrInvalidIndex
		}
		return errors.Wrap(
			tx.Model(&VersionGroup{}).Where("id = ?", groupID).
				Update("active_index", index).Error,
			"update group index")
	})
}

// DeleteVersionGroup removes a turn slot and all of its messages and files.
func (s *Store) DeleteVersionGroup(ctx context.Context, userID string, groupID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var group VersionGroup
		if err := tx.First(&group, "id = ?", groupID).Error; err != nil {
			return translateError(err)
		}
		if _, err := ownedConversation(tx, userID, group.ConversationID); err != nil {
			return err
		}
		var messageIDs []uuid.UUID
		if err := tx.Model(&Message{}).Where("version_group_id = ?", groupID).Pluck("id", &messageIDs).Error; err != nil {
			return errors.Wrap(err, "collect message ids")
		}
		if len(messageIDs) > 0 {
			if err := tx.Where("message_id IN ?", messageIDs).Delete(&File{}).Error; err != nil {
				return errors.Wrap(err, "delete files")
			}
		}
		if err := tx.Where("version_group_id = ?", groupID).Delete(&Message{}).Error; err != nil {
			return errors.Wrap(err, "delete messages")
		}
		return errors.Wrap(tx.Delete(&VersionGroup{}, "id = ?", groupID).Error, "delete version group")
	})
}

func (s *Store) CreateMessage(ctx context.Context, message *Message) error {
	return errors.Wrap(s.db.WithContext(ctx).Create(message).Error, "create message")
}

func (s *Store) GetMessage(ctx context.Context, messageID uuid.UUID) (*Message, error) {
	var message Message
	if err := s.db.WithContext(ctx).Preload("Files").First(&message, "id = ?", messageID).Error; err != nil {
		return nil, translateError(err)
	}
	return &message, nil
}

// UpdateMessageContent fills in the final streamed text of a placeholder
// assistant message.
func (s *Store) UpdateMessageContent(ctx context.Context, messageID uuid.UUID, content string) error {
	res := s.db.WithContext(ctx).Model(&Message{}).Where("id = ?", messageID).Update("content", content)
	if res.Error != nil {
		return errors.Wrap(res.Error, "update message content")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CreateFiles(ctx context.Context, files []File) error {
	if len(files) == 0 {
		return nil
	}
	return errors.Wrap(s.db.WithContext(ctx).Create(&files).Error, "create files")
}

func (s *Store) GetFilesByIDs(ctx context.Context, fileIDs []uuid.UUID) ([]File, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}
	var files []File
	if err := s.db.WithContext(ctx).Where("id IN ?", fileIDs).Find(&files).Error; err != nil {
		return nil, errors.Wrap(err, "get files")
	}
	return files, nil
}
