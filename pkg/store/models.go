package store

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// StringList is stored as a JSON array so the same model works on postgres
// and on the sqlite database used in tests.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, errors.Wrap(err, "marshal string list")
	}
	return string(b), nil
}

func (l *StringList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = StringList{}
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return errors.Errorf("unsupported string list source type %T", src)
	}
}

// Conversation is one chat thread owned by exactly one user.
type Conversation struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	UserID string  `json:"userId" gorm:"not null;index"`
	Title  *string `json:"title"`
	Model  *string `json:"model"`

	// HistorySummary is the rolling digest substituted for old turns once the
	// history grows past the summarization threshold.
	HistorySummary string     `json:"historySummary"`
	LastActivityAt *time.Time `json:"lastActivityAt"`

	VersionGroups []VersionGroup `json:"versionGroups,omitempty" gorm:"constraint:OnDelete:CASCADE"`
}

func (c *Conversation) BeforeCreate(_ *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// VersionGroup is one turn slot holding one or more alternate user+assistant
// message pairs. Versions lists message ids, always appended two at a time
// (user id then assistant id). ActiveIndex is the even start offset of the
// currently selected pair.
type VersionGroup struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `json:"createdAt"`

	ConversationID uuid.UUID  `json:"conversationId" gorm:"type:uuid;not null;index"`
	Versions       StringList `json:"versions" gorm:"type:text;not null"`
	ActiveIndex    int        `json:"index" gorm:"column:active_index;not null;default:0"`

	Messages []Message `json:"messages,omitempty" gorm:"constraint:OnDelete:CASCADE"`
}

func (g *VersionGroup) BeforeCreate(_ *gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	if g.Versions == nil {
		g.Versions = StringList{}
	}
	return nil
}

// Message roles. Only user and assistant messages are persisted; system and
// tool entries are synthesized at assembly time.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	ConversationID uuid.UUID `json:"conversationId" gorm:"type:uuid;not null;index"`
	VersionGroupID uuid.UUID `json:"versionGroupId" gorm:"type:uuid;not null;index"`

	Role    string `json:"role" gorm:"not null"`
	Sender  string `json:"sender"`
	Content string `json:"content"`

	Files []File `json:"files,omitempty" gorm:"constraint:OnDelete:CASCADE"`
}

func (m *Message) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// File records an attachment after its bytes have been uploaded to blob
// storage. It is linked to its message post-hoc since uploads may complete
// after the message row exists.
type File struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `json:"createdAt"`

	UserID         string     `json:"userId" gorm:"not null;index"`
	ConversationID *uuid.UUID `json:"conversationId" gorm:"type:uuid;index"`
	MessageID      uuid.UUID  `json:"messageId" gorm:"type:uuid;index"`

	FileName   string `json:"fileName"`
	FileType   string `json:"fileType"`
	StorageURL string `json:"storageUrl"`
}

func (f *File) BeforeCreate(_ *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}
