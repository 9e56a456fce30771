package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	s := New(db)
	require.NoError(t, s.AutoMigrate())
	return s
}

func TestConversationOwnership(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	conversation, err := s.CreateConversation(ctx, "alice")
	require.NoError(t, err)

	_, err = s.GetConversation(ctx, "alice", conversation.ID)
	require.NoError(t, err)

	_, err = s.GetConversation(ctx, "bob", conversation.ID)
	assert.ErrorIs(t, err, ErrNotOwned)

	_, err = s.GetConversation(ctx, "alice", uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListConversationsScopedToUser(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.CreateConversation(ctx, "alice")
	require.NoError(t, err)
	_, err = s.CreateConversation(ctx, "bob")
	require.NoError(t, err)

	conversations, err := s.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, "alice", conversations[0].UserID)
}

func TestCreateVersionGroupWithPair(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	conversation, err := s.CreateConversation(ctx, "alice")
	require.NoError(t, err)

	group, err := s.CreateVersionGroupWithPair(ctx, conversation.ID, "alice", "what is the capital of France?")
	require.NoError(t, err)

	require.Len(t, group.Messages, 2)
	assert.Equal(t, RoleUser, group.Messages[0].Role)
	assert.Equal(t, "what is the capital of France?", group.Messages[0].Content)
	assert.Equal(t, RoleAssistant, group.Messages[1].Role)
	assert.Empty(t, group.Messages[1].Content)

	// versions stays empty until the turn is finalized
	assert.Empty(t, group.Versions)
	assert.Equal(t, 0, group.ActiveIndex)
}

func TestAppendVersionPairSelectsNewestPair(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	conversation, err := s.CreateConversation(ctx, "alice")
	require.NoError(t, err)
	group, err := s.CreateVersionGroupWithPair(ctx, conversation.ID, "alice", "hi")
	require.NoError(t, err)

	updated, err := s.AppendVersionPair(ctx, group.ID, group.Messages[0].ID, group.Messages[1].ID)
	require.NoError(t, err)
	assert.Equal(t, StringList{group.Messages[0].ID.String(), group.Messages[1].ID.String()}, updated.Versions)
	assert.Equal(t, 0, updated.ActiveIndex)

	u2, a2 := uuid.New(), uuid.New()
	updated, err = s.AppendVersionPair(ctx, group.ID, u2, a2)
	require.NoError(t, err)
	assert.Len(t, updated.Versions, 4)
	assert.Equal(t, 2, updated.ActiveIndex)
	assert.Equal(t, u2.String(), updated.Versions[2])
	assert.Equal(t, a2.String(), updated.Versions[3])

	// index invariant: even, within bounds, versions length even
	assert.Zero(t, len(updated.Versions)%2)
	assert.Zero(t, updated.ActiveIndex%2)
	assert.LessOrEqual(t, updated.ActiveIndex, len(updated.Versions)-2)
}

func TestUpdateGroupIndexValidation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	conversation, err := s.CreateConversation(ctx, "alice")
	require.NoError(t, err)
	group, err := s.CreateVersionGroupWithPair(ctx, conversation.ID, "alice", "hi")
	require.NoError(t, err)
	_, err = s.AppendVersionPair(ctx, group.ID, group.Messages[0].ID, group.Messages[1].ID)
	require.NoError(t, err)
	_, err = s.AppendVersionPair(ctx, group.ID, uuid.New(), uuid.New())
	require.NoError(t, err)

	require.NoError(t, s.UpdateGroupIndex(ctx, conversation.ID, group.ID, 0))
	require.NoError(t, s.UpdateGroupIndex(ctx, conversation.ID, group.ID, 2))

	assert.ErrorIs(t, s.UpdateGroupIndex(ctx, conversation.ID, group.ID, 1), ErrInvalidIndex)
	assert.ErrorIs(t, s.UpdateGroupIndex(ctx, conversation.ID, group.ID, 4), ErrInvalidIndex)
	assert.ErrorIs(t, s.UpdateGroupIndex(ctx, conversation.ID, group.ID, -2), ErrInvalidIndex)

	assert.ErrorIs(t, s.UpdateGroupIndex(ctx, conversation.ID, uuid.New(), 0), ErrNotFound)

	got, err := s.GetVersionGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ActiveIndex)
}

func TestRecentVersionGroupsTemporalCut(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	conversation, err := s.CreateConversation(ctx, "alice")
	require.NoError(t, err)

	var groups []*VersionGroup
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 4; i++ {
		g := &VersionGroup{ConversationID: conversation.ID, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, s.db.Create(g).Error)
		groups = append(groups, g)
	}

	recent, err := s.RecentVersionGroups(ctx, conversation.ID, 2, nil)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, groups[3].ID, recent[0].ID)
	assert.Equal(t, groups[2].ID, recent[1].ID)

	cut := groups[2].CreatedAt
	recent, err = s.RecentVersionGroups(ctx, conversation.ID, 10, &cut)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, groups[1].ID, recent[0].ID)
	assert.Equal(t, groups[0].ID, recent[1].ID)
}

func TestDeleteConversationCascades(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	conversation, err := s.CreateConversation(ctx, "alice")
	require.NoError(t, err)
	group, err := s.CreateVersionGroupWithPair(ctx, conversation.ID, "alice", "hi")
	require.NoError(t, err)
	require.NoError(t, s.CreateFiles(ctx, []File{{
		UserID:         "alice",
		ConversationID: &conversation.ID,
		MessageID:      group.Messages[0].ID,
		FileName:       "notes.txt",
	}}))

	assert.ErrorIs(t, s.DeleteConversation(ctx, "bob", conversation.ID), ErrNotOwned)
	require.NoError(t, s.DeleteConversation(ctx, "alice", conversation.ID))

	_, err = s.GetConversation(ctx, "alice", conversation.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetVersionGroup(ctx, group.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetMessage(ctx, group.Messages[0].ID)
	assert.ErrorIs(t, err, ErrNotFound)

	var fileCount int64
	require.NoError(t, s.db.Model(&File{}).Count(&fileCount).Error)
	assert.Zero(t, fileCount)
}

func TestDeleteVersionGroupCascades(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	conversation, err := s.CreateConversation(ctx, "alice")
	require.NoError(t, err)
	keep, err := s.CreateVersionGroupWithPair(ctx, conversation.ID, "alice", "first")
	require.NoError(t, err)
	doomed, err := s.CreateVersionGroupWithPair(ctx, conversation.ID, "alice", "second")
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteVersionGroup(ctx, "bob", doomed.ID), ErrNotOwned)
	require.NoError(t, s.DeleteVersionGroup(ctx, "alice", doomed.ID))

	_, err = s.GetVersionGroup(ctx, doomed.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetMessage(ctx, doomed.Messages[0].ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetVersionGroup(ctx, keep.ID)
	assert.NoError(t, err)
}

func TestUpdateMessageContent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	conversation, err := s.CreateConversation(ctx, "alice")
	require.NoError(t, err)
	group, err := s.CreateVersionGroupWithPair(ctx, conversation.ID, "alice", "hi")
	require.NoError(t, err)

	require.NoError(t, s.UpdateMessageContent(ctx, group.Messages[1].ID, "Paris."))
	message, err := s.GetMessage(ctx, group.Messages[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "Paris.", message.Content)

	assert.ErrorIs(t, s.UpdateMessageContent(ctx, uuid.New(), "x"), ErrNotFound)
}

func TestTouchConversationBumpsActivity(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	conversation, err := s.CreateConversation(ctx, "alice")
	require.NoError(t, err)
	require.Nil(t, conversation.LastActivityAt)

	require.NoError(t, s.TouchConversation(ctx, conversation.ID))
	got, err := s.GetConversation(ctx, "alice", conversation.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastActivityAt)
}
