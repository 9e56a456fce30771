package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/go-go-golems/helix/pkg/orchestrator"
	"github.com/go-go-golems/helix/pkg/store"
	"github.com/go-go-golems/helix/pkg/versions"
)

// maxUploadBytes bounds multipart request memory usage.
const maxUploadBytes = 32 << 20

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := mux.Vars(r)[name]
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.Errorf("invalid %s: %q", name, raw)
	}
	return id, nil
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.principal(w, r)
	if !ok {
		return
	}
	conversation, err := s.store.CreateConversation(r.Context(), userID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conversation)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.principal(w, r)
	if !ok {
		return
	}
	conversations, err := s.store.ListConversations(r.Context(), userID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conversations)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.principal(w, r)
	if !ok {
		return
	}
	conversationID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.DeleteConversation(r.Context(), userID, conversationID); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// versionGroupView decorates a group with its pair position for clients.
type versionGroupView struct {
	store.VersionGroup
	VersionInfo versions.Info `json:"versionInfo"`
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.principal(w, r)
	if !ok {
		return
	}
	conversationID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := s.store.GetConversation(r.Context(), userID, conversationID); err != nil {
		writeStoreError(w, err)
		return
	}
	groups, err := s.store.ListVersionGroups(r.Context(), conversationID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	views := make([]versionGroupView, len(groups))
	for i, group := range groups {
		views[i] = versionGroupView{VersionGroup: group, VersionInfo: versions.VersionInfo(&group)}
	}
	writeJSON(w, http.StatusOK, views)
}

type updateGroupRequest struct {
	Index     *int   `json:"index"`
	Direction string `json:"direction"`
}

func (s *Server) handleUpdateGroupIndex(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.principal(w, r)
	if !ok {
		return
	}
	conversationID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	groupID, err := pathUUID(r, "groupId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := s.store.GetConversation(r.Context(), userID, conversationID); err != nil {
		writeStoreError(w, err)
		return
	}

	var req updateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "decode body"))
		return
	}

	var index int
	switch {
	case req.Index != nil:
		index = *req.Index
	case req.Direction != "":
		group, err := s.store.GetVersionGroup(r.Context(), groupID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		index = versions.Navigate(group, versions.Direction(req.Direction))
	default:
		writeError(w, http.StatusBadRequest, errors.New("index or direction required"))
		return
	}

	if err := s.store.UpdateGroupIndex(r.Context(), conversationID, groupID, index); err != nil {
		writeStoreError(w, err)
		return
	}
	group, err := s.store.GetVersionGroup(r.Context(), groupID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, versionGroupView{VersionGroup: *group, VersionInfo: versions.VersionInfo(group)})
}

func (s *Server) handleDeleteVersionGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.principal(w, r)
	if !ok {
		return
	}
	groupID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.DeleteVersionGroup(r.Context(), userID, groupID); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// turnInput is what a streamed-turn request carries: the text, any freshly
// uploaded files and the ids of already-stored files to keep on an edit.
type turnInput struct {
	text        string
	uploads     []orchestrator.Upload
	keepFileIDs []uuid.UUID
}

// parseTurnInput reads a turn request from either a JSON body or a multipart
// form.
func parseTurnInput(r *http.Request, textField string) (*turnInput, error) {
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "multipart/form-data") {
		var body struct {
			Query           string   `json:"query"`
			Content         string   `json:"content"`
			ExistingFileIDs []string `json:"existingFileIds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, errors.Wrap(err, "decode body")
		}
		text := body.Query
		if textField == "content" {
			text = body.Content
		}
		keep, err := parseFileIDs(body.ExistingFileIDs)
		if err != nil {
			return nil, err
		}
		return &turnInput{text: text, keepFileIDs: keep}, nil
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, errors.Wrap(err, "parse multipart form")
	}
	input := &turnInput{text: r.FormValue(textField)}

	keep, err := parseFileIDs(r.MultipartForm.Value["existingFileIds"])
	if err != nil {
		return nil, err
	}
	input.keepFileIDs = keep

	for _, headers := range r.MultipartForm.File {
		for _, header := range headers {
			f, err := header.Open()
			if err != nil {
				return nil, errors.Wrapf(err, "open upload %s", header.Filename)
			}
			data, err := io.ReadAll(f)
			_ = f.Close()
			if err != nil {
				return nil, errors.Wrapf(err, "read upload %s", header.Filename)
			}
			input.uploads = append(input.uploads, orchestrator.Upload{
				Name:        header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Data:        data,
			})
		}
	}
	return input, nil
}

func parseFileIDs(raw []string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, r := range raw {
		id, err := uuid.Parse(r)
		if err != nil {
			return nil, errors.Errorf("invalid file id: %q", r)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.principal(w, r)
	if !ok {
		return
	}
	conversationID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	input, err := parseTurnInput(r, "query")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.streamTurn(w, r, func(ctx context.Context) error {
		return s.orch.RunTurn(ctx, userID, conversationID, input.text, input.uploads)
	})
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.principal(w, r)
	if !ok {
		return
	}
	messageID, err := pathUUID(r, "messageId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	input, err := parseTurnInput(r, "content")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.streamTurn(w, r, func(ctx context.Context) error {
		return s.orch.RunEdit(ctx, userID, messageID, input.text, input.uploads, input.keepFileIDs)
	})
}
