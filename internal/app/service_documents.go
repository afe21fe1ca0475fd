package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"planroom/api/internal/notify"
	"planroom/api/internal/search"
	"planroom/api/internal/store"
	"planroom/api/internal/util"
)

type DocumentInput struct {
	ProjectID        string `json:"projectId"`
	Name             string `json:"name"`
	ContentType      string `json:"contentType"`
	ParentDocumentID string `json:"parentDocumentId"`
	// FileData is the base64-encoded file content. Optional; metadata-only
	// versions are allowed when object storage is not configured.
	FileData string `json:"fileData"`
}

func documentPayload(d store.Document) map[string]any {
	payload := map[string]any{
		"id":          d.ID,
		"projectId":   d.ProjectID,
		"name":        d.Name,
		"fileKey":     d.FileKey,
		"fileSize":    d.FileSize,
		"contentType": d.ContentType,
		"version":     d.Version,
		"isLatest":    d.IsLatest,
		"uploadedBy":  d.UploadedBy,
		"createdAt":   d.CreatedAt.Format(time.RFC3339),
	}
	if d.ParentDocumentID != nil {
		payload["parentDocumentId"] = *d.ParentDocumentID
	}
	return payload
}

// CreateDocumentVersion uploads a file (when provided) and appends a version
// to the chain. A missing or foreign parent is a 404 before anything mutates.
func (s *Service) CreateDocumentVersion(ctx context.Context, session Session, input DocumentInput) (map[string]any, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, validationError("name is required")
	}
	project, _, err := s.authorizeProject(ctx, session, input.ProjectID)
	if err != nil {
		return nil, err
	}

	doc := store.Document{
		ID:          util.NewID("doc"),
		ProjectID:   project.ID,
		Name:        name,
		ContentType: strings.TrimSpace(input.ContentType),
		UploadedBy:  session.UserID,
	}
	if parent := strings.TrimSpace(input.ParentDocumentID); parent != "" {
		doc.ParentDocumentID = &parent
	}

	if input.FileData != "" {
		raw, err := base64.StdEncoding.DecodeString(input.FileData)
		if err != nil {
			return nil, validationError("fileData must be base64 encoded")
		}
		doc.FileSize = int64(len(raw))
		if s.files != nil {
			doc.FileKey = fmt.Sprintf("projects/%s/documents/%s", project.ID, doc.ID)
			if _, err := s.files.Upload(ctx, doc.FileKey, bytes.NewReader(raw), doc.FileSize, doc.ContentType); err != nil {
				return nil, fmt.Errorf("store document file: %w", err)
			}
		}
	}

	created, err := s.store.InsertDocumentVersion(ctx, doc)
	if err != nil {
		// Roll back the orphaned upload before surfacing the error.
		if doc.FileKey != "" && s.files != nil {
			_ = s.files.Remove(ctx, doc.FileKey)
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("Parent document not found")
		}
		return nil, err
	}

	if s.search != nil {
		s.search.IndexDocument(search.DocumentRecord{
			ID:        created.ID,
			Name:      created.Name,
			ProjectID: created.ProjectID,
			Version:   created.Version,
		})
		if created.ParentDocumentID != nil {
			// The superseded version is no longer the face of the chain.
			s.search.DeleteDocument(*created.ParentDocumentID)
		}
	}

	s.notifyProjectMembers(ctx, project, session.UserID, notify.Event{
		Kind:        notify.KindDocumentUploaded,
		Title:       "New document version",
		Body:        fmt.Sprintf("%s uploaded %s (v%d) in %s.", session.UserName, created.Name, created.Version, project.Name),
		EntityType:  "document",
		EntityID:    created.ID,
		ProjectName: project.Name,
	})

	return documentPayload(created), nil
}

func (s *Service) ListProjectDocuments(ctx context.Context, session Session, projectID string) ([]map[string]any, error) {
	if _, _, err := s.authorizeProject(ctx, session, projectID); err != nil {
		return nil, err
	}
	documents, err := s.store.ListLatestDocuments(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(documents))
	for _, d := range documents {
		items = append(items, documentPayload(d))
	}
	return items, nil
}

// GetDocument returns one version, with a download URL when storage holds the file.
func (s *Service) GetDocument(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("Document not found")
		}
		return nil, err
	}
	if _, _, err := s.authorizeProject(ctx, session, doc.ProjectID); err != nil {
		return nil, err
	}

	payload := documentPayload(doc)
	if doc.FileKey != "" && s.files != nil {
		url, err := s.files.PresignedURL(ctx, doc.FileKey, doc.Name, 15*time.Minute)
		if err == nil {
			payload["downloadUrl"] = url
		}
	}
	return payload, nil
}

// ListDocumentHistory returns every version in the chain, newest first.
func (s *Service) ListDocumentHistory(ctx context.Context, session Session, documentID string) ([]map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("Document not found")
		}
		return nil, err
	}
	if _, _, err := s.authorizeProject(ctx, session, doc.ProjectID); err != nil {
		return nil, err
	}

	history, err := s.store.ListDocumentHistory(ctx, documentID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(history))
	for _, d := range history {
		items = append(items, documentPayload(d))
	}
	return items, nil
}

// DeleteDocument removes the whole version chain and its stored files.
func (s *Service) DeleteDocument(ctx context.Context, session Session, documentID string) error {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("Document not found")
		}
		return err
	}
	if _, _, err := s.requireProjectManager(ctx, session, doc.ProjectID); err != nil {
		return err
	}

	fileKeys, err := s.store.DeleteDocumentChain(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("Document not found")
		}
		return err
	}

	if s.files != nil {
		for _, key := range fileKeys {
			if key != "" {
				_ = s.files.Remove(ctx, key)
			}
		}
	}
	if s.search != nil {
		s.search.DeleteDocument(documentID)
	}
	return nil
}

// notifyProjectMembers dispatches one event per member, skipping the actor.
// Dispatch failures are logged inside the dispatcher and never fail the request.
func (s *Service) notifyProjectMembers(ctx context.Context, project store.Project, actorID string, ev notify.Event) {
	if s.notifier == nil {
		return
	}
	members, err := s.store.ListProjectMembers(ctx, project.ID)
	if err != nil {
		return
	}
	seen := map[string]bool{actorID: true}
	for _, member := range members {
		if seen[member.UserID] {
			continue
		}
		seen[member.UserID] = true
		event := ev
		event.UserID = member.UserID
		_ = s.notifier.Dispatch(ctx, event)
	}
	if project.CreatedBy != "" && !seen[project.CreatedBy] {
		event := ev
		event.UserID = project.CreatedBy
		_ = s.notifier.Dispatch(ctx, event)
	}
}
