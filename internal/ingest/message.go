// Package ingest moves producer submissions from the message broker into the
// durable upload queue.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/r03el/photograbber/internal/queue/domain"
)

// ErrMalformedMessage is returned for message bodies that can never be enqueued
var ErrMalformedMessage = errors.New("malformed submission message")

// kindDocument marks a document attachment whose kind is derived from its
// MIME type or file name
const kindDocument = "document"

// SubmissionMessage is the broker wire format of a submission
type SubmissionMessage struct {
	FileRef       string `json:"file_ref"`
	GroupID       int64  `json:"group_id"`
	UserID        int64  `json:"user_id"`
	SubmittedAtMs int64  `json:"submitted_at_ms"`
	MediaKind     string `json:"media_kind"`
	MimeType      string `json:"mime_type,omitempty"`
	FileName      string `json:"file_name,omitempty"`
}

// DecodeSubmission parses and validates a broker message body
func DecodeSubmission(body []byte) (domain.Submission, error) {
	var msg SubmissionMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return domain.Submission{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return msg.Submission()
}

// Submission converts the message into a validated submission
func (m SubmissionMessage) Submission() (domain.Submission, error) {
	kind := domain.MediaKind(m.MediaKind)
	if m.MediaKind == kindDocument {
		var ok bool
		kind, ok = domain.KindFromDocument(m.MimeType, m.FileName)
		if !ok {
			return domain.Submission{}, fmt.Errorf("%w: document %q is neither image nor video", ErrMalformedMessage, m.FileName)
		}
	}

	sub := domain.Submission{
		ExternalFileRef:  m.FileRef,
		OriginGroupID:    m.GroupID,
		OriginUserID:     m.UserID,
		SubmittedAtMs:    m.SubmittedAtMs,
		MediaKind:        kind,
		OriginalFileName: m.FileName,
	}
	if err := sub.Validate(); err != nil {
		return domain.Submission{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return sub, nil
}

// EncodeSubmission renders a submission in the broker wire format
func EncodeSubmission(sub domain.Submission) ([]byte, error) {
	return json.Marshal(SubmissionMessage{
		FileRef:       sub.ExternalFileRef,
		GroupID:       sub.OriginGroupID,
		UserID:        sub.OriginUserID,
		SubmittedAtMs: sub.SubmittedAtMs,
		MediaKind:     string(sub.MediaKind),
		FileName:      sub.OriginalFileName,
	})
}
