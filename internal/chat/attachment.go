// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

// =============================================================================
// ATTACHMENT KINDS
// =============================================================================

// AttachmentKind classifies the payload pinned to a message.
type AttachmentKind string

const (
	AttachmentPlainText    AttachmentKind = "plain_text"
	AttachmentCode         AttachmentKind = "code"
	AttachmentPDF          AttachmentKind = "pdf"
	AttachmentDocx         AttachmentKind = "docx"
	AttachmentPptx         AttachmentKind = "pptx"
	AttachmentXlsx         AttachmentKind = "xlsx"
	AttachmentOdt          AttachmentKind = "odt"
	AttachmentWebsite      AttachmentKind = "website"
	AttachmentYouTube      AttachmentKind = "youtube"
	AttachmentImage        AttachmentKind = "image"
	AttachmentLink         AttachmentKind = "link"
	AttachmentThought      AttachmentKind = "thought"
	AttachmentTool         AttachmentKind = "tool"
	AttachmentNotebook     AttachmentKind = "notebook"
	AttachmentModelContext AttachmentKind = "model_context"
)

// =============================================================================
// ATTACHMENTS
// =============================================================================

// TransientAttachmentID marks an attachment that has not been persisted.
const TransientAttachmentID = -1

// Attachment is a typed payload pinned to a message.
//
// Image payloads are base64 PNG/JPEG; link payloads are URIs; the rest are
// UTF-8 text.
type Attachment struct {
	ID      int64          `json:"id"`
	Name    string         `json:"name"`
	Kind    AttachmentKind `json:"kind"`
	Payload string         `json:"payload"`
}

// NewAttachment creates a transient attachment.
func NewAttachment(name string, kind AttachmentKind, payload string) Attachment {
	return Attachment{
		ID:      TransientAttachmentID,
		Name:    name,
		Kind:    kind,
		Payload: payload,
	}
}
