package document

import (
	"encoding/json"
	"time"
)

// EventKind classifies a change event. Only the four kinds below are
// accepted by the version controller; anything else is rejected before
// any write happens.
type EventKind string

const (
	KindInsert EventKind = "insert"
	KindDelete EventKind = "delete"
	KindFormat EventKind = "format"
	KindMeta   EventKind = "meta"
)

// ValidKind reports whether k is one of the recognized event kinds.
func ValidKind(k EventKind) bool {
	switch k {
	case KindInsert, KindDelete, KindFormat, KindMeta:
		return true
	}
	return false
}

// Document is the persistent document record. Content itself is not stored
// here; it is derived from the latest snapshot plus trailing events. The
// ContentText field is a denormalized excerpt kept fresh for listings and
// search.
//
// Lifecycle invariants: a disposable document has no owner and a set
// ExpiresAt, and is never public. Claiming flips all three in one atomic
// step.
type Document struct {
	ID                string     `json:"id" bson:"_id,omitempty"`
	Title             string     `json:"title" bson:"title"`
	OwnerID           string     `json:"ownerId,omitempty" bson:"ownerId,omitempty"`
	FolderID          string     `json:"folderId,omitempty" bson:"folderId,omitempty"`
	IsPublic          bool       `json:"isPublic" bson:"isPublic"`
	IsFeatured        bool       `json:"isFeatured" bson:"isFeatured"`
	IsDisposable      bool       `json:"isDisposable" bson:"isDisposable"`
	ContentText       string     `json:"contentText,omitempty" bson:"contentText,omitempty"`
	CurrentSnapshotID string     `json:"currentSnapshotId,omitempty" bson:"currentSnapshotId,omitempty"`
	CreatedAt         time.Time  `json:"createdAt" bson:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt" bson:"updatedAt"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty" bson:"expiresAt,omitempty"`
	AutoPublicDate    *time.Time `json:"autoPublicDate,omitempty" bson:"autoPublicDate,omitempty"`
}

// Event is one immutable, versioned change to a document. Versions are
// strictly increasing per document and never reused; they need not be
// gapless. The payload is opaque here and interpreted only by the replay
// engine.
type Event struct {
	ID        string          `json:"id" bson:"_id,omitempty"`
	DocID     string          `json:"docId" bson:"docId"`
	Version   int64           `json:"version" bson:"version"`
	Kind      EventKind       `json:"kind" bson:"kind"`
	Payload   json.RawMessage `json:"payload" bson:"payload"`
	CreatedAt time.Time       `json:"createdAt" bson:"createdAt"`
}

// Snapshot is a full-content checkpoint. Content holds the serialized
// replay content at the moment of creation; Version records the last event
// version folded into it, so readers replay only events with a greater
// version.
type Snapshot struct {
	ID          string          `json:"id" bson:"_id,omitempty"`
	DocID       string          `json:"docId" bson:"docId"`
	Version     int64           `json:"version" bson:"version"`
	Content     json.RawMessage `json:"content" bson:"content"`
	ContentText string          `json:"contentText,omitempty" bson:"contentText,omitempty"`
	CreatedAt   time.Time       `json:"createdAt" bson:"createdAt"`
}
