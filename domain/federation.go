package domain

import (
	"time"

	"github.com/google/uuid"
)

// RemoteActor is a cached federated identity. An entry older than the
// resolver TTL is stale and must be re-fetched before its key is trusted.
type RemoteActor struct {
	ActorURI     string
	Username     string
	Domain       string
	InboxURI     string
	PublicKeyPem string
	FetchedAt    time.Time
}

// Follower links a remote actor to the local account. The inbox URI is
// denormalized onto the row so fan-out never depends on a live resolution.
type Follower struct {
	Id        uuid.UUID
	ActorURI  string
	InboxURI  string
	CreatedAt time.Time
}

// Engagement kinds recorded against local bookmarks.
const (
	EngagementLike     = "like"
	EngagementAnnounce = "announce"
)

// Engagement is one remote Like or Announce of a local bookmark, keyed by
// the activity URI so Undo and Delete can remove it exactly once.
type Engagement struct {
	Id          uuid.UUID
	ActivityURI string
	BookmarkId  int64
	Kind        string
	ActorURI    string
	CreatedAt   time.Time
}

// DeliveryQueueItem is one pending outbound delivery to a single inbox.
type DeliveryQueueItem struct {
	Id           uuid.UUID
	InboxURI     string
	ActivityJSON string
	Attempts     int
	NextRetryAt  time.Time
	CreatedAt    time.Time
}
