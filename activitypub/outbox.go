package activitypub

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/magpie-social/magpie/domain"
	"github.com/magpie-social/magpie/util"
)

// OutboxStore is the slice of the store outbound federation needs.
type OutboxStore interface {
	ListFollowers() ([]domain.Follower, error)
	EnqueueDelivery(item *domain.DeliveryQueueItem) error
}

// DeliveryResult reports the enqueue outcome for one follower.
type DeliveryResult struct {
	ActorURI string
	InboxURI string
	Err      error
}

// Client performs outbound federation: direct signed posts for Accepts and
// queued fan-out for everything addressed to the follower collection.
type Client struct {
	conf  *util.AppConfig
	keys  *Keyring
	store OutboxStore
	http  *http.Client
}

func NewClient(conf *util.AppConfig, keys *Keyring, store OutboxStore) *Client {
	return &Client{
		conf:  conf,
		keys:  keys,
		store: store,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

// SendActivity signs and posts one activity to a remote inbox.
func (c *Client) SendActivity(ctx context.Context, activity interface{}, inboxURI string) error {
	activityJSON, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}
	return c.sendRaw(ctx, activityJSON, inboxURI)
}

func (c *Client) sendRaw(ctx context.Context, activityJSON []byte, inboxURI string) error {
	hash := sha256.Sum256(activityJSON)
	digest := "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])

	req, err := http.NewRequestWithContext(ctx, "POST", inboxURI, bytes.NewReader(activityJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.GetNameAndVersion()+" ActivityPub")
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("Digest", digest)

	snapshot := c.keys.Snapshot()
	if err := SignRequest(req, snapshot.PrivateKey, snapshot.KeyID); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status: %d", resp.StatusCode)
	}

	log.Printf("Outbox: Sent activity to %s (status: %d)", inboxURI, resp.StatusCode)
	return nil
}

// SendAccept confirms a Follow back to its sender.
func (c *Client) SendAccept(ctx context.Context, followID string, remote *domain.RemoteActor) error {
	actorURI := c.conf.ActorURI()
	accept := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       fmt.Sprintf("https://%s/m/%s", c.conf.Conf.SslDomain, uuid.New().String()),
		"type":     "Accept",
		"actor":    actorURI,
		"object": map[string]interface{}{
			"id":     followID,
			"type":   "Follow",
			"actor":  remote.ActorURI,
			"object": actorURI,
		},
	}

	return c.SendActivity(ctx, accept, remote.InboxURI)
}

// DeliverToFollowers queues one copy of the activity per follower inbox.
// The activity is serialized once; the queue worker handles retries, so a
// single dead inbox cannot stall the rest of the fan-out.
func (c *Client) DeliverToFollowers(activity interface{}) ([]DeliveryResult, error) {
	activityJSON, err := json.Marshal(activity)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal activity: %w", err)
	}

	followers, err := c.store.ListFollowers()
	if err != nil {
		return nil, err
	}

	results := make([]DeliveryResult, 0, len(followers))
	for _, f := range followers {
		item := &domain.DeliveryQueueItem{
			Id:           uuid.New(),
			InboxURI:     f.InboxURI,
			ActivityJSON: string(activityJSON),
			Attempts:     0,
			NextRetryAt:  time.Now(),
			CreatedAt:    time.Now(),
		}
		results = append(results, DeliveryResult{
			ActorURI: f.ActorURI,
			InboxURI: f.InboxURI,
			Err:      c.store.EnqueueDelivery(item),
		})
	}

	log.Printf("Outbox: Queued delivery to %d followers", len(followers))
	return results, nil
}

// NotifyBookmarkCreated federates a new public bookmark to all followers.
func (c *Client) NotifyBookmarkCreated(b *domain.Bookmark) error {
	if !b.Public() {
		return nil
	}
	activity := WrapInActivity(c.conf, "Create", BookmarkToNote(c.conf, b))
	_, err := c.DeliverToFollowers(activity)
	return err
}

// NotifyBookmarkUpdated federates an edit of a public bookmark.
func (c *Client) NotifyBookmarkUpdated(b *domain.Bookmark) error {
	if !b.Public() {
		return nil
	}
	activity := WrapInActivity(c.conf, "Update", BookmarkToNote(c.conf, b))
	_, err := c.DeliverToFollowers(activity)
	return err
}

// NotifyBookmarkDeleted federates a tombstone for a removed bookmark.
func (c *Client) NotifyBookmarkDeleted(bookmarkId int64) error {
	activity := DeleteActivity(c.conf, BookmarkURI(c.conf, bookmarkId))
	_, err := c.DeliverToFollowers(activity)
	return err
}

// NotifyCommentCreated federates a local reply on one of our bookmarks.
func (c *Client) NotifyCommentCreated(comment *domain.Comment) error {
	activity := WrapInActivity(c.conf, "Create", CommentToNote(c.conf, comment))
	_, err := c.DeliverToFollowers(activity)
	return err
}
