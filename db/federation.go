package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/magpie-social/magpie/domain"
)

// Follower queries
const (
	sqlInsertFollower  = `INSERT OR IGNORE INTO followers(id, actor_uri, inbox_uri, created_at) VALUES (?, ?, ?, ?)`
	sqlDeleteFollower  = `DELETE FROM followers WHERE actor_uri = ?`
	sqlSelectFollowers = `SELECT id, actor_uri, inbox_uri, created_at FROM followers ORDER BY created_at ASC`
	sqlCountFollowers  = `SELECT COUNT(*) FROM followers`
)

// AddFollower records a follow relationship. The follower set is a set:
// re-adding an existing actor URI is a no-op, not an error.
func (db *DB) AddFollower(f *domain.Follower) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertFollower, f.Id.String(), f.ActorURI, f.InboxURI, f.CreatedAt)
		return err
	})
}

// RemoveFollower drops the relationship; removing an unknown actor is fine.
func (db *DB) RemoveFollower(actorURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollower, actorURI)
		return err
	})
}

func (db *DB) ListFollowers() ([]domain.Follower, error) {
	rows, err := db.db.Query(sqlSelectFollowers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var followers []domain.Follower
	for rows.Next() {
		var f domain.Follower
		var idStr string
		if err := rows.Scan(&idStr, &f.ActorURI, &f.InboxURI, &f.CreatedAt); err != nil {
			return followers, err
		}
		f.Id, _ = uuid.Parse(idStr)
		followers = append(followers, f)
	}
	return followers, rows.Err()
}

func (db *DB) CountFollowers() (int, error) {
	var count int
	err := db.db.QueryRow(sqlCountFollowers).Scan(&count)
	return count, err
}

// Engagement queries
const (
	sqlInsertEngagement           = `INSERT OR IGNORE INTO engagements(id, activity_uri, bookmark_id, kind, actor_uri, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlDeleteEngagementByActivity = `DELETE FROM engagements WHERE activity_uri = ?`
	sqlCountEngagementsByBookmark = `SELECT COUNT(*) FROM engagements WHERE bookmark_id = ?`
	sqlCountEngagementsByKind     = `SELECT COUNT(*) FROM engagements WHERE bookmark_id = ? AND kind = ?`
)

// RecordEngagement stores one remote Like/Announce. Keyed by activity URI,
// so replaying the same activity leaves the count unchanged.
func (db *DB) RecordEngagement(e *domain.Engagement) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertEngagement, e.Id.String(), e.ActivityURI, e.BookmarkId, e.Kind, e.ActorURI, e.CreatedAt)
		return err
	})
}

func (db *DB) DeleteEngagementByActivityURI(activityURI string) (bool, error) {
	var deleted bool
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlDeleteEngagementByActivity, activityURI)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		deleted = n > 0
		return err
	})
	return deleted, err
}

func (db *DB) CountEngagements(bookmarkId int64) (int, error) {
	var count int
	err := db.db.QueryRow(sqlCountEngagementsByBookmark, bookmarkId).Scan(&count)
	return count, err
}

func (db *DB) CountEngagementsByKind(bookmarkId int64, kind string) (int, error) {
	var count int
	err := db.db.QueryRow(sqlCountEngagementsByKind, bookmarkId, kind).Scan(&count)
	return count, err
}

// Processed-activity (deduplication) queries
const (
	sqlClaimActivity   = `INSERT OR IGNORE INTO processed_activities(activity_uri, processed_at) VALUES (?, ?)`
	sqlHasActivity     = `SELECT COUNT(*) FROM processed_activities WHERE activity_uri = ?`
	sqlReleaseActivity = `DELETE FROM processed_activities WHERE activity_uri = ?`
)

// ClaimActivity atomically claims an activity id before side effects run.
// Returns false when the id was already claimed (duplicate delivery).
func (db *DB) ClaimActivity(activityURI string) (bool, error) {
	var claimed bool
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlClaimActivity, activityURI, time.Now())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		claimed = n > 0
		return err
	})
	return claimed, err
}

func (db *DB) HasProcessedActivity(activityURI string) (bool, error) {
	var count int
	if err := db.db.QueryRow(sqlHasActivity, activityURI).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// ReleaseActivity drops a claim so a transiently failed delivery can be
// retried by the sender.
func (db *DB) ReleaseActivity(activityURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlReleaseActivity, activityURI)
		return err
	})
}

// Delivery queue queries
const (
	sqlInsertDeliveryQueue     = `INSERT INTO delivery_queue(id, inbox_uri, activity_json, attempts, next_retry_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectPendingDeliveries = `SELECT id, inbox_uri, activity_json, attempts, next_retry_at, created_at FROM delivery_queue WHERE next_retry_at <= ? ORDER BY created_at ASC LIMIT ?`
	sqlUpdateDeliveryAttempt   = `UPDATE delivery_queue SET attempts = ?, next_retry_at = ? WHERE id = ?`
	sqlDeleteDelivery          = `DELETE FROM delivery_queue WHERE id = ?`
)

func (db *DB) EnqueueDelivery(item *domain.DeliveryQueueItem) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDeliveryQueue,
			item.Id.String(),
			item.InboxURI,
			item.ActivityJSON,
			item.Attempts,
			item.NextRetryAt,
			item.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadPendingDeliveries(limit int) ([]domain.DeliveryQueueItem, error) {
	rows, err := db.db.Query(sqlSelectPendingDeliveries, time.Now(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.DeliveryQueueItem
	for rows.Next() {
		var item domain.DeliveryQueueItem
		var idStr string
		if err := rows.Scan(&idStr, &item.InboxURI, &item.ActivityJSON, &item.Attempts, &item.NextRetryAt, &item.CreatedAt); err != nil {
			return items, err
		}
		item.Id, _ = uuid.Parse(idStr)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (db *DB) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateDeliveryAttempt, attempts, nextRetry, id.String())
		return err
	})
}

func (db *DB) DeleteDelivery(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteDelivery, id.String())
		return err
	})
}
