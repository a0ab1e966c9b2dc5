package db

import (
	"database/sql"
	"log"
)

const (
	// Single local account, including the web signing keypair
	sqlCreateAccountsTable = `CREATE TABLE IF NOT EXISTS accounts(
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		display_name TEXT,
		summary TEXT,
		web_public_key TEXT,
		web_private_key TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateBookmarksTable = `CREATE TABLE IF NOT EXISTS bookmarks(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		url TEXT NOT NULL,
		description TEXT,
		visibility TEXT DEFAULT 'public',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP
	)`

	sqlCreateBookmarksIndices = `
		CREATE INDEX IF NOT EXISTS idx_bookmarks_created_at ON bookmarks(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_bookmarks_visibility ON bookmarks(visibility);
	`

	// Comments hold both local replies and remote ones delivered via Create;
	// remote rows carry actor_uri plus the activity that produced them
	sqlCreateCommentsTable = `CREATE TABLE IF NOT EXISTS comments(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		bookmark_id INTEGER NOT NULL,
		actor_uri TEXT DEFAULT '',
		content TEXT NOT NULL,
		activity_uri TEXT DEFAULT '',
		object_uri TEXT DEFAULT '',
		visible INTEGER DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateCommentsIndices = `
		CREATE INDEX IF NOT EXISTS idx_comments_bookmark_id ON comments(bookmark_id);
		CREATE INDEX IF NOT EXISTS idx_comments_activity_uri ON comments(activity_uri);
	`

	// Follower set; the actor URI uniqueness is what makes it a set
	sqlCreateFollowersTable = `CREATE TABLE IF NOT EXISTS followers(
		id TEXT NOT NULL PRIMARY KEY,
		actor_uri TEXT UNIQUE NOT NULL,
		inbox_uri TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	// One row per remote Like/Announce, keyed by activity URI so a Delete
	// or Undo removes exactly the engagement it refers to
	sqlCreateEngagementsTable = `CREATE TABLE IF NOT EXISTS engagements(
		id TEXT NOT NULL PRIMARY KEY,
		activity_uri TEXT UNIQUE NOT NULL,
		bookmark_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		actor_uri TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateEngagementsIndices = `
		CREATE INDEX IF NOT EXISTS idx_engagements_bookmark_id ON engagements(bookmark_id);
	`

	// Delivery deduplication: the primary key doubles as the atomic claim
	sqlCreateProcessedActivitiesTable = `CREATE TABLE IF NOT EXISTS processed_activities(
		activity_uri TEXT NOT NULL PRIMARY KEY,
		processed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateDeliveryQueueTable = `CREATE TABLE IF NOT EXISTS delivery_queue(
		id TEXT NOT NULL PRIMARY KEY,
		inbox_uri TEXT NOT NULL,
		activity_json TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		next_retry_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateDeliveryQueueIndices = `
		CREATE INDEX IF NOT EXISTS idx_delivery_queue_next_retry ON delivery_queue(next_retry_at);
	`
)

// RunMigrations creates all tables and indices.
func (db *DB) RunMigrations() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		tables := []struct {
			name string
			ddl  string
		}{
			{"accounts", sqlCreateAccountsTable},
			{"bookmarks", sqlCreateBookmarksTable},
			{"comments", sqlCreateCommentsTable},
			{"followers", sqlCreateFollowersTable},
			{"engagements", sqlCreateEngagementsTable},
			{"processed_activities", sqlCreateProcessedActivitiesTable},
			{"delivery_queue", sqlCreateDeliveryQueueTable},
		}
		for _, table := range tables {
			if _, err := tx.Exec(table.ddl); err != nil {
				log.Printf("Error creating table %s: %v", table.name, err)
				return err
			}
		}

		indices := []string{
			sqlCreateBookmarksIndices,
			sqlCreateCommentsIndices,
			sqlCreateEngagementsIndices,
			sqlCreateDeliveryQueueIndices,
		}
		for _, idx := range indices {
			if _, err := tx.Exec(idx); err != nil {
				log.Printf("Warning: Failed to create indices: %v", err)
			}
		}

		return nil
	})
}
