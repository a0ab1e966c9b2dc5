package db

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/magpie-social/magpie/domain"
	"github.com/magpie-social/magpie/util"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the database struct.
type DB struct {
	db *sql.DB
}

var (
	dbInstance *DB
	dbOnce     sync.Once
)

const DatabaseFileName = "magpie.db"

const (
	sqlInsertAccount = `INSERT INTO accounts(id, username, display_name, summary, web_public_key, web_private_key, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectAccount = `SELECT id, username, display_name, summary, web_public_key, web_private_key, created_at FROM accounts WHERE username = ?`
	sqlUpdateKeys    = `UPDATE accounts SET web_public_key = ?, web_private_key = ? WHERE username = ?`

	sqlInsertBookmark        = `INSERT INTO bookmarks(title, url, description, visibility, created_at) VALUES (?, ?, ?, ?, ?)`
	sqlSelectBookmarkById    = `SELECT id, title, url, description, visibility, created_at, updated_at FROM bookmarks WHERE id = ?`
	sqlSelectPublicBookmarks = `SELECT id, title, url, description, visibility, created_at, updated_at FROM bookmarks WHERE visibility = 'public' ORDER BY created_at DESC LIMIT ?`
	sqlUpdateBookmark        = `UPDATE bookmarks SET title = ?, url = ?, description = ?, visibility = ?, updated_at = ? WHERE id = ?`
	sqlDeleteBookmark        = `DELETE FROM bookmarks WHERE id = ?`
	sqlCountBookmarks        = `SELECT COUNT(*) FROM bookmarks WHERE visibility = 'public'`

	sqlInsertComment            = `INSERT INTO comments(bookmark_id, actor_uri, content, activity_uri, object_uri, visible, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectCommentById        = `SELECT id, bookmark_id, actor_uri, content, activity_uri, object_uri, visible, created_at FROM comments WHERE id = ?`
	sqlSelectCommentsByBookmark = `SELECT id, bookmark_id, actor_uri, content, activity_uri, object_uri, visible, created_at FROM comments WHERE bookmark_id = ? AND visible = 1 ORDER BY created_at ASC`
	sqlDeleteRemoteCommentByRef = `DELETE FROM comments WHERE (activity_uri = ? OR object_uri = ?) AND actor_uri != ''`
	sqlUpdateRemoteComment      = `UPDATE comments SET content = ? WHERE object_uri = ? AND actor_uri != ''`
)

// Open opens a database at the given path and configures it for the
// concurrent federation workload.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	var journalMode string
	if err := sqlDB.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		log.Printf("Warning: Failed to enable WAL mode: %v", err)
	} else {
		log.Printf("Database journal mode: %s", journalMode)
	}

	sqlDB.Exec("PRAGMA synchronous = NORMAL")
	sqlDB.Exec("PRAGMA temp_store = MEMORY")
	sqlDB.Exec("PRAGMA busy_timeout = 5000")
	sqlDB.Exec("PRAGMA foreign_keys = ON")

	return &DB{db: sqlDB}, nil
}

// GetDB returns the process-wide store, opening it on first use.
func GetDB() *DB {
	dbOnce.Do(func() {
		database, err := Open(util.ResolveFilePath(DatabaseFileName))
		if err != nil {
			panic(err)
		}
		dbInstance = database

		if err := dbInstance.RunMigrations(); err != nil {
			panic(err)
		}
	})

	return dbInstance
}

// wrapTransaction runs the given function within a transaction.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("error starting transaction: %s", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			serr, ok := err.(*sqlite.Error)
			if ok && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			tx.Rollback()
			log.Printf("error in transaction: %s", err)
			return err
		}
		err = tx.Commit()
		if err != nil {
			log.Printf("error committing transaction: %s", err)
			return err
		}
		break
	}
	return nil
}

// SaveAccount inserts the local account row if it does not exist yet.
func (db *DB) SaveAccount(acc *domain.Account) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertAccount,
			acc.Id.String(),
			acc.Username,
			acc.DisplayName,
			acc.Summary,
			acc.WebPublicKey,
			acc.WebPrivateKey,
			acc.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadAccount(username string) (*domain.Account, error) {
	row := db.db.QueryRow(sqlSelectAccount, username)
	var acc domain.Account
	var idStr string
	err := row.Scan(&idStr, &acc.Username, &acc.DisplayName, &acc.Summary, &acc.WebPublicKey, &acc.WebPrivateKey, &acc.CreatedAt)
	if err != nil {
		return nil, err
	}
	acc.Id, _ = uuid.Parse(idStr)
	return &acc, nil
}

// UpdateAccountKeys swaps the signing keypair (key rotation).
func (db *DB) UpdateAccountKeys(username, publicPem, privatePem string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateKeys, publicPem, privatePem, username)
		return err
	})
}

// CreateBookmark stores a bookmark and returns its assigned id.
func (db *DB) CreateBookmark(b *domain.Bookmark) (int64, error) {
	var id int64
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlInsertBookmark, b.Title, b.URL, b.Description, b.Visibility, b.CreatedAt)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	b.Id = id
	return id, nil
}

func (db *DB) ReadBookmark(id int64) (*domain.Bookmark, error) {
	row := db.db.QueryRow(sqlSelectBookmarkById, id)
	var b domain.Bookmark
	err := row.Scan(&b.Id, &b.Title, &b.URL, &b.Description, &b.Visibility, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (db *DB) ListPublicBookmarks(limit int) ([]domain.Bookmark, error) {
	rows, err := db.db.Query(sqlSelectPublicBookmarks, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookmarks []domain.Bookmark
	for rows.Next() {
		var b domain.Bookmark
		if err := rows.Scan(&b.Id, &b.Title, &b.URL, &b.Description, &b.Visibility, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return bookmarks, err
		}
		bookmarks = append(bookmarks, b)
	}
	return bookmarks, rows.Err()
}

func (db *DB) UpdateBookmark(b *domain.Bookmark) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		now := time.Now()
		b.UpdatedAt = &now
		_, err := tx.Exec(sqlUpdateBookmark, b.Title, b.URL, b.Description, b.Visibility, b.UpdatedAt, b.Id)
		return err
	})
}

func (db *DB) DeleteBookmark(id int64) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteBookmark, id)
		return err
	})
}

func (db *DB) CountBookmarks() (int, error) {
	var count int
	err := db.db.QueryRow(sqlCountBookmarks).Scan(&count)
	return count, err
}

// CreateComment stores a comment row, local or remote.
func (db *DB) CreateComment(c *domain.Comment) (int64, error) {
	var id int64
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlInsertComment, c.BookmarkId, c.ActorURI, c.Content, c.ActivityURI, c.ObjectURI, c.Visible, c.CreatedAt)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	c.Id = id
	return id, nil
}

func (db *DB) ReadComment(id int64) (*domain.Comment, error) {
	row := db.db.QueryRow(sqlSelectCommentById, id)
	var c domain.Comment
	err := row.Scan(&c.Id, &c.BookmarkId, &c.ActorURI, &c.Content, &c.ActivityURI, &c.ObjectURI, &c.Visible, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (db *DB) ListCommentsByBookmark(bookmarkId int64) ([]domain.Comment, error) {
	rows, err := db.db.Query(sqlSelectCommentsByBookmark, bookmarkId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.Id, &c.BookmarkId, &c.ActorURI, &c.Content, &c.ActivityURI, &c.ObjectURI, &c.Visible, &c.CreatedAt); err != nil {
			return comments, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// DeleteRemoteCommentByRef removes a remote comment referenced either by the
// activity that delivered it or by the note's own id. Reports whether a row
// was actually removed; a missing target is not an error (tombstone
// semantics). Local comments (empty actor_uri) are never touched.
func (db *DB) DeleteRemoteCommentByRef(ref string) (bool, error) {
	var deleted bool
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlDeleteRemoteCommentByRef, ref, ref)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		deleted = n > 0
		return err
	})
	return deleted, err
}

// UpdateRemoteCommentContent replaces the content of a remote comment when
// its author edits the original note.
func (db *DB) UpdateRemoteCommentContent(objectURI, content string) (bool, error) {
	var updated bool
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlUpdateRemoteComment, content, objectURI)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		updated = n > 0
		return err
	})
	return updated, err
}
