package domain

import "time"

// Bookmark is a locally stored link. Ids are sequential integers so bookmark
// URLs stay short and stable (https://<domain>/bookmark/42).
type Bookmark struct {
	Id          int64
	Title       string
	URL         string
	Description string
	Visibility  string // "public" or "private"; only public bookmarks federate
	CreatedAt   time.Time
	UpdatedAt   *time.Time
}

// Public reports whether the bookmark may appear in feeds and activities.
func (b *Bookmark) Public() bool {
	return b.Visibility != "private"
}

// Comment is a reply attached to a bookmark. Local comments have an empty
// ActorURI; remote ones carry the author actor and the Create activity that
// delivered them (the handle used by Delete tombstones).
type Comment struct {
	Id          int64
	BookmarkId  int64
	ActorURI    string
	Content     string
	ActivityURI string
	ObjectURI   string
	Visible     bool
	CreatedAt   time.Time
}

// Remote reports whether the comment arrived over federation.
func (c *Comment) Remote() bool {
	return c.ActorURI != ""
}
