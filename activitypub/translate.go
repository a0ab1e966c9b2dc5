package activitypub

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/magpie-social/magpie/domain"
	"github.com/magpie-social/magpie/util"
)

// ErrUnrepresentable marks an inbound object that cannot become a local
// record without inventing data (missing author or content).
var ErrUnrepresentable = errors.New("object not representable locally")

const publicAudience = "https://www.w3.org/ns/activitystreams#Public"

// NoteObject is the outbound representation of a bookmark or comment.
type NoteObject struct {
	Context      interface{} `json:"@context,omitempty"`
	ID           string      `json:"id"`
	Type         string      `json:"type"`
	AttributedTo string      `json:"attributedTo"`
	Content      string      `json:"content"`
	URL          string      `json:"url,omitempty"`
	InReplyTo    string      `json:"inReplyTo,omitempty"`
	Published    string      `json:"published"`
	Updated      string      `json:"updated,omitempty"`
	To           []string    `json:"to"`
	Cc           []string    `json:"cc"`
}

// OutboundActivity wraps a note (or tombstone) for delivery.
type OutboundActivity struct {
	Context   interface{} `json:"@context"`
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Actor     string      `json:"actor"`
	Published string      `json:"published"`
	To        []string    `json:"to"`
	Cc        []string    `json:"cc"`
	Object    interface{} `json:"object"`
}

// Tombstone replaces a deleted object in outbound Delete activities.
type Tombstone struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// BookmarkURI is the canonical ActivityPub id of a local bookmark.
func BookmarkURI(conf *util.AppConfig, id int64) string {
	return fmt.Sprintf("https://%s/bookmark/%d", conf.Conf.SslDomain, id)
}

// CommentURI is the canonical ActivityPub id of a local comment.
func CommentURI(conf *util.AppConfig, id int64) string {
	return fmt.Sprintf("https://%s/comment/%d", conf.Conf.SslDomain, id)
}

func followersURI(conf *util.AppConfig) string {
	return conf.ActorURI() + "/followers"
}

// BookmarkToNote renders a bookmark as a public Note whose content links to
// the bookmarked page.
func BookmarkToNote(conf *util.AppConfig, b *domain.Bookmark) NoteObject {
	content := fmt.Sprintf(`<p><a href="%s" rel="nofollow noopener noreferrer">%s</a></p>`,
		html.EscapeString(b.URL), html.EscapeString(b.Title))
	if b.Description != "" {
		content += fmt.Sprintf("<p>%s</p>", html.EscapeString(b.Description))
	}

	note := NoteObject{
		ID:           BookmarkURI(conf, b.Id),
		Type:         "Note",
		AttributedTo: conf.ActorURI(),
		Content:      content,
		URL:          b.URL,
		Published:    b.CreatedAt.UTC().Format(time.RFC3339),
		To:           []string{publicAudience},
		Cc:           []string{followersURI(conf)},
	}
	if b.UpdatedAt != nil {
		note.Updated = b.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return note
}

// CommentToNote renders a local comment as a Note replying to its bookmark.
func CommentToNote(conf *util.AppConfig, c *domain.Comment) NoteObject {
	return NoteObject{
		ID:           CommentURI(conf, c.Id),
		Type:         "Note",
		AttributedTo: conf.ActorURI(),
		Content:      fmt.Sprintf("<p>%s</p>", html.EscapeString(c.Content)),
		InReplyTo:    BookmarkURI(conf, c.BookmarkId),
		Published:    c.CreatedAt.UTC().Format(time.RFC3339),
		To:           []string{publicAudience},
		Cc:           []string{followersURI(conf)},
	}
}

// WrapInActivity builds a Create/Update envelope around a note. The activity
// id is minted fresh per delivery batch under /m/.
func WrapInActivity(conf *util.AppConfig, activityType string, note NoteObject) OutboundActivity {
	return OutboundActivity{
		Context:   "https://www.w3.org/ns/activitystreams",
		ID:        fmt.Sprintf("https://%s/m/%s", conf.Conf.SslDomain, uuid.New().String()),
		Type:      activityType,
		Actor:     conf.ActorURI(),
		Published: time.Now().UTC().Format(time.RFC3339),
		To:        []string{publicAudience},
		Cc:        []string{followersURI(conf)},
		Object:    note,
	}
}

// DeleteActivity builds a Delete envelope carrying a tombstone for a
// formerly public object.
func DeleteActivity(conf *util.AppConfig, objectURI string) OutboundActivity {
	return OutboundActivity{
		Context:   "https://www.w3.org/ns/activitystreams",
		ID:        fmt.Sprintf("https://%s/m/%s", conf.Conf.SslDomain, uuid.New().String()),
		Type:      "Delete",
		Actor:     conf.ActorURI(),
		Published: time.Now().UTC().Format(time.RFC3339),
		To:        []string{publicAudience},
		Cc:        []string{followersURI(conf)},
		Object:    Tombstone{ID: objectURI, Type: "Tombstone"},
	}
}

// RemoteNote is the inbound half: the fields of a remote Note we keep.
type RemoteNote struct {
	ID           string
	AttributedTo string
	Content      string
	InReplyTo    string
	Published    time.Time
}

// FromNoteObject decodes an embedded Create object into a RemoteNote.
// Objects without author or content are unrepresentable; attributedTo may
// arrive as a string or as an embedded object with an id.
func FromNoteObject(raw json.RawMessage) (*RemoteNote, error) {
	var obj struct {
		ID           string          `json:"id"`
		Type         string          `json:"type"`
		AttributedTo json.RawMessage `json:"attributedTo"`
		Content      string          `json:"content"`
		InReplyTo    string          `json:"inReplyTo"`
		Published    string          `json:"published"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrepresentable, err)
	}

	switch obj.Type {
	case "Note", "Article", "Page":
	default:
		return nil, fmt.Errorf("%w: object type %q", ErrUnrepresentable, obj.Type)
	}

	author := referenceURI(obj.AttributedTo)
	if author == "" || obj.Content == "" {
		return nil, fmt.Errorf("%w: missing attributedTo or content", ErrUnrepresentable)
	}

	published := time.Now()
	if obj.Published != "" {
		if t, err := time.Parse(time.RFC3339, obj.Published); err == nil {
			published = t
		}
	}

	return &RemoteNote{
		ID:           obj.ID,
		AttributedTo: author,
		Content:      obj.Content,
		InReplyTo:    obj.InReplyTo,
		Published:    published,
	}, nil
}

// referenceURI reads a URI that may be encoded as a JSON string or as an
// object with an "id" field.
func referenceURI(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

var (
	bookmarkRefPattern = regexp.MustCompile(`^https://([^/]+)/bookmark/(\d+)$`)
	commentRefPattern  = regexp.MustCompile(`^https://([^/]+)/comment/(\d+)$`)
)

// ParseLocalBookmarkRef reports whether a URI names a bookmark on this
// instance, and which one.
func ParseLocalBookmarkRef(conf *util.AppConfig, uri string) (int64, bool) {
	m := bookmarkRefPattern.FindStringSubmatch(uri)
	if m == nil || m[1] != conf.Conf.SslDomain {
		return 0, false
	}
	id, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// ParseLocalCommentRef reports whether a URI names a local comment.
func ParseLocalCommentRef(conf *util.AppConfig, uri string) (int64, bool) {
	m := commentRefPattern.FindStringSubmatch(uri)
	if m == nil || m[1] != conf.Conf.SslDomain {
		return 0, false
	}
	id, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
