package web

import (
	"encoding/json"
	"fmt"

	"github.com/magpie-social/magpie/activitypub"
	"github.com/magpie-social/magpie/db"
	"github.com/magpie-social/magpie/util"
)

type action uint

const (
	id action = iota
	inbox
	outbox
	followers
	following
)

func getIRI(domain string, username string, a action) string {
	prefix := fmt.Sprintf("https://%s/u/%s", domain, username)
	switch a {
	case inbox:
		return fmt.Sprintf("https://%s/api/inbox", domain)
	case outbox:
		return fmt.Sprintf("%s/outbox", prefix)
	case followers:
		return fmt.Sprintf("%s/followers", prefix)
	case following:
		return fmt.Sprintf("%s/following", prefix)
	case id:
		return prefix
	default:
		return ""
	}
}

// GetActor renders the local account as an ActivityPub Person document.
func GetActor(store *db.DB, conf *util.AppConfig, username string) (string, error) {
	acc, err := store.ReadAccount(username)
	if err != nil {
		return "{}", err
	}

	displayName := acc.DisplayName
	if displayName == "" {
		displayName = acc.Username
	}

	sslDomain := conf.Conf.SslDomain
	actorDoc := map[string]interface{}{
		"@context": []string{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		"id":                        getIRI(sslDomain, acc.Username, id),
		"type":                      "Person",
		"preferredUsername":         acc.Username,
		"name":                      displayName,
		"summary":                   acc.Summary,
		"inbox":                     getIRI(sslDomain, acc.Username, inbox),
		"outbox":                    getIRI(sslDomain, acc.Username, outbox),
		"followers":                 getIRI(sslDomain, acc.Username, followers),
		"following":                 getIRI(sslDomain, acc.Username, following),
		"url":                       getIRI(sslDomain, acc.Username, id),
		"manuallyApprovesFollowers": false,
		"discoverable":              true,
		"publicKey": map[string]interface{}{
			"id":           getIRI(sslDomain, acc.Username, id) + "#main-key",
			"owner":        getIRI(sslDomain, acc.Username, id),
			"publicKeyPem": acc.WebPublicKey,
		},
	}

	jsonBytes, err := json.Marshal(actorDoc)
	if err != nil {
		return "{}", err
	}
	return string(jsonBytes), nil
}

// GetBookmarkNote renders a public bookmark as an ActivityPub Note.
func GetBookmarkNote(store *db.DB, conf *util.AppConfig, bookmarkId int64) (string, error) {
	bookmark, err := store.ReadBookmark(bookmarkId)
	if err != nil {
		return "{}", err
	}
	if !bookmark.Public() {
		return "{}", fmt.Errorf("bookmark %d is not public", bookmarkId)
	}

	note := activitypub.BookmarkToNote(conf, bookmark)
	note.Context = "https://www.w3.org/ns/activitystreams"

	jsonBytes, err := json.Marshal(note)
	if err != nil {
		return "{}", err
	}
	return string(jsonBytes), nil
}

// GetCommentNote renders a local comment as an ActivityPub Note. Remote
// comments live on their home instance and are not served here.
func GetCommentNote(store *db.DB, conf *util.AppConfig, commentId int64) (string, error) {
	comment, err := store.ReadComment(commentId)
	if err != nil {
		return "{}", err
	}
	if comment.Remote() {
		return "{}", fmt.Errorf("comment %d is not local", commentId)
	}

	note := activitypub.CommentToNote(conf, comment)
	note.Context = "https://www.w3.org/ns/activitystreams"

	jsonBytes, err := json.Marshal(note)
	if err != nil {
		return "{}", err
	}
	return string(jsonBytes), nil
}

// GetFollowersCollection renders the follower collection, count only; the
// member list stays private.
func GetFollowersCollection(store *db.DB, conf *util.AppConfig, username string) (string, error) {
	count, err := store.CountFollowers()
	if err != nil {
		return "{}", err
	}

	collection := map[string]interface{}{
		"@context":   "https://www.w3.org/ns/activitystreams",
		"id":         getIRI(conf.Conf.SslDomain, username, followers),
		"type":       "OrderedCollection",
		"totalItems": count,
	}

	jsonBytes, err := json.Marshal(collection)
	if err != nil {
		return "{}", err
	}
	return string(jsonBytes), nil
}

// GetOutboxCollection renders the outbox as a count-only collection built
// from the public bookmarks.
func GetOutboxCollection(store *db.DB, conf *util.AppConfig, username string) (string, error) {
	count, err := store.CountBookmarks()
	if err != nil {
		return "{}", err
	}

	collection := map[string]interface{}{
		"@context":   "https://www.w3.org/ns/activitystreams",
		"id":         getIRI(conf.Conf.SslDomain, username, outbox),
		"type":       "OrderedCollection",
		"totalItems": count,
	}

	jsonBytes, err := json.Marshal(collection)
	if err != nil {
		return "{}", err
	}
	return string(jsonBytes), nil
}
