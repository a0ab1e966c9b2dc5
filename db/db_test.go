package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/magpie-social/magpie/domain"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := database.RunMigrations(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return database
}

func TestAccountRoundTrip(t *testing.T) {
	database := testDB(t)

	acc := &domain.Account{
		Id:            uuid.New(),
		Username:      "tom",
		DisplayName:   "Tom",
		Summary:       "bookmarks",
		WebPublicKey:  "pub",
		WebPrivateKey: "priv",
		CreatedAt:     time.Now(),
	}
	if err := database.SaveAccount(acc); err != nil {
		t.Fatalf("SaveAccount failed: %v", err)
	}

	read, err := database.ReadAccount("tom")
	if err != nil {
		t.Fatalf("ReadAccount failed: %v", err)
	}
	if read.Username != "tom" || read.WebPublicKey != "pub" {
		t.Errorf("Account read back incorrectly: %+v", read)
	}

	if err := database.UpdateAccountKeys("tom", "pub2", "priv2"); err != nil {
		t.Fatalf("UpdateAccountKeys failed: %v", err)
	}
	read, err = database.ReadAccount("tom")
	if err != nil {
		t.Fatalf("ReadAccount failed: %v", err)
	}
	if read.WebPublicKey != "pub2" || read.WebPrivateKey != "priv2" {
		t.Errorf("Expected rotated keys, got %+v", read)
	}
}

func TestBookmarkCRUD(t *testing.T) {
	database := testDB(t)

	bookmark := &domain.Bookmark{
		Title:      "a page",
		URL:        "https://x.example",
		Visibility: "public",
		CreatedAt:  time.Now(),
	}
	id, err := database.CreateBookmark(bookmark)
	if err != nil {
		t.Fatalf("CreateBookmark failed: %v", err)
	}
	if id == 0 {
		t.Fatal("Expected a non-zero bookmark id")
	}

	read, err := database.ReadBookmark(id)
	if err != nil {
		t.Fatalf("ReadBookmark failed: %v", err)
	}
	if read.Title != "a page" || read.UpdatedAt != nil {
		t.Errorf("Bookmark read back incorrectly: %+v", read)
	}

	read.Title = "renamed"
	if err := database.UpdateBookmark(read); err != nil {
		t.Fatalf("UpdateBookmark failed: %v", err)
	}
	read, err = database.ReadBookmark(id)
	if err != nil {
		t.Fatalf("ReadBookmark failed: %v", err)
	}
	if read.Title != "renamed" || read.UpdatedAt == nil {
		t.Errorf("Expected updated bookmark with timestamp, got %+v", read)
	}

	count, err := database.CountBookmarks()
	if err != nil {
		t.Fatalf("CountBookmarks failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 public bookmark, got %d", count)
	}

	if err := database.DeleteBookmark(id); err != nil {
		t.Fatalf("DeleteBookmark failed: %v", err)
	}
	if _, err := database.ReadBookmark(id); err == nil {
		t.Error("Expected read of deleted bookmark to fail")
	}
}

func TestListPublicBookmarksExcludesPrivate(t *testing.T) {
	database := testDB(t)

	public := &domain.Bookmark{Title: "pub", URL: "https://a.example", Visibility: "public", CreatedAt: time.Now()}
	private := &domain.Bookmark{Title: "priv", URL: "https://b.example", Visibility: "private", CreatedAt: time.Now()}
	if _, err := database.CreateBookmark(public); err != nil {
		t.Fatalf("CreateBookmark failed: %v", err)
	}
	if _, err := database.CreateBookmark(private); err != nil {
		t.Fatalf("CreateBookmark failed: %v", err)
	}

	bookmarks, err := database.ListPublicBookmarks(10)
	if err != nil {
		t.Fatalf("ListPublicBookmarks failed: %v", err)
	}
	if len(bookmarks) != 1 || bookmarks[0].Title != "pub" {
		t.Errorf("Expected only the public bookmark, got %+v", bookmarks)
	}
}

func TestFollowerSetSemantics(t *testing.T) {
	database := testDB(t)
	actorURI := "https://social.example/u/alice"

	for i := 0; i < 3; i++ {
		follower := &domain.Follower{
			Id:        uuid.New(),
			ActorURI:  actorURI,
			InboxURI:  actorURI + "/inbox",
			CreatedAt: time.Now(),
		}
		if err := database.AddFollower(follower); err != nil {
			t.Fatalf("AddFollower failed: %v", err)
		}
	}

	count, err := database.CountFollowers()
	if err != nil {
		t.Fatalf("CountFollowers failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected re-follow to be a no-op, got %d followers", count)
	}

	if err := database.RemoveFollower(actorURI); err != nil {
		t.Fatalf("RemoveFollower failed: %v", err)
	}
	count, err = database.CountFollowers()
	if err != nil {
		t.Fatalf("CountFollowers failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected empty follower set, got %d", count)
	}

	// Removing an unknown actor is fine
	if err := database.RemoveFollower("https://social.example/u/ghost"); err != nil {
		t.Errorf("Expected removing unknown follower to succeed, got %v", err)
	}
}

func TestClaimActivityIsAtomic(t *testing.T) {
	database := testDB(t)
	activityURI := "https://social.example/act/1"

	claimed, err := database.ClaimActivity(activityURI)
	if err != nil {
		t.Fatalf("ClaimActivity failed: %v", err)
	}
	if !claimed {
		t.Fatal("Expected first claim to succeed")
	}

	claimed, err = database.ClaimActivity(activityURI)
	if err != nil {
		t.Fatalf("ClaimActivity failed: %v", err)
	}
	if claimed {
		t.Error("Expected second claim of the same id to fail")
	}

	has, err := database.HasProcessedActivity(activityURI)
	if err != nil {
		t.Fatalf("HasProcessedActivity failed: %v", err)
	}
	if !has {
		t.Error("Expected activity marked as processed")
	}

	if err := database.ReleaseActivity(activityURI); err != nil {
		t.Fatalf("ReleaseActivity failed: %v", err)
	}
	claimed, err = database.ClaimActivity(activityURI)
	if err != nil {
		t.Fatalf("ClaimActivity failed: %v", err)
	}
	if !claimed {
		t.Error("Expected claim to succeed again after release")
	}
}

func TestEngagementKeyedByActivity(t *testing.T) {
	database := testDB(t)

	engagement := &domain.Engagement{
		Id:          uuid.New(),
		ActivityURI: "https://social.example/act/like1",
		BookmarkId:  7,
		Kind:        domain.EngagementLike,
		ActorURI:    "https://social.example/u/alice",
		CreatedAt:   time.Now(),
	}
	if err := database.RecordEngagement(engagement); err != nil {
		t.Fatalf("RecordEngagement failed: %v", err)
	}

	// Same activity id again, e.g. a replayed delivery
	replay := *engagement
	replay.Id = uuid.New()
	if err := database.RecordEngagement(&replay); err != nil {
		t.Fatalf("RecordEngagement failed: %v", err)
	}

	count, err := database.CountEngagements(7)
	if err != nil {
		t.Fatalf("CountEngagements failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 engagement after replay, got %d", count)
	}

	deleted, err := database.DeleteEngagementByActivityURI("https://social.example/act/like1")
	if err != nil {
		t.Fatalf("DeleteEngagementByActivityURI failed: %v", err)
	}
	if !deleted {
		t.Error("Expected engagement to be deleted")
	}
	deleted, err = database.DeleteEngagementByActivityURI("https://social.example/act/like1")
	if err != nil {
		t.Fatalf("DeleteEngagementByActivityURI failed: %v", err)
	}
	if deleted {
		t.Error("Expected second delete to report nothing removed")
	}
}

func TestCountEngagementsByKind(t *testing.T) {
	database := testDB(t)

	for i, kind := range []string{domain.EngagementLike, domain.EngagementLike, domain.EngagementAnnounce} {
		e := &domain.Engagement{
			Id:          uuid.New(),
			ActivityURI: uuid.New().String(),
			BookmarkId:  1,
			Kind:        kind,
			ActorURI:    "https://social.example/u/alice",
			CreatedAt:   time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := database.RecordEngagement(e); err != nil {
			t.Fatalf("RecordEngagement failed: %v", err)
		}
	}

	likes, err := database.CountEngagementsByKind(1, domain.EngagementLike)
	if err != nil {
		t.Fatalf("CountEngagementsByKind failed: %v", err)
	}
	announces, err := database.CountEngagementsByKind(1, domain.EngagementAnnounce)
	if err != nil {
		t.Fatalf("CountEngagementsByKind failed: %v", err)
	}
	if likes != 2 || announces != 1 {
		t.Errorf("Expected 2 likes and 1 announce, got %d and %d", likes, announces)
	}
}

func TestRemoteCommentLifecycle(t *testing.T) {
	database := testDB(t)

	remote := &domain.Comment{
		BookmarkId:  3,
		ActorURI:    "https://social.example/u/alice",
		Content:     "hi",
		ActivityURI: "https://social.example/act/c1",
		ObjectURI:   "https://social.example/note/n1",
		Visible:     true,
		CreatedAt:   time.Now(),
	}
	local := &domain.Comment{
		BookmarkId: 3,
		Content:    "mine",
		Visible:    true,
		CreatedAt:  time.Now(),
	}
	if _, err := database.CreateComment(remote); err != nil {
		t.Fatalf("CreateComment failed: %v", err)
	}
	if _, err := database.CreateComment(local); err != nil {
		t.Fatalf("CreateComment failed: %v", err)
	}

	updated, err := database.UpdateRemoteCommentContent("https://social.example/note/n1", "edited")
	if err != nil {
		t.Fatalf("UpdateRemoteCommentContent failed: %v", err)
	}
	if !updated {
		t.Error("Expected remote comment content updated")
	}

	// Delete by object URI leaves the local comment alone
	deleted, err := database.DeleteRemoteCommentByRef("https://social.example/note/n1")
	if err != nil {
		t.Fatalf("DeleteRemoteCommentByRef failed: %v", err)
	}
	if !deleted {
		t.Error("Expected remote comment deleted")
	}

	comments, err := database.ListCommentsByBookmark(3)
	if err != nil {
		t.Fatalf("ListCommentsByBookmark failed: %v", err)
	}
	if len(comments) != 1 || comments[0].Content != "mine" {
		t.Errorf("Expected only the local comment to remain, got %+v", comments)
	}
}

func TestDeliveryQueueLifecycle(t *testing.T) {
	database := testDB(t)

	item := &domain.DeliveryQueueItem{
		Id:           uuid.New(),
		InboxURI:     "https://social.example/u/alice/inbox",
		ActivityJSON: `{"type":"Create"}`,
		Attempts:     0,
		NextRetryAt:  time.Now().Add(-time.Minute),
		CreatedAt:    time.Now(),
	}
	if err := database.EnqueueDelivery(item); err != nil {
		t.Fatalf("EnqueueDelivery failed: %v", err)
	}

	// An item scheduled for the future must not be drained yet
	future := &domain.DeliveryQueueItem{
		Id:           uuid.New(),
		InboxURI:     "https://social.example/u/bob/inbox",
		ActivityJSON: `{"type":"Create"}`,
		NextRetryAt:  time.Now().Add(time.Hour),
		CreatedAt:    time.Now(),
	}
	if err := database.EnqueueDelivery(future); err != nil {
		t.Fatalf("EnqueueDelivery failed: %v", err)
	}

	pending, err := database.ReadPendingDeliveries(10)
	if err != nil {
		t.Fatalf("ReadPendingDeliveries failed: %v", err)
	}
	if len(pending) != 1 || pending[0].Id != item.Id {
		t.Fatalf("Expected only the due item, got %+v", pending)
	}

	if err := database.UpdateDeliveryAttempt(item.Id, 1, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("UpdateDeliveryAttempt failed: %v", err)
	}
	pending, err = database.ReadPendingDeliveries(10)
	if err != nil {
		t.Fatalf("ReadPendingDeliveries failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected no due items after rescheduling, got %d", len(pending))
	}

	if err := database.DeleteDelivery(item.Id); err != nil {
		t.Fatalf("DeleteDelivery failed: %v", err)
	}
	if err := database.DeleteDelivery(future.Id); err != nil {
		t.Fatalf("DeleteDelivery failed: %v", err)
	}
}
