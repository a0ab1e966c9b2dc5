package activitypub

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/magpie-social/magpie/domain"
	"github.com/magpie-social/magpie/util"
)

// Store is the slice of the persistence layer the processor mutates.
type Store interface {
	ClaimActivity(activityURI string) (bool, error)
	ReleaseActivity(activityURI string) error
	AddFollower(f *domain.Follower) error
	RemoveFollower(actorURI string) error
	ReadBookmark(id int64) (*domain.Bookmark, error)
	ReadComment(id int64) (*domain.Comment, error)
	CreateComment(c *domain.Comment) (int64, error)
	DeleteRemoteCommentByRef(ref string) (bool, error)
	UpdateRemoteCommentContent(objectURI, content string) (bool, error)
	RecordEngagement(e *domain.Engagement) error
	DeleteEngagementByActivityURI(activityURI string) (bool, error)
}

// ActorSource resolves and invalidates remote identities.
type ActorSource interface {
	Resolve(ctx context.Context, actorURI string) (*domain.RemoteActor, error)
	Invalidate(actorURI string)
}

// AcceptSender confirms follows back to their senders.
type AcceptSender interface {
	SendAccept(ctx context.Context, followID string, remote *domain.RemoteActor) error
}

// Processor runs inbound deliveries through verification, deduplication and
// dispatch. One instance serves all inbox requests concurrently; every
// mutation goes through the store, the processor itself holds no state.
type Processor struct {
	conf    *util.AppConfig
	store   Store
	actors  ActorSource
	accepts AcceptSender
}

func NewProcessor(conf *util.AppConfig, store Store, actors ActorSource, accepts AcceptSender) *Processor {
	return &Processor{
		conf:    conf,
		store:   store,
		actors:  actors,
		accepts: accepts,
	}
}

// Process takes one delivery from parse to terminal outcome.
//
// The order is fixed: parse, verify (with one re-resolve on a stale key),
// spoof check, then the atomic claim of the activity id, then side effects.
// Rejections all happen before the claim, so a rejected activity can be
// redelivered and judged again; a transient store failure after the claim
// releases it and surfaces as an error (the sender sees a 5xx and retries).
func (p *Processor) Process(ctx context.Context, req *http.Request, body []byte) (Outcome, error) {
	var act Activity
	if err := json.Unmarshal(body, &act); err != nil {
		return Outcome{Status: StatusRejected, Reason: ReasonMalformed}, nil
	}
	if act.ID == "" || act.Type == "" || act.Actor == "" {
		return Outcome{Status: StatusRejected, Reason: ReasonMalformed}, nil
	}

	kind := KindOf(act.Type)
	if kind == KindUnknown {
		log.Printf("Inbox: Ignoring unsupported activity type %s from %s", act.Type, act.Actor)
		return Outcome{Status: StatusRejected, Reason: ReasonUnsupportedType}, nil
	}
	if kind == KindFollow && act.ObjectURI() != p.conf.ActorURI() {
		return Outcome{Status: StatusRejected, Reason: ReasonMalformed}, nil
	}

	actor, err := p.actors.Resolve(ctx, act.Actor)
	if err != nil {
		// Resolution failures are not cached, so a flaky first contact
		// gets one more attempt before we push the retry onto the sender.
		actor, err = p.actors.Resolve(ctx, act.Actor)
	}
	if err != nil {
		log.Printf("Inbox: Could not resolve %s: %v", act.Actor, err)
		return Outcome{Status: StatusRejected, Reason: ReasonUnknownActor}, nil
	}

	result := VerifyRequest(req, body, actor.PublicKeyPem)
	if !result.Valid && result.Reason == VerifySignatureMismatch {
		// The cached key may predate a rotation: re-fetch once and retry.
		p.actors.Invalidate(act.Actor)
		actor, err = p.actors.Resolve(ctx, act.Actor)
		if err != nil {
			return Outcome{Status: StatusRejected, Reason: ReasonUnknownActor}, nil
		}
		result = VerifyRequest(req, body, actor.PublicKeyPem)
	}
	if !result.Valid {
		log.Printf("Inbox: Verification failed for %s: %s", act.ID, result.Reason)
		return Outcome{Status: StatusRejected, Reason: ReasonUnauthorized}, nil
	}
	if result.KeyOwner != act.Actor {
		log.Printf("Inbox: Key owner %s does not match envelope actor %s", result.KeyOwner, act.Actor)
		return Outcome{Status: StatusRejected, Reason: ReasonSpoofMismatch}, nil
	}

	claimed, err := p.store.ClaimActivity(act.ID)
	if err != nil {
		return Outcome{}, err
	}
	if !claimed {
		return Outcome{Status: StatusDeduplicated}, nil
	}

	if err := p.apply(ctx, kind, &act, actor); err != nil {
		if relErr := p.store.ReleaseActivity(act.ID); relErr != nil {
			log.Printf("Inbox: Could not release claim on %s: %v", act.ID, relErr)
		}
		return Outcome{}, err
	}

	return Outcome{Status: StatusApplied}, nil
}

// apply runs the side effects for a verified, freshly claimed activity.
// Activities that reference nothing local are acknowledged and dropped;
// only store failures return an error.
func (p *Processor) apply(ctx context.Context, kind ActivityKind, act *Activity, actor *domain.RemoteActor) error {
	switch kind {
	case KindFollow:
		return p.applyFollow(ctx, act, actor)
	case KindUndo:
		return p.applyUndo(act, actor)
	case KindCreate:
		return p.applyCreate(act, actor)
	case KindLike:
		return p.applyEngagement(act, actor, domain.EngagementLike)
	case KindAnnounce:
		return p.applyEngagement(act, actor, domain.EngagementAnnounce)
	case KindDelete:
		return p.applyDelete(act)
	case KindUpdate:
		return p.applyUpdate(ctx, act)
	}
	return nil
}

func (p *Processor) applyFollow(ctx context.Context, act *Activity, actor *domain.RemoteActor) error {
	follower := &domain.Follower{
		Id:        uuid.New(),
		ActorURI:  actor.ActorURI,
		InboxURI:  actor.InboxURI,
		CreatedAt: time.Now(),
	}
	if err := p.store.AddFollower(follower); err != nil {
		return err
	}
	log.Printf("Inbox: %s now follows %s", actor.ActorURI, p.conf.Conf.Account)

	if p.accepts != nil {
		// Best effort: the follow is recorded either way, and the peer
		// retries its Follow if our Accept never lands.
		if err := p.accepts.SendAccept(ctx, act.ID, actor); err != nil {
			log.Printf("Inbox: Could not send Accept to %s: %v", actor.InboxURI, err)
		}
	}
	return nil
}

func (p *Processor) applyUndo(act *Activity, actor *domain.RemoteActor) error {
	objType, objID, ok := act.EmbeddedObject()
	if !ok {
		return nil
	}
	switch objType {
	case "Follow":
		log.Printf("Inbox: %s unfollowed", actor.ActorURI)
		return p.store.RemoveFollower(actor.ActorURI)
	case "Like", "Announce":
		if objID == "" {
			return nil
		}
		_, err := p.store.DeleteEngagementByActivityURI(objID)
		return err
	}
	return nil
}

func (p *Processor) applyCreate(act *Activity, actor *domain.RemoteActor) error {
	note, err := FromNoteObject(act.Object)
	if err != nil {
		log.Printf("Inbox: Dropping Create %s: %v", act.ID, err)
		return nil
	}

	bookmarkId, ok := p.resolveReplyTarget(note.InReplyTo)
	if !ok {
		// A reply to something that is not ours; nothing to attach it to.
		return nil
	}
	if _, err := p.store.ReadBookmark(bookmarkId); err != nil {
		log.Printf("Inbox: Reply to missing bookmark %d, dropping", bookmarkId)
		return nil
	}

	comment := &domain.Comment{
		BookmarkId:  bookmarkId,
		ActorURI:    note.AttributedTo,
		Content:     note.Content,
		ActivityURI: act.ID,
		ObjectURI:   note.ID,
		Visible:     true,
		CreatedAt:   note.Published,
	}
	if _, err := p.store.CreateComment(comment); err != nil {
		return err
	}
	log.Printf("Inbox: Stored reply from %s on bookmark %d", actor.ActorURI, bookmarkId)
	return nil
}

// resolveReplyTarget maps an inReplyTo URI to the bookmark the thread
// belongs to, following one level of local comment indirection.
func (p *Processor) resolveReplyTarget(inReplyTo string) (int64, bool) {
	if inReplyTo == "" {
		return 0, false
	}
	if id, ok := ParseLocalBookmarkRef(p.conf, inReplyTo); ok {
		return id, true
	}
	if commentId, ok := ParseLocalCommentRef(p.conf, inReplyTo); ok {
		comment, err := p.store.ReadComment(commentId)
		if err != nil {
			return 0, false
		}
		return comment.BookmarkId, true
	}
	return 0, false
}

func (p *Processor) applyEngagement(act *Activity, actor *domain.RemoteActor, kind string) error {
	bookmarkId, ok := ParseLocalBookmarkRef(p.conf, act.ObjectURI())
	if !ok {
		return nil
	}
	if _, err := p.store.ReadBookmark(bookmarkId); err != nil {
		return nil
	}

	engagement := &domain.Engagement{
		Id:          uuid.New(),
		ActivityURI: act.ID,
		BookmarkId:  bookmarkId,
		Kind:        kind,
		ActorURI:    actor.ActorURI,
		CreatedAt:   time.Now(),
	}
	if err := p.store.RecordEngagement(engagement); err != nil {
		return err
	}
	log.Printf("Inbox: Recorded %s on bookmark %d by %s", kind, bookmarkId, actor.ActorURI)
	return nil
}

// applyDelete removes whatever the referenced object produced here, comment
// or engagement. Deletes for unknown objects succeed silently; the remote
// side only wants the data gone.
func (p *Processor) applyDelete(act *Activity) error {
	ref := act.ObjectURI()
	if ref == "" {
		return nil
	}
	if _, err := p.store.DeleteRemoteCommentByRef(ref); err != nil {
		return err
	}
	_, err := p.store.DeleteEngagementByActivityURI(ref)
	return err
}

func (p *Processor) applyUpdate(ctx context.Context, act *Activity) error {
	objType, _, ok := act.EmbeddedObject()
	if !ok {
		return nil
	}
	switch objType {
	case "Person", "Service", "Application":
		// Profile change; refresh the cached identity so the next
		// verification sees the current key.
		p.actors.Invalidate(act.Actor)
		if _, err := p.actors.Resolve(ctx, act.Actor); err != nil {
			log.Printf("Inbox: Re-resolve after Update failed for %s: %v", act.Actor, err)
		}
		return nil
	case "Note", "Article", "Page":
		note, err := FromNoteObject(act.Object)
		if err != nil || note.ID == "" {
			return nil
		}
		_, err = p.store.UpdateRemoteCommentContent(note.ID, note.Content)
		return err
	}
	return nil
}
