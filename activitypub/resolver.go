package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/magpie-social/magpie/domain"
	"github.com/magpie-social/magpie/util"
	"golang.org/x/sync/singleflight"
)

// Resolution failure classes. Unreachable covers network trouble and remote
// errors; the other two mean the peer answered with something unusable.
var (
	ErrActorUnreachable = errors.New("actor unreachable")
	ErrNotAnActor       = errors.New("document is not an actor")
	ErrMalformedActor   = errors.New("malformed actor document")
)

const (
	actorCacheSize = 512
	actorCacheTTL  = 6 * time.Hour
	actorFetchTime = 10 * time.Second
)

// FetchFunc retrieves and validates a remote actor document.
type FetchFunc func(ctx context.Context, actorURI string) (*domain.RemoteActor, error)

// Resolver turns actor URIs into cached identities. Cache hits are served
// directly; misses are coalesced so a burst of deliveries from the same new
// actor costs one network fetch.
type Resolver struct {
	fetch FetchFunc
	cache *expirable.LRU[string, *domain.RemoteActor]
	group singleflight.Group
}

func NewResolver(fetch FetchFunc) *Resolver {
	return &Resolver{
		fetch: fetch,
		cache: expirable.NewLRU[string, *domain.RemoteActor](actorCacheSize, nil, actorCacheTTL),
	}
}

// Resolve returns the actor for the given URI, fetching on a cache miss.
// Failed fetches are not cached; the next delivery retries.
func (r *Resolver) Resolve(ctx context.Context, actorURI string) (*domain.RemoteActor, error) {
	if actor, ok := r.cache.Get(actorURI); ok {
		return actor, nil
	}

	v, err, _ := r.group.Do(actorURI, func() (interface{}, error) {
		if actor, ok := r.cache.Get(actorURI); ok {
			return actor, nil
		}
		// The flight is shared across callers; detach it from the first
		// caller's cancellation so one aborted request cannot fail the
		// waiters. The fetch keeps its own deadline.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), actorFetchTime)
		defer cancel()
		actor, err := r.fetch(fctx, actorURI)
		if err != nil {
			return nil, err
		}
		r.cache.Add(actorURI, actor)
		return actor, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.RemoteActor), nil
}

// Invalidate drops a cached entry so the next Resolve re-fetches. Used when
// a signature check fails against a cached key (possible rotation) and when
// an Update(Person) arrives.
func (r *Resolver) Invalidate(actorURI string) {
	r.cache.Remove(actorURI)
}

// ActorResponse represents the JSON structure of an ActivityPub actor
type ActorResponse struct {
	Context           interface{} `json:"@context"`
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	PreferredUsername string      `json:"preferredUsername"`
	Name              string      `json:"name"`
	Summary           string      `json:"summary"`
	Inbox             string      `json:"inbox"`
	Outbox            string      `json:"outbox"`
	PublicKey         struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

// DefaultFetch dereferences actor URIs over HTTP with the activity+json
// accept header, the way every federated peer expects.
func DefaultFetch(client *http.Client) FetchFunc {
	if client == nil {
		client = &http.Client{Timeout: actorFetchTime}
	}

	return func(ctx context.Context, actorURI string) (*domain.RemoteActor, error) {
		req, err := http.NewRequestWithContext(ctx, "GET", actorURI, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrActorUnreachable, err)
		}

		req.Header.Set("Accept", "application/activity+json")
		req.Header.Set("User-Agent", util.GetNameAndVersion()+" ActivityPub")

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrActorUnreachable, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: status %d", ErrActorUnreachable, resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrActorUnreachable, err)
		}

		var actor ActorResponse
		if err := json.Unmarshal(body, &actor); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedActor, err)
		}

		if actor.ID == "" || actor.Inbox == "" || actor.PublicKey.PublicKeyPem == "" {
			return nil, fmt.Errorf("%w: missing id, inbox or public key", ErrNotAnActor)
		}

		domainName, err := extractDomain(actor.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedActor, err)
		}

		return &domain.RemoteActor{
			ActorURI:     actor.ID,
			Username:     actor.PreferredUsername,
			Domain:       domainName,
			InboxURI:     actor.Inbox,
			PublicKeyPem: actor.PublicKey.PublicKeyPem,
			FetchedAt:    time.Now(),
		}, nil
	}
}

// extractDomain extracts the host from an actor URI
// Example: "https://mastodon.social/users/alice" -> "mastodon.social"
func extractDomain(actorURI string) (string, error) {
	parsed, err := url.Parse(actorURI)
	if err != nil {
		return "", err
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("no host in actor URI %q", actorURI)
	}
	return parsed.Host, nil
}
