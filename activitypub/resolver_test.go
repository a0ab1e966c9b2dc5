package activitypub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/magpie-social/magpie/domain"
)

func TestResolveCoalescesConcurrentFetches(t *testing.T) {
	var fetches int64
	fetch := func(ctx context.Context, actorURI string) (*domain.RemoteActor, error) {
		atomic.AddInt64(&fetches, 1)
		time.Sleep(50 * time.Millisecond)
		return &domain.RemoteActor{
			ActorURI:     actorURI,
			InboxURI:     actorURI + "/inbox",
			PublicKeyPem: "pem",
			FetchedAt:    time.Now(),
		}, nil
	}

	resolver := NewResolver(fetch)
	actorURI := "https://social.example/u/alice"

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			actor, err := resolver.Resolve(context.Background(), actorURI)
			if err != nil {
				t.Errorf("Resolve failed: %v", err)
				return
			}
			if actor.ActorURI != actorURI {
				t.Errorf("Expected actor '%s', got '%s'", actorURI, actor.ActorURI)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&fetches); got != 1 {
		t.Errorf("Expected exactly 1 fetch for 10 concurrent resolves, got %d", got)
	}
}

func TestResolveCachesAcrossCalls(t *testing.T) {
	var fetches int64
	fetch := func(ctx context.Context, actorURI string) (*domain.RemoteActor, error) {
		atomic.AddInt64(&fetches, 1)
		return &domain.RemoteActor{ActorURI: actorURI, InboxURI: actorURI + "/inbox", PublicKeyPem: "pem"}, nil
	}

	resolver := NewResolver(fetch)
	actorURI := "https://social.example/u/alice"

	for i := 0; i < 3; i++ {
		if _, err := resolver.Resolve(context.Background(), actorURI); err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
	}

	if fetches != 1 {
		t.Errorf("Expected 1 fetch for 3 sequential resolves, got %d", fetches)
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	var fetches int64
	fetch := func(ctx context.Context, actorURI string) (*domain.RemoteActor, error) {
		n := atomic.AddInt64(&fetches, 1)
		return &domain.RemoteActor{
			ActorURI:     actorURI,
			InboxURI:     actorURI + "/inbox",
			PublicKeyPem: fmt.Sprintf("pem-%d", n),
		}, nil
	}

	resolver := NewResolver(fetch)
	actorURI := "https://social.example/u/alice"

	first, err := resolver.Resolve(context.Background(), actorURI)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	resolver.Invalidate(actorURI)

	second, err := resolver.Resolve(context.Background(), actorURI)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if first.PublicKeyPem == second.PublicKeyPem {
		t.Error("Expected a fresh fetch after Invalidate")
	}
	if fetches != 2 {
		t.Errorf("Expected 2 fetches, got %d", fetches)
	}
}

func TestResolveDoesNotCacheFailures(t *testing.T) {
	var fetches int64
	fetch := func(ctx context.Context, actorURI string) (*domain.RemoteActor, error) {
		atomic.AddInt64(&fetches, 1)
		return nil, ErrActorUnreachable
	}

	resolver := NewResolver(fetch)
	actorURI := "https://social.example/u/gone"

	for i := 0; i < 2; i++ {
		if _, err := resolver.Resolve(context.Background(), actorURI); !errors.Is(err, ErrActorUnreachable) {
			t.Fatalf("Expected ErrActorUnreachable, got %v", err)
		}
	}

	if fetches != 2 {
		t.Errorf("Expected failed fetches to not be cached, got %d fetches", fetches)
	}
}

func TestResolveSurvivesCallerCancellation(t *testing.T) {
	fetch := func(ctx context.Context, actorURI string) (*domain.RemoteActor, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &domain.RemoteActor{ActorURI: actorURI, InboxURI: actorURI + "/inbox", PublicKeyPem: "pem"}, nil
	}

	resolver := NewResolver(fetch)
	actorURI := "https://social.example/u/alice"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	actor, err := resolver.Resolve(ctx, actorURI)
	if err != nil {
		t.Fatalf("Expected the shared fetch to outlive the caller's context, got %v", err)
	}
	if actor.ActorURI != actorURI {
		t.Errorf("Expected actor '%s', got '%s'", actorURI, actor.ActorURI)
	}
}

func TestDefaultFetchParsesActor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if accept := r.Header.Get("Accept"); accept != "application/activity+json" {
			t.Errorf("Expected activity+json accept header, got '%s'", accept)
		}
		w.Header().Set("Content-Type", "application/activity+json")
		fmt.Fprint(w, `{
			"id": "https://social.example/u/alice",
			"type": "Person",
			"preferredUsername": "alice",
			"inbox": "https://social.example/u/alice/inbox",
			"publicKey": {
				"id": "https://social.example/u/alice#main-key",
				"owner": "https://social.example/u/alice",
				"publicKeyPem": "-----BEGIN PUBLIC KEY-----"
			}
		}`)
	}))
	defer server.Close()

	fetch := DefaultFetch(server.Client())
	actor, err := fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if actor.ActorURI != "https://social.example/u/alice" {
		t.Errorf("Expected actor URI 'https://social.example/u/alice', got '%s'", actor.ActorURI)
	}
	if actor.Username != "alice" {
		t.Errorf("Expected username 'alice', got '%s'", actor.Username)
	}
	if actor.Domain != "social.example" {
		t.Errorf("Expected domain 'social.example', got '%s'", actor.Domain)
	}
	if actor.InboxURI != "https://social.example/u/alice/inbox" {
		t.Errorf("Expected inbox URI, got '%s'", actor.InboxURI)
	}
}

func TestDefaultFetchRejectsNonActor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": "https://social.example/u/alice", "type": "Person"}`)
	}))
	defer server.Close()

	fetch := DefaultFetch(server.Client())
	if _, err := fetch(context.Background(), server.URL); !errors.Is(err, ErrNotAnActor) {
		t.Errorf("Expected ErrNotAnActor for a document without inbox and key, got %v", err)
	}
}

func TestDefaultFetchRejectsMalformedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{not json`)
	}))
	defer server.Close()

	fetch := DefaultFetch(server.Client())
	if _, err := fetch(context.Background(), server.URL); !errors.Is(err, ErrMalformedActor) {
		t.Errorf("Expected ErrMalformedActor, got %v", err)
	}
}

func TestDefaultFetchUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	fetch := DefaultFetch(server.Client())
	if _, err := fetch(context.Background(), server.URL); !errors.Is(err, ErrActorUnreachable) {
		t.Errorf("Expected ErrActorUnreachable for a 502, got %v", err)
	}
}
