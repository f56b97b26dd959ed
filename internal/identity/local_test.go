package identity

import (
	"context"
	"errors"
	"testing"
)

func newTestClient(t *testing.T) (*Directory, *Client) {
	t.Helper()
	codec, err := NewTokenCodec("test-secret", "harborview")
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	dir := NewDirectory()
	return dir, NewClient(dir, codec)
}

func TestSignUpEmitsSignedIn(t *testing.T) {
	_, client := newTestClient(t)

	var events []Event
	unsub := client.Subscribe(func(ev Event) { events = append(events, ev) })
	defer unsub()

	sess, err := client.SignUp(context.Background(), "SE@Example.com", "s3cret", map[string]string{"role": "se"})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if sess.Identity.Email != "se@example.com" {
		t.Fatalf("email not normalized: %q", sess.Identity.Email)
	}
	if sess.Identity.Metadata["role"] != "se" {
		t.Fatalf("metadata lost: %+v", sess.Identity.Metadata)
	}
	if sess.Token == "" {
		t.Fatalf("expected a session token")
	}

	if len(events) != 1 || events[0].Kind != EventSignedIn {
		t.Fatalf("events = %+v, want one SIGNED_IN", events)
	}
	if events[0].Session == nil || events[0].Session.Identity.ID != sess.Identity.ID {
		t.Fatalf("event session = %+v", events[0].Session)
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	_, client := newTestClient(t)
	if _, err := client.SignUp(context.Background(), "a@example.com", "pw", nil); err != nil {
		t.Fatalf("first sign up: %v", err)
	}
	if _, err := client.SignUp(context.Background(), "a@example.com", "pw2", nil); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestSignInWithPassword(t *testing.T) {
	dir, client := newTestClient(t)
	if _, err := dir.Register("user@example.com", "correct", nil); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := client.SignInWithPassword(context.Background(), "user@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := client.SignInWithPassword(context.Background(), "ghost@example.com", "correct"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}

	sess, err := client.SignInWithPassword(context.Background(), "user@example.com", "correct")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}

	got, err := client.Session(context.Background())
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if got == nil || got.Identity.ID != sess.Identity.ID {
		t.Fatalf("current session = %+v", got)
	}
}

func TestSignOutEmitsOnce(t *testing.T) {
	_, client := newTestClient(t)
	if _, err := client.SignUp(context.Background(), "a@example.com", "pw", nil); err != nil {
		t.Fatalf("sign up: %v", err)
	}

	var signedOut int
	unsub := client.Subscribe(func(ev Event) {
		if ev.Kind == EventSignedOut {
			signedOut++
		}
	})
	defer unsub()

	if err := client.SignOut(context.Background()); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if err := client.SignOut(context.Background()); err != nil {
		t.Fatalf("second sign out: %v", err)
	}
	if signedOut != 1 {
		t.Fatalf("SIGNED_OUT emitted %d times, want 1", signedOut)
	}

	sess, err := client.Session(context.Background())
	if err != nil || sess != nil {
		t.Fatalf("session after sign out = (%+v, %v), want (nil, nil)", sess, err)
	}
}

func TestRefreshMetadataEmitsUserUpdated(t *testing.T) {
	dir, client := newTestClient(t)
	if _, err := client.SignUp(context.Background(), "a@example.com", "pw", map[string]string{"role": "client"}); err != nil {
		t.Fatalf("sign up: %v", err)
	}

	if _, err := dir.SetMetadata("a@example.com", map[string]string{"role": "se"}); err != nil {
		t.Fatalf("set metadata: %v", err)
	}

	var updated *Event
	unsub := client.Subscribe(func(ev Event) {
		if ev.Kind == EventUserUpdated {
			copied := ev
			updated = &copied
		}
	})
	defer unsub()

	if err := client.RefreshMetadata(context.Background()); err != nil {
		t.Fatalf("refresh metadata: %v", err)
	}
	if updated == nil || updated.Session == nil {
		t.Fatalf("expected USER_UPDATED with session")
	}
	if updated.Session.Identity.Metadata["role"] != "se" {
		t.Fatalf("refreshed metadata = %+v", updated.Session.Identity.Metadata)
	}
}
