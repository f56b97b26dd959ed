package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"harborview.app/internal/ids"
)

// Directory is the shared user registry behind local providers. One
// Directory serves many Clients, the way one hosted auth backend serves
// many browser sessions.
type Directory struct {
	mu      sync.Mutex
	byEmail map[string]*directoryUser
}

type directoryUser struct {
	id           string
	email        string
	passwordHash string
	metadata     map[string]string
}

// NewDirectory constructs an empty user registry.
func NewDirectory() *Directory {
	return &Directory{byEmail: make(map[string]*directoryUser)}
}

// Register creates a user record. Used for seeding and by Client.SignUp.
func (d *Directory) Register(email, password string, metadata map[string]string) (Identity, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Identity{}, err
	}
	if strings.TrimSpace(password) == "" {
		return Identity{}, errors.New("identity: password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Identity{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.byEmail[email]; exists {
		return Identity{}, ErrEmailTaken
	}
	u := &directoryUser{
		id:           ids.New(),
		email:        email,
		passwordHash: string(hash),
		metadata:     copyMetadata(metadata),
	}
	d.byEmail[email] = u
	return u.identity(), nil
}

// Authenticate verifies credentials and returns the identity.
func (d *Directory) Authenticate(email, password string) (Identity, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Identity{}, ErrInvalidCredentials
	}
	d.mu.Lock()
	u, ok := d.byEmail[email]
	d.mu.Unlock()
	if !ok {
		return Identity{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.passwordHash), []byte(password)) != nil {
		return Identity{}, ErrInvalidCredentials
	}
	return u.identity(), nil
}

// SetMetadata replaces a user's profile metadata.
func (d *Directory) SetMetadata(email string, metadata map[string]string) (Identity, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Identity{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byEmail[email]
	if !ok {
		return Identity{}, fmt.Errorf("identity: no user %s", email)
	}
	u.metadata = copyMetadata(metadata)
	return u.identity(), nil
}

func (d *Directory) lookup(email string) (Identity, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Identity{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byEmail[email]
	if !ok {
		return Identity{}, fmt.Errorf("identity: no user %s", email)
	}
	return u.identity(), nil
}

func (u *directoryUser) identity() Identity {
	return Identity{ID: u.id, Email: u.email, Metadata: copyMetadata(u.metadata)}
}

// Client is a per-session local provider: it holds at most one live
// session and notifies its listeners synchronously on every change.
type Client struct {
	directory *Directory
	codec     *TokenCodec

	mu        sync.Mutex
	current   *Session
	listeners map[int]Listener
	nextID    int
}

var _ Provider = (*Client)(nil)

// NewClient binds a session client to a directory and token codec.
func NewClient(directory *Directory, codec *TokenCodec) *Client {
	return &Client{
		directory: directory,
		codec:     codec,
		listeners: make(map[int]Listener),
	}
}

// Subscribe registers a listener; the returned function removes it.
func (c *Client) Subscribe(fn Listener) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Session returns a copy of the current session, or (nil, nil) when
// signed out.
func (c *Client) Session(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, nil
	}
	sess := *c.current
	return &sess, nil
}

// SignInWithPassword authenticates against the directory and starts a
// session, emitting SIGNED_IN.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	ident, err := c.directory.Authenticate(email, password)
	if err != nil {
		return nil, err
	}
	return c.startSession(ident)
}

// SignUp registers the user and starts a session, emitting SIGNED_IN.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]string) (*Session, error) {
	ident, err := c.directory.Register(email, password, metadata)
	if err != nil {
		return nil, err
	}
	return c.startSession(ident)
}

// SignOut ends the session and emits SIGNED_OUT. Signing out twice is a
// no-op the second time.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	hadSession := c.current != nil
	c.current = nil
	c.mu.Unlock()
	if hadSession {
		c.emit(Event{Kind: EventSignedOut})
	}
	return nil
}

// RefreshMetadata re-reads the user's metadata from the directory, mints
// a fresh token and emits USER_UPDATED. Mirrors a provider-side profile
// update landing on an open session.
func (c *Client) RefreshMetadata(ctx context.Context) error {
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()
	if current == nil {
		return errors.New("identity: no active session")
	}
	refreshed, err := c.directory.lookup(current.Identity.Email)
	if err != nil {
		return err
	}

	token, expiresAt, err := c.codec.Mint(refreshed)
	if err != nil {
		return err
	}
	sess := Session{Identity: refreshed, Token: token, ExpiresAt: expiresAt}
	c.mu.Lock()
	c.current = &sess
	c.mu.Unlock()
	emitted := sess
	c.emit(Event{Kind: EventUserUpdated, Session: &emitted})
	return nil
}

func (c *Client) startSession(ident Identity) (*Session, error) {
	token, expiresAt, err := c.codec.Mint(ident)
	if err != nil {
		return nil, err
	}
	sess := Session{Identity: ident, Token: token, ExpiresAt: expiresAt}
	c.mu.Lock()
	c.current = &sess
	c.mu.Unlock()

	emitted := sess
	c.emit(Event{Kind: EventSignedIn, Session: &emitted})
	out := sess
	return &out, nil
}

func (c *Client) emit(ev Event) {
	c.mu.Lock()
	fns := make([]Listener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return "", errors.New("identity: valid email is required")
	}
	return email, nil
}

func copyMetadata(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
