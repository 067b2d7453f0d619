// Package jwtauth is a store-backed ports.Authenticator. Credentials live in a collection of
// the document store with bcrypt password hashes; ID tokens are HS256 JWTs.
package jwtauth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"firestorm/internal/ports"
	"firestorm/internal/types"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultCollection = "auth_users"
	DefaultTokenTTL   = time.Hour

	// tokens are reissued this long before they expire
	tokenRefreshMargin = time.Minute

	keyUID          = "uid"
	keyEmail        = "email"
	keyPasswordHash = "passwordHash"
)

type Options struct {
	Collection string
	Issuer     string
	TokenTTL   time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Authenticator keeps one signed-in user per process.
type Authenticator struct {
	store  ports.DocumentStore
	secret []byte
	opts   Options
	tokens *ttl[string, string]

	mu        sync.Mutex
	current   *types.User
	listeners map[uint64]func(*types.User)
	nextID    uint64
}

var _ ports.Authenticator = (*Authenticator)(nil)

func New(store ports.DocumentStore, secret []byte, opts Options) (*Authenticator, error) {
	if len(secret) == 0 {
		return nil, types.Err(types.ErrConfiguration, nil, "jwt secret is required")
	}
	if opts.Collection == "" {
		opts.Collection = DefaultCollection
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = DefaultTokenTTL
	}
	if opts.Issuer == "" {
		opts.Issuer = "firestorm"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Authenticator{
		store:     store,
		secret:    secret,
		opts:      opts,
		tokens:    newTTL[string, string](opts.Now),
		listeners: make(map[uint64]func(*types.User)),
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func checkCredential(cred types.Credential) error {
	if normalizeEmail(cred.Email) == "" || cred.Password == "" {
		return types.Err(types.ErrAuth, nil, "email and password are required")
	}
	return nil
}

func (a *Authenticator) SignUp(ctx context.Context, cred types.Credential) (*types.User, error) {
	if err := checkCredential(cred); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cred.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, types.Err(types.ErrAuth, err, "hashing password")
	}
	email := normalizeEmail(cred.Email)
	u := &types.User{ID: strings.ToLower(ulid.Make().String()), Email: email}
	created, err := a.store.CreateDocument(ctx, a.opts.Collection, email, types.Document{
		keyUID:          u.ID,
		keyEmail:        email,
		keyPasswordHash: string(hash),
	})
	if err != nil {
		return nil, types.Err(types.ErrRemote, err, "storing credentials for %s", email)
	}
	if !created {
		return nil, types.Err(types.ErrAuth, nil, "email %s is already registered", email)
	}
	log.WithFields(log.Fields{"uid": u.ID, "email": email}).Info("User signed up")
	a.setCurrent(u)
	return u, nil
}

func (a *Authenticator) SignIn(ctx context.Context, cred types.Credential) (*types.User, error) {
	if err := checkCredential(cred); err != nil {
		return nil, err
	}
	email := normalizeEmail(cred.Email)
	doc, err := a.store.GetDocument(ctx, a.opts.Collection, email)
	if err != nil {
		return nil, types.Err(types.ErrRemote, err, "loading credentials for %s", email)
	}
	hash, _ := doc[keyPasswordHash].(string)
	uid, _ := doc[keyUID].(string)
	if doc == nil || hash == "" || uid == "" {
		return nil, types.Err(types.ErrAuth, nil, "invalid email or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(cred.Password)); err != nil {
		return nil, types.Err(types.ErrAuth, nil, "invalid email or password")
	}
	u := &types.User{ID: uid, Email: email}
	a.setCurrent(u)
	return u, nil
}

func (a *Authenticator) SignOut(ctx context.Context) error {
	a.mu.Lock()
	prev := a.current
	a.mu.Unlock()
	if prev != nil {
		a.tokens.remove(prev.ID)
	}
	a.setCurrent(nil)
	return nil
}

func (a *Authenticator) CurrentUser(ctx context.Context) *types.User {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return nil
	}
	u := *a.current
	return &u
}

// OnAuthStateChanged calls fn with the current state right away and on every change after.
func (a *Authenticator) OnAuthStateChanged(fn func(*types.User)) func() {
	a.mu.Lock()
	a.nextID++
	id := a.nextID
	a.listeners[id] = fn
	cur := a.current
	a.mu.Unlock()

	fn(copyUser(cur))

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.listeners, id)
			a.mu.Unlock()
		})
	}
}

func (a *Authenticator) setCurrent(u *types.User) {
	a.mu.Lock()
	a.current = u
	fns := make([]func(*types.User), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()
	for _, fn := range fns {
		fn(copyUser(u))
	}
}

func copyUser(u *types.User) *types.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// IDToken returns a bearer token for the current user, "" when nobody is signed in.
func (a *Authenticator) IDToken(ctx context.Context) (string, error) {
	u := a.CurrentUser(ctx)
	if u == nil {
		return "", nil
	}
	if tok, ok := a.tokens.get(u.ID); ok {
		return tok, nil
	}
	now := a.opts.Now()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    a.opts.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.opts.TokenTTL)),
		},
	}).SignedString(a.secret)
	if err != nil {
		return "", types.Err(types.ErrAuth, err, "signing token")
	}
	a.tokens.set(u.ID, tok, a.opts.TokenTTL-tokenRefreshMargin)
	return tok, nil
}

// Verify parses a token issued by IDToken and returns its user.
func (a *Authenticator) Verify(token string) (*types.User, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.opts.Issuer),
		jwt.WithTimeFunc(a.opts.Now),
	)
	if err != nil {
		return nil, types.Err(types.ErrAuth, err, "invalid token")
	}
	if c.Subject == "" {
		return nil, types.Err(types.ErrAuth, errors.New("missing subject"), "invalid token")
	}
	return &types.User{ID: c.Subject, Email: c.Email}, nil
}
