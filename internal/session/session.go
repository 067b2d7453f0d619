// Package session tracks the signed-in user's profile document.
package session

import (
	"context"
	"slices"
	"sync"

	"firestorm/internal/lifecycle"
	"firestorm/internal/listen"
	"firestorm/internal/ports"
	"firestorm/internal/types"

	log "github.com/sirupsen/logrus"
)

const keyAdmin = "admin"

type Options struct {
	// AdminEmails are treated as admins regardless of the profile's admin flag.
	AdminEmails []string
}

type Session struct {
	auth   ports.Authenticator
	engine *lifecycle.Engine
	mux    *listen.Multiplexer
	opts   Options

	mu            sync.Mutex
	profile       types.Document
	signupData    types.Document
	callbacks     []func(types.Document)
	profileUID    string
	profileDetach listen.Detach
	stopAuth      func()
}

func New(auth ports.Authenticator, engine *lifecycle.Engine, mux *listen.Multiplexer, opts Options) *Session {
	return &Session{
		auth:       auth,
		engine:     engine,
		mux:        mux,
		opts:       opts,
		signupData: types.Document{},
	}
}

// Start installs the auth-state handler. Calling it again is a no-op.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopAuth != nil {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	stop := s.auth.OnAuthStateChanged(func(u *types.User) { s.onAuthStateChanged(ctx, u) })

	s.mu.Lock()
	s.stopAuth = stop
	s.mu.Unlock()
}

// Stop removes the auth-state handler.
func (s *Session) Stop() {
	s.mu.Lock()
	stop := s.stopAuth
	s.stopAuth = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (s *Session) onAuthStateChanged(ctx context.Context, u *types.User) {
	log.WithField("user", u).Debug("Auth state changed")
	if u == nil {
		s.mu.Lock()
		s.profile = nil
		cbs := slices.Clone(s.callbacks)
		s.mu.Unlock()
		for _, cb := range cbs {
			cb(nil)
		}
		return
	}

	s.watchProfile(ctx, u.ID)
	doc, err := s.engine.Get(ctx, types.ProfileCollection, u.ID)
	if err != nil {
		log.WithError(err).WithField("uid", u.ID).Error("Error fetching profile doc")
		return
	}
	if doc == nil {
		log.WithField("uid", u.ID).Warn("Could not find matching profile for user")
		return
	}
	log.WithField("uid", u.ID).Debug("Found user profile")
	s.setProfile(doc)
}

// watchProfile installs the permanent profiles/<uid> subscription once per uid.
func (s *Session) watchProfile(ctx context.Context, uid string) {
	s.mu.Lock()
	if s.profileUID == uid && s.profileDetach != nil {
		s.mu.Unlock()
		return
	}
	prev := s.profileDetach
	s.profileUID = uid
	s.profileDetach = nil
	s.mu.Unlock()
	if prev != nil {
		prev()
	}

	detach, err := s.mux.Attach(ctx, types.Doc(types.ProfileCollection, uid), func(snap types.Snapshot) {
		if snap.Doc != nil {
			s.setProfile(snap.Doc)
		}
	})
	if err != nil {
		log.WithError(err).WithField("uid", uid).Error("Failed to watch profile")
		return
	}

	s.mu.Lock()
	if s.profileUID != uid {
		s.mu.Unlock()
		detach()
		return
	}
	s.profileDetach = detach
	s.mu.Unlock()
}

// setProfile stores doc and notifies the profile-changed callbacks when the identity changed.
func (s *Session) setProfile(doc types.Document) {
	s.mu.Lock()
	changed := s.profile.ID() != doc.ID()
	s.profile = doc.Clone()
	var cbs []func(types.Document)
	if changed {
		cbs = slices.Clone(s.callbacks)
	}
	s.mu.Unlock()
	for _, cb := range cbs {
		cb(doc.Clone())
	}
}

func authErr(err error, op string) error {
	return types.Err(types.ErrAuth, err, "%s failed", op)
}

// Signup creates the account and its profile. Staged signup data is merged into the
// first profile save.
func (s *Session) Signup(ctx context.Context, email, password string) (types.Document, error) {
	staged := s.SignupData()
	u, err := s.auth.SignUp(ctx, types.Credential{Email: email, Password: password})
	if err != nil {
		return nil, authErr(err, "signup")
	}
	if u == nil || u.ID == "" {
		return nil, types.Err(types.ErrAuth, nil, "no user uid found after signing up")
	}
	s.watchProfile(ctx, u.ID)

	s.mu.Lock()
	s.signupData = types.Document{}
	s.mu.Unlock()

	profile := types.Document{"email": email}.Merge(staged)
	profile[types.KeyID] = u.ID
	return s.engine.Save(ctx, types.ProfileCollection, profile, lifecycle.SaveOptions{})
}

// Login signs in and returns the stored profile, nil if there is none.
func (s *Session) Login(ctx context.Context, email, password string) (types.Document, error) {
	u, err := s.auth.SignIn(ctx, types.Credential{Email: email, Password: password})
	if err != nil {
		return nil, authErr(err, "login")
	}
	if u == nil || u.ID == "" {
		return nil, types.Err(types.ErrAuth, nil, "no user uid found after logging in")
	}
	s.watchProfile(ctx, u.ID)
	doc, err := s.engine.Get(ctx, types.ProfileCollection, u.ID)

	s.mu.Lock()
	s.signupData = types.Document{}
	s.mu.Unlock()
	return doc, err
}

// Reset drops the profile, the staged signup data and every active subscription.
// Profile-changed callbacks stay registered.
func (s *Session) Reset() {
	s.mu.Lock()
	s.profile = nil
	s.signupData = types.Document{}
	s.profileUID = ""
	s.profileDetach = nil
	s.mu.Unlock()
	s.mux.Reset()
}

func (s *Session) Logout(ctx context.Context) error {
	s.Reset()
	if err := s.auth.SignOut(ctx); err != nil {
		return authErr(err, "logout")
	}
	return nil
}

// UpdateProfile stages partial as signup data while nobody is signed in. Otherwise it
// updates the profile document with a fresh updated stamp.
func (s *Session) UpdateProfile(ctx context.Context, partial types.Document) error {
	s.mu.Lock()
	uid := s.profile.ID()
	if uid == "" {
		log.WithField("update", partial).Debug("Updating signup data")
		s.signupData = s.signupData.Merge(partial)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	log.WithField("uid", uid).Debug("Updating profile")
	update := partial.Clone()
	if update == nil {
		update = types.Document{}
	}
	update[types.KeyUpdated] = lifecycle.Now()
	return s.engine.Update(ctx, types.ProfileCollection, uid, update)
}

// OnProfileStateChanged calls cb right away when a profile is loaded. Otherwise cb is
// queued and runs whenever the profile identity changes.
func (s *Session) OnProfileStateChanged(cb func(types.Document)) {
	s.mu.Lock()
	if s.profile.ID() != "" {
		p := s.profile.Clone()
		s.mu.Unlock()
		cb(p)
		return
	}
	s.callbacks = append(s.callbacks, cb)
	s.mu.Unlock()
}

func (s *Session) Profile() types.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile.Clone()
}

func (s *Session) SignupData() types.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signupData.Clone()
}

// UserOrSignupData returns staged signup data when there is any, else the profile.
func (s *Session) UserOrSignupData() types.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.signupData) > 0 {
		return s.signupData.Clone()
	}
	return s.profile.Clone()
}

func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile != nil
}

// IsAdmin reports whether the profile carries admin: true or a configured admin email.
func (s *Session) IsAdmin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return false
	}
	if admin, _ := s.profile[keyAdmin].(bool); admin {
		return true
	}
	email, _ := s.profile["email"].(string)
	return email != "" && slices.Contains(s.opts.AdminEmails, email)
}

// IsOwner reports whether doc's ownerId is the signed-in profile's id.
func (s *Session) IsOwner(doc types.Document) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, _ := doc[types.KeyOwnerID].(string)
	return owner != "" && owner == s.profile.ID()
}
