// Package client wires the sync layer together for one process: the subscription
// multiplexer, the document lifecycle engine, the signed-in session, the API caller and
// the schema registry.
package client

import (
	"context"

	"firestorm/internal/apicall"
	"firestorm/internal/lifecycle"
	"firestorm/internal/listen"
	"firestorm/internal/ports"
	"firestorm/internal/pub"
	"firestorm/internal/schema"
	"firestorm/internal/session"
	"firestorm/internal/types"

	log "github.com/sirupsen/logrus"
)

type Options struct {
	// BaseURL of the application's HTTP API. Call resolves to an empty document without it.
	BaseURL string
	// FunctionsURL serves remote functions for Invoke; BaseURL is used when empty.
	FunctionsURL string
	AdminEmails  []string
	// StaleEntries bounds the retired-snapshot cache.
	StaleEntries int
	Notifier     *pub.Notifier
}

type Client struct {
	Store   ports.DocumentStore
	Auth    ports.Authenticator
	Mux     *listen.Multiplexer
	Engine  *lifecycle.Engine
	Session *session.Session
	API     *apicall.Client
	Schemas *schema.Registry
}

func New(store ports.DocumentStore, auth ports.Authenticator, opts Options) *Client {
	engine := lifecycle.NewEngine(store,
		lifecycle.WithCurrentUser(auth.CurrentUser),
		lifecycle.WithNotifier(opts.Notifier),
	)
	mux := listen.NewMultiplexer(store, engine, listen.NewCache(opts.StaleEntries))
	return &Client{
		Store:   store,
		Auth:    auth,
		Mux:     mux,
		Engine:  engine,
		Session: session.New(auth, engine, mux, session.Options{AdminEmails: opts.AdminEmails}),
		API:     apicall.New(opts.BaseURL, auth).WithFunctionsURL(opts.FunctionsURL),
		Schemas: schema.NewRegistry(),
	}
}

// Start begins tracking the signed-in user's profile.
func (c *Client) Start(ctx context.Context) {
	log.Debug("Starting client")
	c.Session.Start(ctx)
}

// Stop tears down the auth handler and every subscription.
func (c *Client) Stop() {
	c.Session.Stop()
	c.Mux.Reset()
}

// Reset drops all subscriptions, cached snapshots and session state.
func (c *Client) Reset() {
	c.Session.Reset()
}

func (c *Client) Logout(ctx context.Context) error {
	return c.Session.Logout(ctx)
}

func (c *Client) Subscribe(ctx context.Context, cfg types.SubscriptionConfig, cb listen.Callback) (listen.Detach, error) {
	return c.Mux.Attach(ctx, cfg, cb)
}

func (c *Client) Get(ctx context.Context, collection, id string) (types.Document, error) {
	return c.Engine.Get(ctx, collection, id)
}

func (c *Client) GetMany(ctx context.Context, cfg types.SubscriptionConfig) (map[string]types.Document, error) {
	return c.Engine.GetMany(ctx, cfg)
}

func (c *Client) Save(ctx context.Context, collection string, doc types.Document, opts lifecycle.SaveOptions) (types.Document, error) {
	return c.Engine.Save(ctx, collection, doc, opts)
}

func (c *Client) Update(ctx context.Context, collection, id string, partial types.Document) error {
	return c.Engine.Update(ctx, collection, id, partial)
}

func (c *Client) Delete(ctx context.Context, collection, id string) {
	c.Engine.Delete(ctx, collection, id)
}

func (c *Client) Call(ctx context.Context, path, method string, body any) types.Document {
	return c.API.Call(ctx, path, method, body)
}

// Invoke runs a remote function and returns its result or error.
func (c *Client) Invoke(ctx context.Context, fn string, data any) (any, error) {
	return c.API.Invoke(ctx, fn, data)
}

// Register adds a schema to the registry.
func (c *Client) Register(s *schema.Schema) error {
	return c.Schemas.Register(s)
}

func (c *Client) model(collection string) (*schema.Schema, error) {
	s, ok := c.Schemas.Lookup(collection)
	if !ok {
		return nil, types.Err(types.ErrConfiguration, nil, "no schema registered for %s", collection)
	}
	return s, nil
}

// NewRecord builds an unsaved record of the schema registered for collection.
func (c *Client) NewRecord(collection string, data types.Document) (*schema.Record, error) {
	s, err := c.model(collection)
	if err != nil {
		return nil, err
	}
	return s.NewRecord(c.Engine, data)
}

// Find loads one record of the schema registered for collection.
func (c *Client) Find(ctx context.Context, collection, id string) (*schema.Record, error) {
	s, err := c.model(collection)
	if err != nil {
		return nil, err
	}
	return schema.Find(ctx, c.Engine, s, id)
}

// Watch subscribes to records of the schema registered for cfg.Collection.
func (c *Client) Watch(ctx context.Context, cfg types.SubscriptionConfig, fn func([]*schema.Record)) (listen.Detach, error) {
	s, err := c.model(cfg.Collection)
	if err != nil {
		return nil, err
	}
	return schema.Watch(ctx, c.Mux, c.Engine, s, cfg, fn)
}
