package embedding

import (
	"context"
	"fmt"
	"log/slog"
)

// Session binds a Registry to an Engine and exposes the entity lifecycle:
// New/Load, SetAttributes, UpdateAttributes, Persist, Destroy and ToDocument.
type Session struct {
	registry   *Registry
	engine     Engine
	framework  Framework
	reconciler *Reconciler
	cascade    *Cascade
	config     Config
	logger     *slog.Logger
}

// Option configures a Session.
type Option func(*Session)

// WithConfig sets the assignment policy.
func WithConfig(cfg Config) Option {
	return func(s *Session) { s.config = cfg }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithFramework replaces the nested attribute primitive.
func WithFramework(f Framework) Option {
	return func(s *Session) { s.framework = f }
}

// NewSession creates a Session over engine.
func NewSession(registry *Registry, engine Engine, opts ...Option) *Session {
	s := &Session{
		registry: registry,
		engine:   engine,
		config:   DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.config.validate()
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.framework == nil {
		s.framework = NewFramework(s.config, s.logger)
	}
	s.reconciler = NewReconciler(engine, s.framework, s.config, s.logger)
	s.cascade = NewCascade(engine, s.logger)
	return s
}

// Registry returns the registry the session resolves types from.
func (s *Session) Registry() *Registry {
	return s.registry
}

func (s *Session) lookup(entityType string) (*Type, error) {
	t, ok := s.registry.Type(entityType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, entityType)
	}
	return t, nil
}

// New creates an unpersisted entity.
func (s *Session) New(entityType string) (*Entity, error) {
	t, err := s.lookup(entityType)
	if err != nil {
		return nil, err
	}
	return newEntity(t, s.engine), nil
}

// Load reads a persisted entity. Eager relations are loaded immediately,
// the others on first access.
func (s *Session) Load(ctx context.Context, entityType, id string) (*Entity, error) {
	t, err := s.lookup(entityType)
	if err != nil {
		return nil, err
	}
	row, err := s.engine.LoadParent(ctx, t, id)
	if err != nil {
		return nil, err
	}

	e := newEntity(t, s.engine)
	e.id = row.ID
	if row.Attrs != nil {
		e.attrs = row.Attrs.Clone()
	}
	for _, rel := range t.relations {
		if !rel.eager {
			e.relations[rel.name] = &collection{}
			continue
		}
		rows, err := e.loadRows(ctx, rel)
		if err != nil {
			return nil, err
		}
		e.setLoaded(rel, rows)
	}
	return e, nil
}

// SetAttributes stages payload on e without writing. Relation keys are
// reconciled against the persisted children; on error e is unchanged.
func (s *Session) SetAttributes(ctx context.Context, e *Entity, payload Attributes) error {
	return s.reconciler.Assign(ctx, e, payload)
}

// Persist writes e and its staged children in one transaction.
func (s *Session) Persist(ctx context.Context, e *Entity) error {
	return s.cascade.Persist(ctx, e)
}

// UpdateAttributes stages payload and persists e.
func (s *Session) UpdateAttributes(ctx context.Context, e *Entity, payload Attributes) error {
	if err := s.SetAttributes(ctx, e, payload); err != nil {
		return err
	}
	return s.Persist(ctx, e)
}

// Destroy deletes e and all of its embedded children in one transaction.
func (s *Session) Destroy(ctx context.Context, e *Entity) error {
	return s.cascade.Destroy(ctx, e)
}

// ToDocument renders e with its visible children.
func (s *Session) ToDocument(ctx context.Context, e *Entity, opts DocumentOptions) (Document, error) {
	return ToDocument(ctx, e, opts)
}
