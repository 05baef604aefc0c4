package engine

import (
	"context"
	"fmt"
	"time"

	"fieldline/internal/config"
	"fieldline/internal/domain"
	"fieldline/internal/events"
	"fieldline/internal/store"
)

// Engine applies the solicitation workflow over a record store. It holds no
// workflow state of its own; everything flows through Store.
type Engine struct {
	Store  store.Store
	Events events.Log
	Config *config.Config
	Now    func() time.Time
}

func New(s store.Store, log events.Log, cfg *config.Config) Engine {
	if log == nil {
		log = events.Discard{}
	}
	return Engine{
		Store:  s,
		Events: log,
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// MissingFieldError indicates a creation attempt without a mandatory field.
type MissingFieldError struct {
	Field string
}

func (e MissingFieldError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

// IllegalTransitionError indicates a role/status combination not permitted by
// the workflow table. It carries enough detail for a caller to explain why
// the action is unavailable.
type IllegalTransitionError struct {
	Role domain.Role
	From domain.Status
	To   domain.Status
}

func (e IllegalTransitionError) Error() string {
	return fmt.Sprintf("role %s may not move solicitation from %s to %s", e.Role, e.From, e.To)
}

// CreateOptions are parameters for creating a solicitation.
type CreateOptions struct {
	ID       string
	Actor    domain.Actor
	PhotoRef string
	Location *domain.Location
	Address  *domain.Address
	Note     string
}

// CreateSolicitation constructs and persists a new solicitation in the
// submitted state with a single-entry history. Photo and location are
// mandatory; they are captured before this call is reachable, the engine only
// validates their presence. The id is caller-assigned, defaulting to a
// timestamp-derived one.
func (e Engine) CreateSolicitation(ctx context.Context, opts CreateOptions) (domain.Solicitation, error) {
	if opts.Actor.ID == "" {
		return domain.Solicitation{}, MissingFieldError{Field: "actor"}
	}
	if opts.PhotoRef == "" {
		return domain.Solicitation{}, MissingFieldError{Field: "photo_ref"}
	}
	if opts.Location == nil {
		return domain.Solicitation{}, MissingFieldError{Field: "location"}
	}
	now := e.now().UTC()
	id := opts.ID
	if id == "" {
		id = fmt.Sprintf("sol_%d", now.UnixNano())
	}
	ts := now.Format(time.RFC3339)
	sol := domain.Solicitation{
		ID:            id,
		SubmitterID:   opts.Actor.ID,
		SubmitterName: opts.Actor.DisplayName,
		PhotoRef:      opts.PhotoRef,
		Location:      *opts.Location,
		Address:       opts.Address,
		Note:          opts.Note,
		CreatedAt:     ts,
		CurrentStatus: domain.StatusSubmitted,
		History: []domain.StatusEntry{{
			Status:    domain.StatusSubmitted,
			ActorName: opts.Actor.DisplayName,
			Timestamp: ts,
		}},
	}
	stored, err := e.Store.Insert(ctx, sol)
	if err != nil {
		return domain.Solicitation{}, err
	}
	if err := e.Events.Append(ctx, "solicitation.created", stored.ID, opts.Actor.ID, events.EventPayload{
		"status":    string(stored.CurrentStatus),
		"submitter": stored.SubmitterName,
	}); err != nil {
		return domain.Solicitation{}, err
	}
	return stored, nil
}

// ApplyTransition moves a solicitation to target on behalf of actor: one
// store read, one store write. On success the new history entry and the
// status update land together; on any failure the record is left unchanged
// and the returned error says why. If the write itself fails the in-memory
// record must not be treated as authoritative.
func (e Engine) ApplyTransition(ctx context.Context, actor domain.Actor, id string, target domain.Status) (domain.Solicitation, error) {
	sol, err := e.Store.GetByID(ctx, id)
	if err != nil {
		return domain.Solicitation{}, err
	}
	if !domain.CanTransition(actor.Role, sol.CurrentStatus, target) {
		return domain.Solicitation{}, IllegalTransitionError{
			Role: actor.Role,
			From: sol.CurrentStatus,
			To:   target,
		}
	}
	from := sol.CurrentStatus
	sol.History = append(sol.History, domain.StatusEntry{
		Status:    target,
		ActorName: actor.DisplayName,
		Timestamp: e.now().UTC().Format(time.RFC3339),
	})
	sol.CurrentStatus = target
	stored, err := e.Store.Replace(ctx, sol)
	if err != nil {
		return domain.Solicitation{}, err
	}
	if err := e.Events.Append(ctx, "solicitation.transitioned", stored.ID, actor.ID, events.EventPayload{
		"from": string(from),
		"to":   string(target),
		"by":   actor.DisplayName,
	}); err != nil {
		return domain.Solicitation{}, err
	}
	return stored, nil
}

// GetSolicitation returns one record by id.
func (e Engine) GetSolicitation(ctx context.Context, id string) (domain.Solicitation, error) {
	return e.Store.GetByID(ctx, id)
}

// ListSolicitations returns every record, newest first.
func (e Engine) ListSolicitations(ctx context.Context) ([]domain.Solicitation, error) {
	all, err := e.Store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(all)
	return all, nil
}
