// Package handlers implements the notifier admin API.
package handlers

import (
	"context"
	"encoding/json"
	"time"

	"coursepulse.io/notifier/internal/extctx"
	"coursepulse.io/notifier/internal/preference"
	"coursepulse.io/notifier/internal/producer"
	"coursepulse.io/notifier/internal/queue"
	"coursepulse.io/notifier/internal/resolver"
)

// PreferenceLister lists stored preferences at one extended context.
type PreferenceLister interface {
	ListAtContext(ctx context.Context, ec extctx.Context) ([]preference.Preference, error)
}

// Server carries the API's collaborators.
type Server struct {
	builder   *preference.Builder
	loader    *preference.Loader
	store     preference.Store
	lister    PreferenceLister
	resolvers *resolver.Registry
	producer  *producer.Producer
	events    queue.EventStore
}

// NewServer wires the API server.
func NewServer(
	builder *preference.Builder,
	loader *preference.Loader,
	store preference.Store,
	lister PreferenceLister,
	resolvers *resolver.Registry,
	producer *producer.Producer,
	events queue.EventStore,
) *Server {
	return &Server{
		builder:   builder,
		loader:    loader,
		store:     store,
		lister:    lister,
		resolvers: resolvers,
		producer:  producer,
		events:    events,
	}
}

// contextRequest is the wire form of an extended context.
type contextRequest struct {
	ContextID   int64  `json:"context_id" binding:"required"`
	ContextPath string `json:"context_path" binding:"required"`
	Level       int    `json:"context_level" binding:"required"`
	Component   string `json:"component"`
	Area        string `json:"area"`
	ItemID      int64  `json:"item_id"`
}

func (r contextRequest) toContext() extctx.Context {
	ec := extctx.Natural(r.ContextID, r.ContextPath, r.Level)
	if r.Component != "" || r.Area != "" || r.ItemID != 0 {
		ec = ec.With(r.Component, r.Area, r.ItemID)
	}
	return ec
}

// preferenceRequest is the create/update body.
type preferenceRequest struct {
	ResolverKey string         `json:"resolver_key"`
	Context     contextRequest `json:"context"`
	AncestorID  *int64         `json:"ancestor_id"`

	Title              *string         `json:"title"`
	Subject            *string         `json:"subject"`
	SubjectFormat      *string         `json:"subject_format"`
	Body               *string         `json:"body"`
	BodyFormat         *string         `json:"body_format"`
	Recipients         []string        `json:"recipients"`
	ScheduleOffset     *int64          `json:"schedule_offset"`
	Enabled            *bool           `json:"enabled"`
	ForcedChannels     []string        `json:"forced_channels"`
	AdditionalCriteria json.RawMessage `json:"additional_criteria"`
}

func (r preferenceRequest) toPreference() *preference.Preference {
	return &preference.Preference{
		ResolverKey:        r.ResolverKey,
		Context:            r.Context.toContext(),
		AncestorID:         r.AncestorID,
		Title:              r.Title,
		Subject:            r.Subject,
		SubjectFormat:      r.SubjectFormat,
		Body:               r.Body,
		BodyFormat:         r.BodyFormat,
		Recipients:         r.Recipients,
		ScheduleOffset:     r.ScheduleOffset,
		Enabled:            r.Enabled,
		ForcedChannels:     r.ForcedChannels,
		AdditionalCriteria: r.AdditionalCriteria,
	}
}

// contextResponse mirrors contextRequest on the way out.
type contextResponse struct {
	ContextID   int64  `json:"context_id"`
	ContextPath string `json:"context_path"`
	Level       int    `json:"context_level"`
	Component   string `json:"component,omitempty"`
	Area        string `json:"area,omitempty"`
	ItemID      int64  `json:"item_id,omitempty"`
}

func toContextResponse(ec extctx.Context) contextResponse {
	return contextResponse{
		ContextID:   ec.ContextID,
		ContextPath: ec.Path,
		Level:       ec.Level,
		Component:   ec.Component,
		Area:        ec.Area,
		ItemID:      ec.ItemID,
	}
}

// preferenceResponse is the stored-row wire form.
type preferenceResponse struct {
	ID                int64           `json:"id"`
	ResolverKey       string          `json:"resolver_key"`
	Context           contextResponse `json:"context"`
	AncestorID        *int64          `json:"ancestor_id,omitempty"`
	NotificationClass string          `json:"notification_class,omitempty"`

	Title              *string         `json:"title,omitempty"`
	Subject            *string         `json:"subject,omitempty"`
	SubjectFormat      *string         `json:"subject_format,omitempty"`
	Body               *string         `json:"body,omitempty"`
	BodyFormat         *string         `json:"body_format,omitempty"`
	Recipients         []string        `json:"recipients,omitempty"`
	ScheduleOffset     *int64          `json:"schedule_offset,omitempty"`
	Enabled            *bool           `json:"enabled,omitempty"`
	ForcedChannels     []string        `json:"forced_channels,omitempty"`
	AdditionalCriteria json.RawMessage `json:"additional_criteria,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toPreferenceResponse(p *preference.Preference) preferenceResponse {
	return preferenceResponse{
		ID:                 p.ID,
		ResolverKey:        p.ResolverKey,
		Context:            toContextResponse(p.Context),
		AncestorID:         p.AncestorID,
		NotificationClass:  p.NotificationClass,
		Title:              p.Title,
		Subject:            p.Subject,
		SubjectFormat:      p.SubjectFormat,
		Body:               p.Body,
		BodyFormat:         p.BodyFormat,
		Recipients:         p.Recipients,
		ScheduleOffset:     p.ScheduleOffset,
		Enabled:            p.Enabled,
		ForcedChannels:     p.ForcedChannels,
		AdditionalCriteria: p.AdditionalCriteria,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}

// effectiveResponse is the fully resolved preference wire form.
type effectiveResponse struct {
	PreferenceID       int64           `json:"preference_id"`
	ResolverKey        string          `json:"resolver_key"`
	Context            contextResponse `json:"context"`
	Title              string          `json:"title"`
	Subject            string          `json:"subject"`
	SubjectFormat      string          `json:"subject_format"`
	Body               string          `json:"body"`
	BodyFormat         string          `json:"body_format"`
	Recipients         []string        `json:"recipients"`
	ScheduleOffset     int64           `json:"schedule_offset"`
	Enabled            bool            `json:"enabled"`
	ForcedChannels     []string        `json:"forced_channels,omitempty"`
	AdditionalCriteria json.RawMessage `json:"additional_criteria,omitempty"`
}

func toEffectiveResponse(eff *preference.Effective) effectiveResponse {
	return effectiveResponse{
		PreferenceID:       eff.PreferenceID,
		ResolverKey:        eff.ResolverKey,
		Context:            toContextResponse(eff.Context),
		Title:              eff.Title,
		Subject:            eff.Subject,
		SubjectFormat:      eff.SubjectFormat,
		Body:               eff.Body,
		BodyFormat:         eff.BodyFormat,
		Recipients:         eff.Recipients,
		ScheduleOffset:     eff.ScheduleOffset,
		Enabled:            eff.Enabled,
		ForcedChannels:     eff.ForcedChannels,
		AdditionalCriteria: eff.AdditionalCriteria,
	}
}
