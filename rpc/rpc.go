// Package rpc implements the request/response envelope the editor uses to
// run planning and G-code generation: {id, type, payload} in,
// {id, type, payload, error} out.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"kerf/cam"
	"kerf/config"
	"kerf/gcode"
)

// Version is reported by worker.ping
const Version = "0.3.0"

// Envelope types
const (
	TypePing          = "worker.ping"
	TypeCamPlan       = "core.camPlan"
	TypeEmitGcode     = "core.emitGcode"
	TypeGenerateGcode = "core.generateGcode"
)

// Error codes
const (
	CodeUnknownType = "unknown_type"
	CodeBadPayload  = "bad_payload"
)

// Request is an incoming envelope
type Request struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response answers a Request with the same id and type
type Response struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error is the failure half of a Response
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PingResult answers worker.ping
type PingResult struct {
	Pong    bool   `json:"pong"`
	Version string `json:"version"`
}

// CamPlanRequest is the payload of core.camPlan
type CamPlanRequest struct {
	Document cam.Document    `json:"document"`
	Settings cam.CamSettings `json:"settings"`
}

// EmitRequest is the payload of core.emitGcode
type EmitRequest struct {
	Plan     cam.CamPlan            `json:"plan"`
	Settings cam.CamSettings        `json:"settings"`
	Profile  *config.MachineProfile `json:"profile,omitempty"`
	Dialect  *config.Dialect        `json:"dialect,omitempty"`
}

// GenerateRequest is the payload of core.generateGcode
type GenerateRequest struct {
	Document cam.Document           `json:"document"`
	Settings cam.CamSettings        `json:"settings"`
	Profile  *config.MachineProfile `json:"profile,omitempty"`
	Dialect  *config.Dialect        `json:"dialect,omitempty"`
}

// GenerateResult answers core.generateGcode
type GenerateResult struct {
	Gcode    string         `json:"gcode"`
	Stats    gcode.JobStats `json:"stats"`
	Plan     cam.CamPlan    `json:"plan"`
	Warnings []string       `json:"warnings"`
	Preview  cam.Preview    `json:"preview"`
}

// Dispatcher routes envelopes to the planner and codec. It holds no
// per-request state and is safe for concurrent use.
type Dispatcher struct {
	profile config.MachineProfile
	dialect *config.Dialect
	images  cam.ImageSource
	log     *slog.Logger
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithProfile sets the machine profile used when a request carries none
func WithProfile(p config.MachineProfile) Option {
	return func(d *Dispatcher) { d.profile = p }
}

// WithDialect sets the dialect used when a request carries none. Without
// one the dialect is derived from the profile.
func WithDialect(dl config.Dialect) Option {
	return func(d *Dispatcher) { d.dialect = &dl }
}

// WithImages sets where image objects' bitmaps are loaded from
func WithImages(src cam.ImageSource) Option {
	return func(d *Dispatcher) { d.images = src }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// NewDispatcher creates a dispatcher for the default GRBL profile
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		profile: config.DefaultProfile(),
		log:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle answers one request. Failures are reported in the response, never
// as a Go error.
func (d *Dispatcher) Handle(ctx context.Context, req Request) Response {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	resp := Response{ID: req.ID, Type: req.Type}

	var (
		payload any
		err     error
	)
	switch req.Type {
	case TypePing:
		payload = PingResult{Pong: true, Version: Version}
	case TypeCamPlan:
		payload, err = d.camPlan(req.Payload)
	case TypeEmitGcode:
		payload, err = d.emitGcode(req.Payload)
	case TypeGenerateGcode:
		payload, err = d.generateGcode(req.Payload)
	default:
		resp.Error = &Error{Code: CodeUnknownType, Message: fmt.Sprintf("unknown request type %q", req.Type)}
		d.log.Warn("unknown request type", "id", req.ID, "type", req.Type)
		return resp
	}

	if err != nil {
		resp.Error = &Error{Code: CodeBadPayload, Message: err.Error()}
		d.log.Warn("bad payload", "id", req.ID, "type", req.Type, "err", err)
		return resp
	}
	resp.Payload = payload
	d.log.Debug("handled request", "id", req.ID, "type", req.Type)
	return resp
}

// HandleJSON decodes a JSON request, handles it and encodes the response
func (d *Dispatcher) HandleJSON(ctx context.Context, data []byte) ([]byte, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return json.Marshal(Response{
			ID:    uuid.NewString(),
			Error: &Error{Code: CodeBadPayload, Message: fmt.Sprintf("invalid envelope: %v", err)},
		})
	}
	return json.Marshal(d.Handle(ctx, req))
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

// machine resolves the profile and dialect for a request
func (d *Dispatcher) machine(profile *config.MachineProfile, dialect *config.Dialect) (config.MachineProfile, config.Dialect) {
	p := d.profile
	if profile != nil {
		p = *profile
		config.ApplyProfileDefaults(&p)
	}

	var dl config.Dialect
	switch {
	case dialect != nil:
		dl = *dialect
		config.ApplyDialectDefaults(&dl, p)
	case d.dialect != nil && profile == nil:
		dl = *d.dialect
	default:
		dl = config.DialectFor(p)
	}
	return p, dl
}

func (d *Dispatcher) camPlan(raw json.RawMessage) (cam.Result, error) {
	var req CamPlanRequest
	if err := decode(raw, &req); err != nil {
		return cam.Result{}, err
	}
	return cam.PlanCam(req.Document, req.Settings, d.images), nil
}

func (d *Dispatcher) emitGcode(raw json.RawMessage) (gcode.Output, error) {
	var req EmitRequest
	if err := decode(raw, &req); err != nil {
		return gcode.Output{}, err
	}
	profile, dialect := d.machine(req.Profile, req.Dialect)
	return gcode.EmitGcode(req.Plan, req.Settings, profile, dialect), nil
}

func (d *Dispatcher) generateGcode(raw json.RawMessage) (GenerateResult, error) {
	var req GenerateRequest
	if err := decode(raw, &req); err != nil {
		return GenerateResult{}, err
	}
	profile, dialect := d.machine(req.Profile, req.Dialect)

	res := cam.PlanCam(req.Document, req.Settings, d.images)
	out := gcode.EmitGcode(res.Plan, req.Settings, profile, dialect)
	return GenerateResult{
		Gcode:    out.Text,
		Stats:    out.Stats,
		Plan:     res.Plan,
		Warnings: res.Warnings,
		Preview:  res.Preview,
	}, nil
}
