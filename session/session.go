// session.go - Accelerator-Session: geordnete Kette von Backend-Handles
//
// Dieses Modul enthaelt:
// - Session: besitzt Modul, Logger, Backend, Device, Context, Graph bzw. Profiler
// - Fehler der Session
// - Optionen fuer Device, Backend-Konfiguration und Logging
// - advance/fail/release: Zustandswechsel und Freigabe in umgekehrter Reihenfolge
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/7blacky7/qnnrt/envconfig"
	"github.com/7blacky7/qnnrt/ml"
)

var (
	ErrSessionInvalid    = errors.New("session invalid")
	ErrGraphInvalid      = errors.New("graph invalid")
	ErrArtifactEmpty     = errors.New("artifact empty")
	ErrArtifactTruncated = errors.New("artifact truncated")
	ErrArtifactCorrupt   = errors.New("artifact corrupt")
	ErrGraphNotFound     = errors.New("graph not found")
)

// Kind unterscheidet Compile- und Load-Sessions
type Kind int

const (
	KindCompile Kind = iota
	KindLoad
)

func (k Kind) String() string {
	if k == KindCompile {
		return "compile"
	}
	return "load"
}

// =============================================================================
// Optionen
// =============================================================================

type options struct {
	arch           ml.HTPArch
	deviceID       uint32
	backendOptions []ml.ConfigOption
	logLevel       ml.LogLevel
	graphName      string
	logger         *slog.Logger
}

// Option configures a session.
type Option func(*options)

// WithArch sets the accelerator architecture passed at device creation.
// Default: QNN_HTP_ARCH.
func WithArch(arch ml.HTPArch) Option {
	return func(o *options) { o.arch = arch }
}

// WithDeviceID waehlt das Device
func WithDeviceID(id uint32) Option {
	return func(o *options) { o.deviceID = id }
}

// WithBackendOption appends a backend configuration option.
func WithBackendOption(key string, value any) Option {
	return func(o *options) {
		o.backendOptions = append(o.backendOptions, ml.ConfigOption{Key: key, Value: value})
	}
}

// WithLogLevel sets the verbosity requested from the backend logger.
func WithLogLevel(level ml.LogLevel) Option {
	return func(o *options) { o.logLevel = level }
}

// WithGraphName selects the graph retrieved by a load session. Default is
// the first graph of the artifact.
func WithGraphName(name string) Option {
	return func(o *options) { o.graphName = name }
}

// WithLogger sets the logger; the session id is added to it.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func defaultOptions() options {
	arch, err := ml.ParseHTPArch(envconfig.HTPArch())
	if err != nil {
		slog.Warn("invalid QNN_HTP_ARCH, using default", "value", envconfig.HTPArch(), "default", ml.DefaultHTPArch, "error", err)
		arch = ml.DefaultHTPArch
	}

	level := ml.LogLevelWarn
	if envconfig.LogLevel() <= slog.LevelDebug {
		level = ml.LogLevelDebug
	}

	return options{arch: arch, logLevel: level}
}

// =============================================================================
// Session
// =============================================================================

type releaser struct {
	name string
	fn   func() error
}

// Session owns the backend handles of one compile or load workflow. Handles
// are released in reverse creation order by Close or on the first failure.
// A Session is not safe for concurrent use.
type Session struct {
	id    uuid.UUID
	kind  Kind
	state State
	err   error
	opts  options
	log   *slog.Logger

	module   *ml.Module
	provider ml.Provider
	iface    ml.Interface

	logHandle ml.LogHandle
	backend   ml.BackendHandle
	device    ml.DeviceHandle
	context   ml.ContextHandle
	graph     ml.GraphHandle
	profile   ml.ProfileHandle

	info      *ml.BinaryInfo
	graphInfo ml.GraphInfo

	inputs  []ml.TensorDescriptor
	outputs []ml.TensorDescriptor

	releasers []releaser
	closeOnce sync.Once
}

func newSession(kind Kind, opts []Option) *Session {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	id := uuid.New()
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		id:   id,
		kind: kind,
		opts: o,
		log:  logger.With("session", id.String(), "kind", kind.String()),
	}
}

// ID gibt die Session-ID zurueck
func (s *Session) ID() string {
	return s.id.String()
}

// Kind gibt die Session-Art zurueck
func (s *Session) Kind() Kind {
	return s.kind
}

// State gibt den aktuellen Zustand zurueck
func (s *Session) State() State {
	return s.state
}

// Err returns the error that moved the session to Failed.
func (s *Session) Err() error {
	return s.err
}

// Provider returns the selected provider.
func (s *Session) Provider() ml.Provider {
	return s.provider
}

// check rejects calls on dead sessions and calls in the wrong state.
func (s *Session) check(op string, allowed ...State) error {
	switch s.state {
	case Failed:
		return fmt.Errorf("%s: %w: failed earlier: %v", op, ErrSessionInvalid, s.err)
	case Closed:
		return fmt.Errorf("%s: %w: closed", op, ErrSessionInvalid)
	}

	for _, st := range allowed {
		if s.state == st {
			return nil
		}
	}
	return fmt.Errorf("%s: %w: not allowed in state %s", op, ErrSessionInvalid, s.state)
}

// advance moves to the next state. Skipping a state is a programming error
// and fails the session.
func (s *Session) advance(to State) error {
	if !canAdvance(s.state, to) {
		return s.fail(fmt.Errorf("%w: transition %s -> %s", ErrSessionInvalid, s.state, to))
	}

	if s.state != to {
		s.log.Debug("session state", "from", s.state, "to", to)
	}
	s.state = to
	return nil
}

// acquired pushes the release function of a freshly created handle.
func (s *Session) acquired(name string, fn func() error) {
	s.releasers = append(s.releasers, releaser{name: name, fn: fn})
}

// fail releases everything acquired so far and makes the session unusable.
func (s *Session) fail(err error) error {
	s.log.Error("session failed", "state", s.state, "error", err)
	if rerr := s.release(); rerr != nil {
		s.log.Warn("release after failure", "error", rerr)
	}

	s.state = Failed
	s.err = err
	return err
}

func (s *Session) release() error {
	var errs []error
	for i := len(s.releasers) - 1; i >= 0; i-- {
		r := s.releasers[i]
		if err := r.fn(); err != nil {
			s.log.Warn("release failed", "handle", r.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", r.name, err))
		} else {
			s.log.Debug("released", "handle", r.name)
		}
	}
	s.releasers = nil
	return errors.Join(errs...)
}

// Close releases every handle in reverse creation order. Closing a closed or
// failed session is a no-op.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.state == Failed {
			return
		}
		err = s.release()
		s.state = Closed
		s.log.Info("session closed")
	})
	return err
}

// =============================================================================
// Gemeinsamer Praefix
// =============================================================================

// open runs Unopened -> DeviceReady.
func (s *Session) open(modulePath string) error {
	m, providers, err := ml.Discover(modulePath)
	if err != nil {
		return s.fail(err)
	}
	s.module = m
	s.acquired("module", m.Close)

	s.provider, err = ml.Select(providers)
	if err != nil {
		return s.fail(err)
	}
	s.iface = s.provider.Interface
	s.log = s.log.With("provider", s.provider.Name)
	if err := s.advance(ModuleLoaded); err != nil {
		return err
	}

	s.logHandle, err = s.iface.LogCreate(s.backendLog, s.opts.logLevel)
	if err != nil {
		return s.fail(err)
	}
	s.acquired("logger", func() error { return s.iface.LogFree(s.logHandle) })
	if err := s.advance(LoggerReady); err != nil {
		return err
	}

	s.backend, err = s.iface.BackendCreate(s.logHandle, s.opts.backendOptions)
	if err != nil {
		return s.fail(err)
	}
	s.acquired("backend", func() error { return s.iface.BackendFree(s.backend) })
	if err := s.advance(BackendReady); err != nil {
		return err
	}

	s.device, err = s.iface.DeviceCreate(s.logHandle, []ml.DeviceConfig{{DeviceID: s.opts.deviceID, Arch: s.opts.arch}})
	if err != nil {
		return s.fail(err)
	}
	s.acquired("device", func() error { return s.iface.DeviceFree(s.device) })
	return s.advance(DeviceReady)
}

// backendLog forwards backend messages into slog.
func (s *Session) backendLog(level ml.LogLevel, msg string) {
	s.log.Log(context.Background(), level.SlogLevel(), msg, "source", "backend")
}
