package egm

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Mesh-ch/abb-robot-client/errors"
	"github.com/Mesh-ch/abb-robot-client/metric"
	"github.com/Mesh-ch/abb-robot-client/pkg/retry"
	"github.com/Mesh-ch/abb-robot-client/pkg/timestamp"
)

// sessionMetrics holds Prometheus metrics for the streaming session
type sessionMetrics struct {
	framesReceived prometheus.Counter
	duplicates     prometheus.Counter
	replaced       prometheus.Counter
	decodeErrors   prometheus.Counter
	cycleTimeouts  prometheus.Counter
	commandsSent   prometheus.Counter
}

// newSessionMetrics creates and registers streaming metrics.
// Returns nil if no registry provided (nil input = nil feature pattern).
func newSessionMetrics(registry *metric.MetricsRegistry, port int) *sessionMetrics {
	if registry == nil {
		return nil
	}

	m := &sessionMetrics{
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "abbrobot",
			Subsystem: "egm",
			Name:      "frames_received_total",
			Help:      "Sensor frames received and delivered or staged",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "abbrobot",
			Subsystem: "egm",
			Name:      "duplicate_frames_total",
			Help:      "Stale frames discarded by sequence classification",
		}),
		replaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "abbrobot",
			Subsystem: "egm",
			Name:      "replaced_frames_total",
			Help:      "Staged frames overwritten by a newer one before delivery",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "abbrobot",
			Subsystem: "egm",
			Name:      "decode_errors_total",
			Help:      "Datagrams that failed frame decoding",
		}),
		cycleTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "abbrobot",
			Subsystem: "egm",
			Name:      "cycle_timeouts_total",
			Help:      "Cycles that elapsed without a sensor frame",
		}),
		commandsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "abbrobot",
			Subsystem: "egm",
			Name:      "commands_sent_total",
			Help:      "Command frames transmitted to the controller",
		}),
	}

	component := fmt.Sprintf("egm_%d", port)
	registry.RegisterCounter(component, "frames_received", m.framesReceived)
	registry.RegisterCounter(component, "duplicates", m.duplicates)
	registry.RegisterCounter(component, "replaced", m.replaced)
	registry.RegisterCounter(component, "decode_errors", m.decodeErrors)
	registry.RegisterCounter(component, "cycle_timeouts", m.cycleTimeouts)
	registry.RegisterCounter(component, "commands_sent", m.commandsSent)

	return m
}

// SessionConfig holds configuration for a streaming session.
type SessionConfig struct {
	Port              int           `yaml:"port"`               // UDP port the controller sends to
	Bind              string        `yaml:"bind"`               // bind address, default 0.0.0.0
	CycleTimeout      time.Duration `yaml:"cycle_timeout"`      // max wait for one sensor frame
	MaxMissedCycles   int           `yaml:"max_missed_cycles"`  // consecutive timeouts before termination
	SequenceTolerance uint32        `yaml:"sequence_tolerance"` // backwards jump treated as restart beyond this
}

// ApplyDefaults fills in zero-valued fields.
func (c *SessionConfig) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 6510
	}
	if c.Bind == "" {
		c.Bind = "0.0.0.0"
	}
	if c.CycleTimeout == 0 {
		c.CycleTimeout = time.Second
	}
	if c.MaxMissedCycles == 0 {
		c.MaxMissedCycles = 3
	}
	if c.SequenceTolerance == 0 {
		c.SequenceTolerance = 100
	}
}

// Validate checks the configuration for invalid values.
func (c *SessionConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("invalid port %d", c.Port),
			"SessionConfig", "Validate", "port validation")
	}
	if c.CycleTimeout < 0 {
		return errors.WrapInvalid(fmt.Errorf("negative cycle timeout %v", c.CycleTimeout),
			"SessionConfig", "Validate", "cycle timeout validation")
	}
	if c.MaxMissedCycles < 0 {
		return errors.WrapInvalid(fmt.Errorf("negative max missed cycles %d", c.MaxMissedCycles),
			"SessionConfig", "Validate", "missed cycles validation")
	}
	return nil
}

// RobotState is one delivered robot state report.
type RobotState struct {
	Frame    SensorFrame
	Received int64 // ms, local clock at receipt
	// Restarted is set when the controller restarted its sequence counter
	// since the previously delivered state. Cycle accounting was
	// re-baselined; the caller should discard any interpolation state.
	Restarted bool
}

// SessionDeps holds runtime dependencies for a streaming session.
type SessionDeps struct {
	Conn            net.PacketConn // optional; Start binds a UDP socket when nil
	Config          SessionConfig
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// SessionStats is a snapshot of session counters.
type SessionStats struct {
	FramesReceived int64
	Duplicates     int64
	Replaced       int64
	DecodeErrors   int64
	CycleTimeouts  int64
	CommandsSent   int64
}

// Session is the streaming state machine. One receive goroutine decodes and
// classifies incoming frames and stages the newest in a one-slot mailbox;
// Next and Send run on the caller's goroutine and enforce the one-in-one-out
// cycle discipline.
type Session struct {
	config      SessionConfig
	logger      *slog.Logger
	retryConfig retry.Config

	conn    net.PacketConn
	ownConn bool // Stop closes the conn only if Start bound it

	tracker *Tracker
	mailbox chan RobotState

	// Lifecycle management
	shutdown   chan struct{}
	done       chan struct{}
	running    atomic.Bool
	terminated atomic.Bool
	wg         sync.WaitGroup
	mu         sync.Mutex

	// Cycle discipline, guarded by mu
	awaitingSend bool
	missedCycles int
	sendSeq      uint32
	peer         net.Addr

	// Counters
	framesReceived atomic.Int64
	duplicates     atomic.Int64
	replaced       atomic.Int64
	decodeErrors   atomic.Int64
	cycleTimeouts  atomic.Int64
	commandsSent   atomic.Int64

	metrics *sessionMetrics
}

// NewSession creates a streaming session. Call Start before Next or Send.
func NewSession(deps SessionDeps) *Session {
	cfg := deps.Config
	cfg.ApplyDefaults()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "egm-session", "port", cfg.Port)
	}

	return &Session{
		config:      cfg,
		logger:      logger,
		retryConfig: retry.Quick(),
		conn:        deps.Conn,
		tracker:     NewTracker(cfg.SequenceTolerance),
		mailbox:     make(chan RobotState, 1),
		metrics:     newSessionMetrics(deps.MetricsRegistry, cfg.Port),
	}
}

// Start binds the socket (when none was injected) and launches the receive
// loop. Idempotent while running.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return nil
	}
	if s.terminated.Load() {
		return errors.WrapFatal(errors.ErrSessionTerminated,
			"egm-session", "Start", "restart of terminated session")
	}
	if err := s.config.Validate(); err != nil {
		return err
	}

	if s.conn == nil {
		bindOperation := func() error {
			conn, err := net.ListenPacket("udp",
				fmt.Sprintf("%s:%d", s.config.Bind, s.config.Port))
			if err != nil {
				return fmt.Errorf("failed to listen on UDP port %d: %w", s.config.Port, err)
			}
			s.conn = conn
			return nil
		}
		if err := retry.Do(ctx, s.retryConfig, bindOperation); err != nil {
			return errors.WrapTransient(err, "egm-session", "Start", "socket binding")
		}
		s.ownConn = true
	}

	s.shutdown = make(chan struct{})
	s.done = make(chan struct{})
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.done)
		s.recvLoop(ctx)
	}()

	return nil
}

// recvLoop reads datagrams, decodes them, classifies sequence numbers and
// stages the newest state in the mailbox. Short read deadlines keep the loop
// responsive to shutdown.
func (s *Session) recvLoop(ctx context.Context) {
	readBuffer := make([]byte, 2048)

	for s.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		default:
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

		n, addr, err := s.conn.ReadFrom(readBuffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}

			select {
			case <-ctx.Done():
				return
			case <-s.shutdown:
				return
			default:
				if !errors.IsTransient(err) {
					s.logger.Error("receive loop stopping on socket error", "error", err)
					return
				}
				continue
			}
		}

		frame, err := DecodeSensor(readBuffer[:n])
		if err != nil {
			// Per-cycle recoverable: count and keep reading.
			s.decodeErrors.Add(1)
			if s.metrics != nil {
				s.metrics.decodeErrors.Inc()
			}
			s.logger.Debug("dropping undecodable datagram", "size", n, "error", err)
			continue
		}

		obs := s.tracker.Observe(frame.SeqNo)
		if obs.Outcome == OutcomeDuplicate {
			s.duplicates.Add(1)
			if s.metrics != nil {
				s.metrics.duplicates.Inc()
			}
			continue
		}

		s.mu.Lock()
		s.peer = addr
		s.mu.Unlock()

		state := RobotState{
			Frame:     *frame,
			Received:  timestamp.Now(),
			Restarted: obs.Outcome == OutcomeReset,
		}
		if state.Restarted {
			s.logger.Info("controller sequence counter restarted",
				"expected", obs.Expected, "got", obs.Got)
		}

		s.framesReceived.Add(1)
		if s.metrics != nil {
			s.metrics.framesReceived.Inc()
		}
		s.stage(state)
	}
}

// stage places state in the one-slot mailbox, replacing any undelivered
// frame. Single producer, so drain-then-send cannot race another stage.
func (s *Session) stage(state RobotState) {
	select {
	case s.mailbox <- state:
		return
	default:
	}

	select {
	case stale := <-s.mailbox:
		// Restart notices survive replacement.
		state.Restarted = state.Restarted || stale.Restarted
		s.replaced.Add(1)
		if s.metrics != nil {
			s.metrics.replaced.Inc()
		}
	default:
	}

	select {
	case s.mailbox <- state:
	default:
	}
}

// Next suspends until the next robot state, the cycle timeout, ctx
// cancellation or Stop. After a delivered state the caller must Send exactly
// one command before calling Next again.
func (s *Session) Next(ctx context.Context) (RobotState, error) {
	if s.terminated.Load() {
		return RobotState{}, errors.WrapFatal(errors.ErrSessionTerminated,
			"egm-session", "Next", "session terminated")
	}
	if !s.running.Load() {
		return RobotState{}, errors.WrapFatal(errors.ErrSessionClosed,
			"egm-session", "Next", "session not running")
	}

	s.mu.Lock()
	if s.awaitingSend {
		s.mu.Unlock()
		s.terminate()
		return RobotState{}, errors.WrapFatal(errors.ErrProtocolViolation,
			"egm-session", "Next", "Next called before Send for previous state")
	}
	s.mu.Unlock()

	timer := time.NewTimer(s.config.CycleTimeout)
	defer timer.Stop()

	select {
	case state := <-s.mailbox:
		s.mu.Lock()
		s.missedCycles = 0
		s.awaitingSend = true
		s.mu.Unlock()
		return state, nil

	case <-timer.C:
		s.cycleTimeouts.Add(1)
		if s.metrics != nil {
			s.metrics.cycleTimeouts.Inc()
		}

		s.mu.Lock()
		s.missedCycles++
		missed := s.missedCycles
		s.mu.Unlock()

		if missed >= s.config.MaxMissedCycles {
			s.logger.Warn("terminating after consecutive missed cycles",
				"missed", missed)
			s.terminate()
			return RobotState{}, errors.WrapFatal(errors.ErrSessionTerminated,
				"egm-session", "Next", fmt.Sprintf("%d consecutive missed cycles", missed))
		}
		return RobotState{}, errors.WrapTransient(errors.ErrFrameTimeout,
			"egm-session", "Next", "cycle wait")

	case <-ctx.Done():
		return RobotState{}, ctx.Err()

	case <-s.shutdown:
		return RobotState{}, errors.WrapFatal(errors.ErrSessionClosed,
			"egm-session", "Next", "session stopped")
	}
}

// Send encodes cmd and transmits it to the learned controller address. The
// sequence number is owned by the session; any value in cmd.SeqNo is
// overwritten. Exactly one Send is allowed per delivered state.
func (s *Session) Send(cmd CommandFrame) error {
	if s.terminated.Load() {
		return errors.WrapFatal(errors.ErrSessionTerminated,
			"egm-session", "Send", "session terminated")
	}
	if !s.running.Load() {
		return errors.WrapFatal(errors.ErrSessionClosed,
			"egm-session", "Send", "session not running")
	}

	s.mu.Lock()
	if !s.awaitingSend {
		s.mu.Unlock()
		s.terminate()
		return errors.WrapFatal(errors.ErrProtocolViolation,
			"egm-session", "Send", "Send without a delivered state")
	}
	peer := s.peer
	s.sendSeq++
	cmd.SeqNo = s.sendSeq
	s.mu.Unlock()

	if peer == nil {
		return errors.WrapTransient(errors.ErrNoConnection,
			"egm-session", "Send", "no controller address learned yet")
	}
	if cmd.Timestamp == 0 {
		cmd.Timestamp = uint64(timestamp.Now())
	}

	if _, err := s.conn.WriteTo(EncodeCommand(&cmd), peer); err != nil {
		// The cycle stays open so the caller may retry the Send.
		return errors.WrapTransient(err, "egm-session", "Send", "datagram write")
	}

	s.commandsSent.Add(1)
	if s.metrics != nil {
		s.metrics.commandsSent.Inc()
	}

	s.mu.Lock()
	s.awaitingSend = false
	s.mu.Unlock()
	return nil
}

// terminate moves the session to the terminal state and stops the receive
// loop. Later Next and Send calls fail fast with ErrSessionTerminated.
func (s *Session) terminate() {
	if !s.terminated.CompareAndSwap(false, true) {
		return
	}
	s.running.Store(false)

	s.mu.Lock()
	if s.shutdown != nil {
		select {
		case <-s.shutdown:
		default:
			close(s.shutdown)
		}
	}
	if s.conn != nil && s.ownConn {
		_ = s.conn.Close()
	}
	s.mu.Unlock()
}

// Stop gracefully stops the session, unblocking any suspended Next.
func (s *Session) Stop(timeout time.Duration) error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)

	s.mu.Lock()
	if s.shutdown != nil {
		select {
		case <-s.shutdown:
		default:
			close(s.shutdown)
		}
	}
	if s.conn != nil && s.ownConn {
		_ = s.conn.Close()
	}
	s.mu.Unlock()

	select {
	case <-s.done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"egm-session", "Stop", "graceful shutdown")
	}
	return nil
}

// LocalAddr returns the bound socket address, or nil before Start.
func (s *Session) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		FramesReceived: s.framesReceived.Load(),
		Duplicates:     s.duplicates.Load(),
		Replaced:       s.replaced.Load(),
		DecodeErrors:   s.decodeErrors.Load(),
		CycleTimeouts:  s.cycleTimeouts.Load(),
		CommandsSent:   s.commandsSent.Load(),
	}
}
