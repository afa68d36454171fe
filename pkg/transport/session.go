package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pion/logging"

	ilogging "github.com/pion/mediabridge/internal/logging"
)

const defaultReceiveMTU = 1460

// Config configures a Session.
type Config struct {
	// AgentFactory defaults to NewICEAgent.
	AgentFactory AgentFactory
	// Handshaker defaults to a DTLSHandshaker.
	Handshaker Handshaker
	// Certificate is generated when nil.
	Certificate   *Certificate
	ICEServers    []string
	LoggerFactory logging.LoggerFactory
	// ReceiveMTU is the largest datagram read from the wire.
	ReceiveMTU int
}

// Parameters are the remote transport parameters learned from signaling.
type Parameters struct {
	Credentials Credentials
	Fingerprint Fingerprint
	// DTLSRole is the local handshake role resolved from the setup attributes.
	DTLSRole DTLSRole
}

type (
	// CandidateHandler receives gathered local candidates, nil once gathering
	// is complete.
	CandidateHandler func(*Candidate)
	// StateHandler receives state changes. err is set for StateFailed.
	StateHandler func(State, error)
	// RTPHandler receives decrypted RTP packets. The packet is owned by the
	// handler.
	RTPHandler func(ssrc uint32, packet []byte)
	// RTCPHandler receives decrypted RTCP compound packets.
	RTCPHandler func(packet []byte)
)

type link struct {
	conn   net.Conn
	cipher Cipher
}

// Session is the secure datagram channel of one peer connection.
type Session struct {
	cfg Config
	log logging.LeveledLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	agent      Agent
	local      Credentials
	role       ICERole
	remote     *Parameters
	pending    []Candidate
	generation int
	attempt    int
	connecting bool
	conn       net.Conn
	dtls       *endpoint
	state      State
	closed     bool

	onCandidate CandidateHandler
	onState     StateHandler

	established atomic.Pointer[link]
	onRTP       atomic.Pointer[RTPHandler]
	onRTCP      atomic.Pointer[RTCPHandler]
}

// NewSession creates an idle Session. Start begins gathering.
func NewSession(cfg Config) (*Session, error) {
	if cfg.AgentFactory == nil {
		cfg.AgentFactory = NewICEAgent
	}
	if cfg.Handshaker == nil {
		cfg.Handshaker = &DTLSHandshaker{LoggerFactory: cfg.LoggerFactory}
	}
	if cfg.ReceiveMTU == 0 {
		cfg.ReceiveMTU = defaultReceiveMTU
	}
	cfg.LoggerFactory = ilogging.Or(cfg.LoggerFactory)
	if cfg.Certificate == nil {
		cert, err := GenerateCertificate()
		if err != nil {
			return nil, err
		}
		cfg.Certificate = cert
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:    cfg,
		log:    cfg.LoggerFactory.NewLogger("transport"),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Certificate returns the local DTLS certificate.
func (s *Session) Certificate() *Certificate {
	return s.cfg.Certificate
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Generation returns the ICE generation, incremented by every Restart.
func (s *Session) Generation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// LocalCredentials returns the credentials of the current generation.
func (s *Session) LocalCredentials() Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

// Established reports whether SRTP keys are available.
func (s *Session) Established() bool {
	return s.established.Load() != nil
}

// OnCandidate sets the local candidate handler.
func (s *Session) OnCandidate(f CandidateHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCandidate = f
}

// OnStateChange sets the state handler.
func (s *Session) OnStateChange(f StateHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = f
}

// OnRTP sets the RTP handler. It is called from the read loop and must not
// block.
func (s *Session) OnRTP(f RTPHandler) {
	s.onRTP.Store(&f)
}

// OnRTCP sets the RTCP handler. It is called from the read loop and must not
// block.
func (s *Session) OnRTCP(f RTCPHandler) {
	s.onRTCP.Store(&f)
}

// Start creates the agent and begins gathering. Calling Start again on a
// started Session does nothing.
func (s *Session) Start(local Credentials, role ICERole) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.agent != nil {
		s.mu.Unlock()
		return nil
	}

	agent, err := s.cfg.AgentFactory(AgentConfig{
		Local:         local,
		ICEServers:    s.cfg.ICEServers,
		LoggerFactory: s.cfg.LoggerFactory,
	})
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.agent = agent
	s.local = local
	s.role = role
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	agent.OnCandidate(s.handleLocalCandidate)
	agent.OnStateChange(s.handleAgentState)

	for _, c := range pending {
		if err := agent.AddRemoteCandidate(c); err != nil {
			s.log.Warnf("failed to add remote candidate %s: %v", c, err)
		}
	}

	if err := agent.GatherCandidates(); err != nil {
		return err
	}

	s.maybeConnect()
	return nil
}

// SetRole changes the ICE role. The role is fixed once connectivity checks
// started.
func (s *Session) SetRole(role ICERole) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connecting && s.role != role {
		return fmt.Errorf("transport: can't change ice role to %s after checks started", role)
	}
	s.role = role
	return nil
}

// SetRemoteParameters sets the remote credentials, fingerprint and the local
// DTLS role. Connectivity checks start once the Session is started too.
func (s *Session) SetRemoteParameters(p Parameters) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	prev := s.remote
	s.remote = &p
	agent := s.agent
	connecting := s.connecting
	s.mu.Unlock()

	if connecting && prev != nil && prev.Credentials != p.Credentials {
		if err := agent.SetRemoteCredentials(p.Credentials); err != nil {
			return err
		}
	}

	s.maybeConnect()
	return nil
}

// AddRemoteCandidate feeds a remote candidate to the agent.
func (s *Session) AddRemoteCandidate(c Candidate) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	agent := s.agent
	if agent == nil {
		s.pending = append(s.pending, c)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	return agent.AddRemoteCandidate(c)
}

// Restart replaces the local credentials and gathers a new generation of
// candidates. An established session keeps its DTLS and SRTP state; a
// session that never got established starts over.
func (s *Session) Restart(local Credentials) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.agent == nil {
		s.mu.Unlock()
		return ErrNotStarted
	}

	s.generation++
	s.local = local

	if s.established.Load() == nil {
		agent, conn, ep, role := s.agent, s.conn, s.dtls, s.role
		s.agent, s.conn, s.dtls, s.remote = nil, nil, nil, nil
		s.connecting = false
		s.attempt++
		s.state = StateNew
		s.mu.Unlock()

		if ep != nil {
			_ = ep.Close()
		}
		if conn != nil {
			_ = conn.Close()
		}
		_ = agent.Close()
		return s.Start(local, role)
	}

	agent := s.agent
	s.mu.Unlock()

	if err := agent.Restart(local); err != nil {
		return err
	}
	return agent.GatherCandidates()
}

func (s *Session) handleLocalCandidate(c *Candidate) {
	s.mu.Lock()
	h := s.onCandidate
	if c != nil {
		c.Generation = s.generation
	}
	s.mu.Unlock()

	if h != nil {
		h(c)
	}
}

func (s *Session) handleAgentState(state State) {
	switch state {
	case StateFailed:
		s.fail(s.currentAttempt(), ErrICEFailed)
	case StateDisconnected, StateConnected:
		if s.Established() {
			s.setState(state, nil)
		}
	}
}

func (s *Session) currentAttempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

func (s *Session) maybeConnect() {
	s.mu.Lock()
	if s.closed || s.agent == nil || s.remote == nil || s.connecting {
		s.mu.Unlock()
		return
	}
	s.connecting = true
	s.attempt++
	attempt, agent, role, remote := s.attempt, s.agent, s.role, *s.remote
	s.mu.Unlock()

	s.setState(StateChecking, nil)

	s.wg.Add(1)
	go s.connect(attempt, agent, role, remote)
}

func (s *Session) connect(attempt int, agent Agent, role ICERole, remote Parameters) {
	defer s.wg.Done()

	conn, err := agent.Connect(s.ctx, role, remote.Credentials)
	if err != nil {
		s.fail(attempt, fmt.Errorf("%w: %v", ErrICEFailed, err))
		return
	}

	ep := newEndpoint(conn)
	s.mu.Lock()
	if s.closed || s.attempt != attempt {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.dtls = ep
	s.mu.Unlock()

	s.wg.Add(1)
	go s.readLoop(conn, ep)

	s.log.Debugf("selected candidate pair, starting dtls as %s", remote.DTLSRole)
	cipher, err := s.cfg.Handshaker.Handshake(s.ctx, ep, HandshakeParams{
		Role:              remote.DTLSRole,
		Certificate:       s.cfg.Certificate,
		RemoteFingerprint: remote.Fingerprint,
	})
	if err != nil {
		s.fail(attempt, err)
		return
	}

	s.mu.Lock()
	if s.closed || s.attempt != attempt {
		s.mu.Unlock()
		_ = cipher.Close()
		return
	}
	s.established.Store(&link{conn: conn, cipher: cipher})
	s.mu.Unlock()

	s.setState(StateConnected, nil)
}

func (s *Session) readLoop(conn net.Conn, ep *endpoint) {
	defer s.wg.Done()
	defer func() { _ = ep.Close() }()

	buf := make([]byte, s.cfg.ReceiveMTU)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if s.ctx.Err() == nil {
				s.log.Debugf("read loop stopped: %v", err)
			}
			return
		}

		packet := buf[:n]
		switch classify(packet) {
		case packetDTLS:
			if _, err := ep.buffer.Write(packet); err != nil {
				s.log.Tracef("dropping dtls packet: %v", err)
			}
		case packetRTP:
			s.handleRTP(packet)
		case packetRTCP:
			s.handleRTCP(packet)
		default:
			s.log.Tracef("dropping unclassified packet of %d bytes", n)
		}
	}
}

func (s *Session) handleRTP(packet []byte) {
	l := s.established.Load()
	if l == nil {
		return
	}
	plain, err := l.cipher.DecryptRTP(nil, packet)
	if err != nil {
		s.log.Tracef("failed to decrypt rtp: %v", err)
		return
	}
	if len(plain) < 12 {
		return
	}
	if h := s.onRTP.Load(); h != nil && *h != nil {
		(*h)(binary.BigEndian.Uint32(plain[8:12]), plain)
	}
}

func (s *Session) handleRTCP(packet []byte) {
	l := s.established.Load()
	if l == nil {
		return
	}
	plain, err := l.cipher.DecryptRTCP(nil, packet)
	if err != nil {
		s.log.Tracef("failed to decrypt rtcp: %v", err)
		return
	}
	if h := s.onRTCP.Load(); h != nil && *h != nil {
		(*h)(plain)
	}
}

// WriteRTP encrypts and sends one RTP packet.
func (s *Session) WriteRTP(packet []byte) error {
	l := s.established.Load()
	if l == nil {
		return ErrNotEstablished
	}
	enc, err := l.cipher.EncryptRTP(nil, packet)
	if err != nil {
		return err
	}
	_, err = l.conn.Write(enc)
	return err
}

// WriteRTCP encrypts and sends one RTCP compound packet.
func (s *Session) WriteRTCP(packet []byte) error {
	l := s.established.Load()
	if l == nil {
		return ErrNotEstablished
	}
	enc, err := l.cipher.EncryptRTCP(nil, packet)
	if err != nil {
		return err
	}
	_, err = l.conn.Write(enc)
	return err
}

func (s *Session) setState(state State, err error) {
	s.mu.Lock()
	if s.closed || s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	h := s.onState
	s.mu.Unlock()

	s.log.Debugf("transport state changed to %s", state)
	if h != nil {
		h(state, err)
	}
}

func (s *Session) fail(attempt int, err error) {
	s.mu.Lock()
	if s.closed || s.attempt != attempt || s.state == StateFailed {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	h := s.onState
	s.mu.Unlock()

	s.log.Warnf("transport failed: %v", err)
	if h != nil {
		h(StateFailed, err)
	}
}

// Close stops the agent and releases the connection. Close is idempotent;
// teardown errors of the underlying connections are only logged.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.state = StateClosed
	agent, conn, ep, h := s.agent, s.conn, s.dtls, s.onState
	s.mu.Unlock()

	s.cancel()

	var errs []error
	if l := s.established.Swap(nil); l != nil {
		errs = append(errs, l.cipher.Close())
	}
	if ep != nil {
		errs = append(errs, ep.Close())
	}
	if conn != nil {
		errs = append(errs, conn.Close())
	}
	if agent != nil {
		errs = append(errs, agent.Close())
	}
	s.wg.Wait()

	if err := errors.Join(errs...); err != nil {
		s.log.Debugf("errors while closing: %v", err)
	}
	if h != nil {
		h(StateClosed, nil)
	}
	return nil
}
