// Package transporttest provides in-memory transport capabilities for tests.
package transporttest

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/pion/transport/v3/dpipe"

	"github.com/pion/mediabridge/pkg/transport"
)

var (
	// ErrConnectivityFailed is returned by Connect after Fail.
	ErrConnectivityFailed = errors.New("transporttest: connectivity failed")
	// ErrRoleConflict is returned by Connect when both agents check with the
	// same ICE role.
	ErrRoleConflict = errors.New("transporttest: both agents use the same ice role")
)

// Pair is two agents joined by an in-memory datagram pipe.
type Pair struct {
	A *Agent
	B *Agent
}

// NewPair creates two agents that connect to each other once they know one
// remote candidate.
func NewPair() *Pair {
	ca, cb := dpipe.Pipe()
	a, b := newAgent(ca, "192.0.2.1", 50001), newAgent(cb, "192.0.2.2", 50002)
	a.peer, b.peer = b, a
	return &Pair{A: a, B: b}
}

// Agent is an in-memory transport.Agent. It gathers exactly one host
// candidate per generation.
type Agent struct {
	conn    net.Conn
	address string
	port    int
	peer    *Agent

	mu          sync.Mutex
	local       transport.Credentials
	remote      transport.Credentials
	onCandidate func(*transport.Candidate)
	onState     func(transport.State)
	candidates  []transport.Candidate
	haveRemote  chan struct{}
	failed      chan struct{}
	connected   bool
	checking    bool
	role        transport.ICERole
	restarts    int
	gathers     int
}

func newAgent(conn net.Conn, address string, port int) *Agent {
	return &Agent{
		conn:       conn,
		address:    address,
		port:       port,
		haveRemote: make(chan struct{}),
		failed:     make(chan struct{}),
	}
}

// Factory returns an AgentFactory handing out a.
func (a *Agent) Factory() transport.AgentFactory {
	return func(cfg transport.AgentConfig) (transport.Agent, error) {
		a.mu.Lock()
		defer a.mu.Unlock()

		a.local = cfg.Local
		select {
		case <-a.failed:
			a.failed = make(chan struct{})
		default:
		}
		return a, nil
	}
}

func (a *Agent) OnCandidate(f func(*transport.Candidate)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onCandidate = f
}

func (a *Agent) OnStateChange(f func(transport.State)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onState = f
}

func (a *Agent) GatherCandidates() error {
	a.mu.Lock()
	a.gathers++
	f := a.onCandidate
	c := transport.Candidate{
		Foundation: "1",
		Component:  1,
		Protocol:   "udp",
		Priority:   2130706431,
		Address:    a.address,
		Port:       a.port,
		Type:       "host",
	}
	a.mu.Unlock()

	if f != nil {
		go func() {
			f(&c)
			f(nil)
		}()
	}
	return nil
}

func (a *Agent) AddRemoteCandidate(c transport.Candidate) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.candidates = append(a.candidates, c)
	select {
	case <-a.haveRemote:
	default:
		close(a.haveRemote)
	}
	return nil
}

func (a *Agent) SetRemoteCredentials(c transport.Credentials) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.remote = c
	return nil
}

// Connect fails with ErrRoleConflict when the peer checks with the same role.
func (a *Agent) Connect(ctx context.Context, role transport.ICERole, remote transport.Credentials) (net.Conn, error) {
	a.mu.Lock()
	a.remote = remote
	a.checking, a.role = true, role
	haveRemote, failed := a.haveRemote, a.failed
	a.mu.Unlock()

	a.emit(transport.StateChecking)

	select {
	case <-haveRemote:
	case <-failed:
		return nil, ErrConnectivityFailed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if peerRole, ok := a.peer.checkingRole(); ok && peerRole == role {
		return nil, ErrRoleConflict
	}

	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	a.emit(transport.StateConnected)
	return a.conn, nil
}

func (a *Agent) Restart(local transport.Credentials) error {
	a.mu.Lock()
	a.local = local
	a.restarts++
	a.candidates = nil
	connected := a.connected
	select {
	case <-a.failed:
		a.failed = make(chan struct{})
	default:
	}
	a.mu.Unlock()

	if connected {
		a.emit(transport.StateConnected)
	}
	return nil
}

func (a *Agent) Close() error {
	return nil
}

// Fail makes connectivity fail: a pending Connect returns an error and the
// agent reports StateFailed.
func (a *Agent) Fail() {
	a.mu.Lock()
	select {
	case <-a.failed:
	default:
		close(a.failed)
	}
	a.mu.Unlock()

	a.emit(transport.StateFailed)
}

func (a *Agent) checkingRole() (transport.ICERole, bool) {
	if a == nil {
		return 0, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.role, a.checking
}

// Role returns the ICE role of the last Connect.
func (a *Agent) Role() transport.ICERole {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.role
}

// Local returns the credentials of the current generation.
func (a *Agent) Local() transport.Credentials {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.local
}

// Remote returns the remote credentials last set.
func (a *Agent) Remote() transport.Credentials {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.remote
}

// RemoteCandidates returns the remote candidates added since the last restart.
func (a *Agent) RemoteCandidates() []transport.Candidate {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]transport.Candidate(nil), a.candidates...)
}

// Gathers returns how many times gathering was started.
func (a *Agent) Gathers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gathers
}

// Restarts returns how many times the agent was restarted.
func (a *Agent) Restarts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.restarts
}

func (a *Agent) emit(s transport.State) {
	a.mu.Lock()
	f := a.onState
	a.mu.Unlock()

	if f != nil {
		f(s)
	}
}

// Handshaker skips DTLS and hands out a cipher that leaves packets in the
// clear. A non nil Err fails every handshake.
type Handshaker struct {
	Err error
}

func (h *Handshaker) Handshake(ctx context.Context, _ net.Conn, _ transport.HandshakeParams) (transport.Cipher, error) {
	if h.Err != nil {
		return nil, h.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return plainCipher{}, nil
}

type plainCipher struct{}

func (plainCipher) EncryptRTP(dst, plaintext []byte) ([]byte, error) {
	return append(dst[:0], plaintext...), nil
}

func (plainCipher) DecryptRTP(dst, encrypted []byte) ([]byte, error) {
	return append(dst[:0], encrypted...), nil
}

func (plainCipher) EncryptRTCP(dst, plaintext []byte) ([]byte, error) {
	return append(dst[:0], plaintext...), nil
}

func (plainCipher) DecryptRTCP(dst, encrypted []byte) ([]byte, error) {
	return append(dst[:0], encrypted...), nil
}

func (plainCipher) Close() error {
	return nil
}
