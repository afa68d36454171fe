// Package transport provides the secure datagram channel of a peer
// connection: one ICE agent, a DTLS handshake and the SRTP/SRTCP contexts
// derived from it. It knows nothing about media lines or codecs.
package transport

import (
	"context"
	"errors"
	"net"

	"github.com/pion/logging"
)

var (
	// ErrClosed is returned by operations on a closed Session.
	ErrClosed = errors.New("transport: session is closed")
	// ErrNotEstablished is returned when sending before SRTP keys exist.
	ErrNotEstablished = errors.New("transport: session is not established")
	// ErrNotStarted is returned when an operation needs a running agent.
	ErrNotStarted = errors.New("transport: session is not started")
	// ErrFingerprintMismatch is returned when the remote certificate doesn't
	// match the negotiated fingerprint.
	ErrFingerprintMismatch = errors.New("transport: remote certificate fingerprint mismatch")
	// ErrICEFailed is reported when connectivity checks fail for every pair.
	ErrICEFailed = errors.New("transport: ice connectivity failed")
)

// ICERole is the ICE agent role.
type ICERole int

const (
	ICERoleControlling ICERole = iota + 1
	ICERoleControlled
)

func (r ICERole) String() string {
	switch r {
	case ICERoleControlling:
		return "controlling"
	case ICERoleControlled:
		return "controlled"
	default:
		return "unknown"
	}
}

// DTLSRole is the local DTLS handshake role.
type DTLSRole int

const (
	DTLSRoleClient DTLSRole = iota + 1
	DTLSRoleServer
)

func (r DTLSRole) String() string {
	switch r {
	case DTLSRoleClient:
		return "client"
	case DTLSRoleServer:
		return "server"
	default:
		return "unknown"
	}
}

// State is the connection state of a Session.
type State int

const (
	StateNew State = iota
	StateChecking
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateChecking:
		return "checking"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Credentials are ICE username fragment and password.
type Credentials struct {
	Ufrag string
	Pwd   string
}

// Fingerprint is a certificate fingerprint as carried in SDP.
type Fingerprint struct {
	Algorithm string
	Value     string
}

// AgentConfig is passed to an AgentFactory.
type AgentConfig struct {
	Local         Credentials
	ICEServers    []string
	LoggerFactory logging.LoggerFactory
}

// Agent is the ICE capability a Session drives. Implementations own socket
// I/O and connectivity checks.
type Agent interface {
	// OnCandidate registers the handler of gathered local candidates. A nil
	// candidate signals the end of gathering.
	OnCandidate(func(*Candidate))
	OnStateChange(func(State))
	GatherCandidates() error
	AddRemoteCandidate(Candidate) error
	SetRemoteCredentials(Credentials) error
	// Connect blocks until a candidate pair is selected and returns the
	// datagram connection over it.
	Connect(ctx context.Context, role ICERole, remote Credentials) (net.Conn, error)
	// Restart replaces the local credentials and drops gathered candidates.
	// An established connection keeps working.
	Restart(local Credentials) error
	Close() error
}

// AgentFactory creates the Agent of a Session.
type AgentFactory func(AgentConfig) (Agent, error)

// HandshakeParams configure one DTLS handshake.
type HandshakeParams struct {
	Role              DTLSRole
	Certificate       *Certificate
	RemoteFingerprint Fingerprint
}

// Handshaker authenticates the connection and derives media keys.
type Handshaker interface {
	Handshake(ctx context.Context, conn net.Conn, p HandshakeParams) (Cipher, error)
}

// Cipher protects RTP and RTCP packets. Implementations must allow one
// encrypting and one decrypting goroutine at the same time.
type Cipher interface {
	EncryptRTP(dst, plaintext []byte) ([]byte, error)
	DecryptRTP(dst, encrypted []byte) ([]byte, error)
	EncryptRTCP(dst, plaintext []byte) ([]byte, error)
	DecryptRTCP(dst, encrypted []byte) ([]byte, error)
	Close() error
}
