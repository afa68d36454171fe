package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/pion/ice/v4"
	"github.com/pion/stun/v3"
)

type iceAgent struct {
	agent *ice.Agent
}

// NewICEAgent is the default AgentFactory, backed by a full pion ICE agent
// gathering host and server reflexive UDP candidates.
func NewICEAgent(cfg AgentConfig) (Agent, error) {
	urls := make([]*stun.URI, 0, len(cfg.ICEServers))
	for _, raw := range cfg.ICEServers {
		u, err := stun.ParseURI(raw)
		if err != nil {
			return nil, fmt.Errorf("transport: invalid ice server %q: %w", raw, err)
		}
		urls = append(urls, u)
	}

	agent, err := ice.NewAgent(&ice.AgentConfig{
		Urls:          urls,
		NetworkTypes:  []ice.NetworkType{ice.NetworkTypeUDP4, ice.NetworkTypeUDP6},
		LocalUfrag:    cfg.Local.Ufrag,
		LocalPwd:      cfg.Local.Pwd,
		LoggerFactory: cfg.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}

	return &iceAgent{agent: agent}, nil
}

func (a *iceAgent) OnCandidate(f func(*Candidate)) {
	_ = a.agent.OnCandidate(func(c ice.Candidate) {
		if c == nil {
			f(nil)
			return
		}
		cand := fromICECandidate(c)
		f(&cand)
	})
}

func (a *iceAgent) OnStateChange(f func(State)) {
	_ = a.agent.OnConnectionStateChange(func(s ice.ConnectionState) {
		switch s {
		case ice.ConnectionStateChecking:
			f(StateChecking)
		case ice.ConnectionStateConnected, ice.ConnectionStateCompleted:
			f(StateConnected)
		case ice.ConnectionStateDisconnected:
			f(StateDisconnected)
		case ice.ConnectionStateFailed:
			f(StateFailed)
		case ice.ConnectionStateClosed:
			f(StateClosed)
		}
	})
}

func (a *iceAgent) GatherCandidates() error {
	return a.agent.GatherCandidates()
}

func (a *iceAgent) AddRemoteCandidate(c Candidate) error {
	ic, err := ice.UnmarshalCandidate(c.Marshal())
	if err != nil {
		return err
	}
	return a.agent.AddRemoteCandidate(ic)
}

func (a *iceAgent) SetRemoteCredentials(c Credentials) error {
	return a.agent.SetRemoteCredentials(c.Ufrag, c.Pwd)
}

func (a *iceAgent) Connect(ctx context.Context, role ICERole, remote Credentials) (net.Conn, error) {
	if role == ICERoleControlling {
		return a.agent.Dial(ctx, remote.Ufrag, remote.Pwd)
	}
	return a.agent.Accept(ctx, remote.Ufrag, remote.Pwd)
}

func (a *iceAgent) Restart(local Credentials) error {
	return a.agent.Restart(local.Ufrag, local.Pwd)
}

func (a *iceAgent) Close() error {
	return a.agent.Close()
}
