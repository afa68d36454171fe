package transport

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/ice/v4"
	"github.com/pion/randutil"
)

// Candidate is one ICE candidate.
type Candidate struct {
	Foundation     string
	Component      uint16
	Protocol       string
	Priority       uint32
	Address        string
	Port           int
	Type           string
	RelatedAddress string
	RelatedPort    int
	Generation     int

	raw string
}

// ParseCandidate reads a candidate attribute value, with or without the
// "candidate:" prefix.
func ParseCandidate(s string) (Candidate, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "candidate:")
	c, err := ice.UnmarshalCandidate(s)
	if err != nil {
		return Candidate{}, fmt.Errorf("transport: invalid candidate %q: %w", s, err)
	}

	cand := fromICECandidate(c)
	cand.Generation = candidateGeneration(s)
	cand.raw = s
	return cand, nil
}

func fromICECandidate(c ice.Candidate) Candidate {
	cand := Candidate{
		Foundation: c.Foundation(),
		Component:  c.Component(),
		Protocol:   c.NetworkType().NetworkShort(),
		Priority:   c.Priority(),
		Address:    c.Address(),
		Port:       c.Port(),
		Type:       c.Type().String(),
		raw:        c.Marshal(),
	}
	if rel := c.RelatedAddress(); rel != nil {
		cand.RelatedAddress = rel.Address
		cand.RelatedPort = rel.Port
	}
	return cand
}

func candidateGeneration(s string) int {
	fields := strings.Fields(s)
	for i := 0; i+1 < len(fields); i++ {
		if fields[i] == "generation" {
			if g, err := strconv.Atoi(fields[i+1]); err == nil {
				return g
			}
		}
	}
	return 0
}

// Marshal returns the candidate attribute value without the "candidate:"
// prefix.
func (c Candidate) Marshal() string {
	if c.raw != "" {
		return c.raw
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %d %s %d %s %d typ %s", c.Foundation, c.Component, c.Protocol, c.Priority, c.Address, c.Port, c.Type)
	if c.RelatedAddress != "" {
		fmt.Fprintf(&b, " raddr %s rport %d", c.RelatedAddress, c.RelatedPort)
	}
	if c.Generation > 0 {
		fmt.Fprintf(&b, " generation %d", c.Generation)
	}
	return b.String()
}

func (c Candidate) String() string {
	return c.Marshal()
}

const (
	runesAlpha  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	runesCredit = runesAlpha + "0123456789+/"

	ufragLength = 16
	pwdLength   = 32
)

// GenerateCredentials returns random ICE credentials.
func GenerateCredentials() (Credentials, error) {
	ufrag, err := randutil.GenerateCryptoRandomString(ufragLength, runesAlpha)
	if err != nil {
		return Credentials{}, err
	}
	pwd, err := randutil.GenerateCryptoRandomString(pwdLength, runesCredit)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{Ufrag: ufrag, Pwd: pwd}, nil
}
