package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"time"

	"github.com/pion/dtls/v3"
	dtlsnet "github.com/pion/dtls/v3/pkg/net"
	"github.com/pion/logging"
	"github.com/pion/srtp/v3"
)

const defaultHandshakeTimeout = 30 * time.Second

// DTLSHandshaker is the default Handshaker. It runs a DTLS-SRTP handshake
// and keys SRTP from the exported material.
type DTLSHandshaker struct {
	LoggerFactory logging.LoggerFactory
	// Timeout bounds the handshake. Zero selects 30 seconds.
	Timeout time.Duration
}

var srtpProfiles = map[dtls.SRTPProtectionProfile]srtp.ProtectionProfile{
	dtls.SRTP_AEAD_AES_128_GCM:       srtp.ProtectionProfileAeadAes128Gcm,
	dtls.SRTP_AES128_CM_HMAC_SHA1_80: srtp.ProtectionProfileAes128CmHmacSha1_80,
}

// Handshake implements Handshaker.
func (h *DTLSHandshaker) Handshake(ctx context.Context, conn net.Conn, p HandshakeParams) (Cipher, error) {
	if p.Certificate == nil {
		return nil, fmt.Errorf("transport: dtls handshake needs a certificate")
	}

	cfg := &dtls.Config{
		Certificates: []tls.Certificate{p.Certificate.TLS()},
		SRTPProtectionProfiles: []dtls.SRTPProtectionProfile{
			dtls.SRTP_AEAD_AES_128_GCM,
			dtls.SRTP_AES128_CM_HMAC_SHA1_80,
		},
		ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
		ClientAuth:           dtls.RequireAnyClientCert,
		// Peers use self signed certificates, trust comes from the
		// fingerprint exchanged over signaling.
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyFingerprint(rawCerts, p.RemoteFingerprint)
		},
		LoggerFactory: h.LoggerFactory,
	}

	timeout := h.Timeout
	if timeout == 0 {
		timeout = defaultHandshakeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		dc  *dtls.Conn
		err error
	)
	pconn := dtlsnet.PacketConnFromConn(conn)
	if p.Role == DTLSRoleClient {
		dc, err = dtls.Client(pconn, conn.RemoteAddr(), cfg)
	} else {
		dc, err = dtls.Server(pconn, conn.RemoteAddr(), cfg)
	}
	if err != nil {
		return nil, err
	}

	if err := dc.HandshakeContext(ctx); err != nil {
		_ = dc.Close()
		return nil, fmt.Errorf("transport: dtls handshake: %w", err)
	}

	cipher, err := newSRTPCipher(dc, p.Role)
	if err != nil {
		_ = dc.Close()
		return nil, err
	}
	return cipher, nil
}

func newSRTPCipher(dc *dtls.Conn, role DTLSRole) (*srtpCipher, error) {
	selected, ok := dc.SelectedSRTPProtectionProfile()
	if !ok {
		return nil, fmt.Errorf("transport: no srtp protection profile negotiated")
	}
	profile, ok := srtpProfiles[selected]
	if !ok {
		return nil, fmt.Errorf("transport: unsupported srtp protection profile %d", selected)
	}

	state, ok := dc.ConnectionState()
	if !ok {
		return nil, fmt.Errorf("transport: dtls connection state unavailable")
	}

	cfg := &srtp.Config{Profile: profile}
	if err := cfg.ExtractSessionKeysFromDTLS(&state, role == DTLSRoleClient); err != nil {
		return nil, err
	}

	local, err := srtp.CreateContext(cfg.Keys.LocalMasterKey, cfg.Keys.LocalMasterSalt, profile)
	if err != nil {
		return nil, err
	}
	remote, err := srtp.CreateContext(cfg.Keys.RemoteMasterKey, cfg.Keys.RemoteMasterSalt, profile)
	if err != nil {
		return nil, err
	}

	return &srtpCipher{conn: dc, local: local, remote: remote}, nil
}
