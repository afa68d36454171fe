package transport

import (
	"io"
	"sync"

	"github.com/pion/srtp/v3"
)

// srtpCipher holds one context per direction. SRTP contexts keep replay and
// rollover state, so each direction is serialized.
type srtpCipher struct {
	conn io.Closer

	localMu sync.Mutex
	local   *srtp.Context

	remoteMu sync.Mutex
	remote   *srtp.Context
}

func (c *srtpCipher) EncryptRTP(dst, plaintext []byte) ([]byte, error) {
	c.localMu.Lock()
	defer c.localMu.Unlock()
	return c.local.EncryptRTP(dst, plaintext, nil)
}

func (c *srtpCipher) DecryptRTP(dst, encrypted []byte) ([]byte, error) {
	c.remoteMu.Lock()
	defer c.remoteMu.Unlock()
	return c.remote.DecryptRTP(dst, encrypted, nil)
}

func (c *srtpCipher) EncryptRTCP(dst, plaintext []byte) ([]byte, error) {
	c.localMu.Lock()
	defer c.localMu.Unlock()
	return c.local.EncryptRTCP(dst, plaintext, nil)
}

func (c *srtpCipher) DecryptRTCP(dst, encrypted []byte) ([]byte, error) {
	c.remoteMu.Lock()
	defer c.remoteMu.Unlock()
	return c.remote.DecryptRTCP(dst, encrypted, nil)
}

func (c *srtpCipher) Close() error {
	return c.conn.Close()
}
