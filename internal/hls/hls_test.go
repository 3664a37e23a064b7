package hls

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sluicedev/sluice/internal/config"
	"github.com/sluicedev/sluice/internal/httpclient"
	"github.com/sluicedev/sluice/internal/stream"
)

// testSession is a minimal stream.Session backed by a real HTTP client
// and an in-memory option map.
type testSession struct {
	client *httpclient.Client
	opts   map[string]any
}

func newTestSession(t *testing.T, opts map[string]any) *testSession {
	t.Helper()

	client, err := httpclient.New(config.HTTPConfig{
		Timeout:      5 * time.Second,
		Retries:      1,
		RetryBackoff: 100 * time.Millisecond,
		SSLVerify:    true,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("creating HTTP client: %v", err)
	}

	s := &testSession{
		client: client,
		opts: map[string]any{
			"stream-timeout":               5 * time.Second,
			"stream-segment-attempts":      1,
			"stream-segment-threads":       2,
			"stream-segment-timeout":       5 * time.Second,
			"stream-queue-size":            8,
			"ringbuffer-size":              64 * 1024,
			"hls-live-edge":                3,
			"hls-live-restart":             false,
			"hls-start-offset":             time.Duration(0),
			"hls-duration":                 time.Duration(0),
			"hls-playlist-reload-attempts": 2,
			"hls-playlist-reload-time":     "default",
			"hls-segment-queue-threshold":  3.0,
		},
	}
	for k, v := range opts {
		s.opts[k] = v
	}
	return s
}

func (s *testSession) HTTP() *httpclient.Client { return s.client }
func (s *testSession) Logger() *slog.Logger     { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func (s *testSession) OptionInt(key string) int {
	v, _ := s.opts[key].(int)
	return v
}

func (s *testSession) OptionBool(key string) bool {
	v, _ := s.opts[key].(bool)
	return v
}

func (s *testSession) OptionFloat(key string) float64 {
	v, _ := s.opts[key].(float64)
	return v
}

func (s *testSession) OptionString(key string) string {
	v, _ := s.opts[key].(string)
	return v
}

func (s *testSession) OptionDuration(key string) time.Duration {
	v, _ := s.opts[key].(time.Duration)
	return v
}

var _ stream.Session = (*testSession)(nil)

// encryptAES128 is the test-side inverse of decryptAES128: PKCS#7 pad,
// then AES-128-CBC encrypt.
func encryptAES128(t *testing.T, data, key, iv []byte) []byte {
	t.Helper()

	pad := aes.BlockSize - len(data)%aes.BlockSize
	padded := append(append([]byte(nil), data...), bytes.Repeat([]byte{byte(pad)}, pad)...)

	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("creating cipher: %v", err)
	}
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out
}
