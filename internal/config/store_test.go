package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// StoreSuite is a test suite for config store operations.
type StoreSuite struct {
	suite.Suite
	tempDir string
	path    string
	store   *Store
}

func (s *StoreSuite) SetupTest() {
	s.tempDir = s.T().TempDir()
	s.path = filepath.Join(s.tempDir, "config.json")
	s.store = NewStore(s.path)
}

func (s *StoreSuite) TearDownTest() {
	s.store.Close()
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) TestDefaultsWhenMissing() {
	s.Equal(DefaultAPIURL, s.store.APIURL())
	s.Equal(DefaultProvider, s.store.ActiveProvider())

	det := s.store.Detection()
	s.True(det.Enabled)
	s.True(det.AutoAnalyze)
	s.Equal(DefaultPollInterval, det.PollInterval)
	s.Equal(DefaultDuplicateWindow, det.DuplicateWindow)
}

func (s *StoreSuite) TestSetGetRoundTrip() {
	s.Require().NoError(s.store.Set("apiUrl", "https://example.test"))
	s.Equal("https://example.test", s.store.APIURL())

	// A fresh store over the same file sees the write.
	again := NewStore(s.path)
	s.Equal("https://example.test", again.APIURL())
}

func (s *StoreSuite) TestDeletePreservesOtherFields() {
	s.Require().NoError(s.store.Set("token", "aa:bb:cc"))
	s.Require().NoError(s.store.Set("apiUrl", "https://example.test"))

	s.Require().NoError(s.store.Delete("token"))

	again := NewStore(s.path)
	s.False(again.Has("token"))
	s.Equal("https://example.test", again.APIURL())
}

func (s *StoreSuite) TestUnparsableFileDegradesToDefaults() {
	s.Require().NoError(os.WriteFile(s.path, []byte("{not json"), 0o600))

	broken := NewStore(s.path)
	s.Equal(DefaultAPIURL, broken.APIURL())

	// Writes still work and produce valid JSON.
	s.Require().NoError(broken.Set("activeProvider", "anthropic"))
	s.Equal("anthropic", NewStore(s.path).ActiveProvider())
}

func (s *StoreSuite) TestProviderSettings() {
	s.Require().NoError(s.store.SetProvider("ollama", ProviderConfig{
		Endpoint: "http://localhost:11434",
		Model:    "llama3.1",
	}))
	s.Require().NoError(s.store.SetProvider("anthropic", ProviderConfig{
		Model:     "claude-sonnet-4-5",
		APIKeyRef: "token",
	}))

	// Second write must not clobber the first provider.
	cfg := s.store.Provider("ollama")
	s.Equal("http://localhost:11434", cfg.Endpoint)
	s.Equal("llama3.1", cfg.Model)

	s.Equal("token", s.store.Provider("anthropic").APIKeyRef)
	s.Empty(s.store.Provider("unknown").Model)
}

func (s *StoreSuite) TestDetectionRoundTrip() {
	det := DefaultDetection()
	det.Enabled = false
	det.PollInterval = 10 * time.Second
	s.Require().NoError(s.store.SetDetection(det))

	got := NewStore(s.path).Detection()
	s.False(got.Enabled)
	s.Equal(10*time.Second, got.PollInterval)
}

func (s *StoreSuite) TestOnChangeFires() {
	changed := make(chan struct{}, 1)
	s.store.OnChange(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	// External writer replaces the file.
	other := NewStore(s.path)
	s.Require().NoError(other.Set("apiUrl", "https://changed.test"))

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		s.Fail("config change event not delivered")
	}
	s.Equal("https://changed.test", s.store.APIURL())
}

func (s *StoreSuite) TestAtomicWriteLeavesNoTempFiles() {
	s.Require().NoError(s.store.Set("apiUrl", "https://example.test"))

	entries, err := os.ReadDir(s.tempDir)
	s.Require().NoError(err)
	s.Len(entries, 1)
	s.Equal("config.json", entries[0].Name())
}
