package acme

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestFilesystemDropPublisherAddChallengeWritesFile(t *testing.T) {
	dir := t.TempDir()
	pub := NewFilesystemDropPublisher(map[string]string{"example.com": dir}, discardLogger())

	require.NoError(t, pub.AddChallenge("example.com", "/.well-known/acme-challenge/token123", "key-auth-value"))

	data, err := os.ReadFile(filepath.Join(dir, ".well-known", "acme-challenge", "token123"))
	require.NoError(t, err)
	assert.Equal(t, "key-auth-value", string(data))
}

func TestFilesystemDropPublisherDisposeRemovesFilesAndDirs(t *testing.T) {
	dir := t.TempDir()
	pub := NewFilesystemDropPublisher(map[string]string{"example.com": dir}, discardLogger())

	require.NoError(t, pub.AddChallenge("example.com", "/.well-known/acme-challenge/token123", "value"))
	require.NoError(t, pub.Dispose())

	_, err := os.Stat(filepath.Join(dir, ".well-known", "acme-challenge", "token123"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, ".well-known", "acme-challenge"))
	assert.True(t, os.IsNotExist(err))
}

func TestFilesystemDropPublisherUnknownDomainFallsBackToCwd(t *testing.T) {
	dir := t.TempDir()
	oldWD, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(oldWD)

	pub := NewFilesystemDropPublisher(map[string]string{}, discardLogger())
	require.NoError(t, pub.AddChallenge("unlisted.example", "/.well-known/acme-challenge/tok", "v"))

	_, err = os.Stat(filepath.Join(dir, ".well-known", "acme-challenge", "tok"))
	require.NoError(t, err)
}

func TestFilesystemDropPublisherTimings(t *testing.T) {
	pub := NewFilesystemDropPublisher(nil, discardLogger())
	assert.Equal(t, 2*time.Second, pub.SelfCheckDuration())
	assert.Equal(t, 250*time.Millisecond, pub.SelfCheckInterval())
}
