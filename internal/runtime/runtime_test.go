package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/axiom-network/axiom/internal/config"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Host = "127.0.0.1"
	cfg.P2PPort = 0
	cfg.APIPort = 0
	return cfg
}

func TestNewConstructsAndCloses(t *testing.T) {
	assert := assert.New(t)
	cfg := newTestConfig(t)

	rt, err := New(cfg)
	assert.NoError(err)
	assert.NotNil(rt)

	fp, err := rt.Identity().Fingerprint()
	assert.NoError(err)
	assert.NotEmpty(fp)

	assert.NoError(rt.Close())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	assert := assert.New(t)
	cfg := newTestConfig(t)

	rt, err := New(cfg)
	assert.NoError(err)
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = rt.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
