package fed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// testConfig returns a config for an in-process federation of n federates
// private to the test.
func testConfig(t *testing.T, n int) *Config {
	t.Helper()
	cfg := NewConfig()
	broker := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	cfg.CoreInitString = fmt.Sprintf("--federates=%d --broker=%s", n, broker)
	cfg.WaitLimit = 10 * time.Second
	return cfg
}

// newTestFederates creates one federate per name in a fresh runtime.
func newTestFederates(t *testing.T, cfg *Config, names ...string) []*Federate {
	t.Helper()
	rt := NewRuntime()
	t.Cleanup(func() { _ = rt.Close() })
	if cfg == nil {
		cfg = testConfig(t, len(names))
	}
	feds := make([]*Federate, len(names))
	for i, name := range names {
		f, err := rt.CreateFederate(name, cfg)
		require.NoError(t, err)
		feds[i] = f
	}
	return feds
}

// enterExecuting moves every federate to executing mode concurrently.
func enterExecuting(t *testing.T, feds ...*Federate) {
	t.Helper()
	g, ctx := errgroup.WithContext(context.Background())
	for _, f := range feds {
		g.Go(func() error { return f.EnterExecutingMode(ctx) })
	}
	require.NoError(t, g.Wait())
}

func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}
