package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStoreRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewBlobStore()
	uri, err := s.PutObject(context.Background(), "runs/run-1/sitemap.xml", "application/xml", []byte("<urlset/>"))
	require.NoError(t, err)
	require.Equal(t, "memory://runs/run-1/sitemap.xml", uri)

	data, ok := s.Get("runs/run-1/sitemap.xml")
	require.True(t, ok)
	require.Equal(t, []byte("<urlset/>"), data)
	require.Equal(t, 1, s.Len())

	_, ok = s.Get("missing")
	require.False(t, ok)
}
