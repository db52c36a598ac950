package fetcher

import (
	"context"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingFetcher struct {
	calls atomic.Int32
	body  string
	err   error
}

func (c *countingFetcher) Download(_ context.Context, _ string) (io.ReadCloser, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return io.NopCloser(strings.NewReader(c.body)), nil
}

func TestCachedFetcher_Hit(t *testing.T) {
	next := &countingFetcher{body: "feed"}
	f := NewCachedFetcher(next, time.Minute)

	for range 3 {
		data, err := ReadAll(context.Background(), f, "https://example.org/feed.json")
		require.NoError(t, err)
		assert.Equal(t, "feed", string(data))
	}
	assert.Equal(t, int32(1), next.calls.Load())

	_, err := ReadAll(context.Background(), f, "https://example.org/other.json")
	require.NoError(t, err)
	assert.Equal(t, int32(2), next.calls.Load())
}

func TestCachedFetcher_Flush(t *testing.T) {
	next := &countingFetcher{body: "feed"}
	f := NewCachedFetcher(next, time.Minute)

	_, err := ReadAll(context.Background(), f, "u")
	require.NoError(t, err)
	f.Flush()
	_, err = ReadAll(context.Background(), f, "u")
	require.NoError(t, err)
	assert.Equal(t, int32(2), next.calls.Load())
}

func TestCachedFetcher_Disabled(t *testing.T) {
	next := &countingFetcher{body: "feed"}
	f := NewCachedFetcher(next, 0)

	for range 2 {
		_, err := ReadAll(context.Background(), f, "u")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), next.calls.Load())
	f.Flush()
}

func TestCachedFetcher_ErrorNotCached(t *testing.T) {
	next := &countingFetcher{err: eris.New("boom")}
	f := NewCachedFetcher(next, time.Minute)

	_, err := f.Download(context.Background(), "u")
	require.Error(t, err)

	next.err = nil
	next.body = "recovered"
	data, err := ReadAll(context.Background(), f, "u")
	require.NoError(t, err)
	assert.Equal(t, "recovered", string(data))
}
