package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/saveforme/saveforme/internal/download"
	"github.com/saveforme/saveforme/internal/metrics"
)

func init() {
	metrics.Init()
}

type fakeInvoker struct {
	metaErrs  []error
	meta      download.Metadata
	metaCalls int

	// downloadErrs maps strategy name to the scripted errors for successive
	// attempts; a nil entry means the attempt succeeds.
	downloadErrs  map[string][]error
	artifact      download.Artifact
	downloadCalls map[string]int
}

func (f *fakeInvoker) Metadata(_ context.Context, _ string, _ Strategy) (download.Metadata, error) {
	f.metaCalls++
	if f.metaCalls <= len(f.metaErrs) {
		if err := f.metaErrs[f.metaCalls-1]; err != nil {
			return download.Metadata{}, err
		}
	}
	return f.meta, nil
}

func (f *fakeInvoker) Download(_ context.Context, _ string, _ download.MediaOptions, st Strategy, _ download.ProgressFunc) (download.Artifact, error) {
	if f.downloadCalls == nil {
		f.downloadCalls = make(map[string]int)
	}
	call := f.downloadCalls[st.Name]
	f.downloadCalls[st.Name] = call + 1
	errs := f.downloadErrs[st.Name]
	if call < len(errs) && errs[call] != nil {
		return download.Artifact{}, errs[call]
	}
	return f.artifact, nil
}

func newTestGateway(inv Invoker) *Gateway {
	g := New(inv, Config{
		Primary:  Strategy{Name: "primary", MaxAttempts: 3, QualityCeiling: 1080},
		Fallback: Strategy{Name: "fallback", MaxAttempts: 5, QualityCeiling: 720},
	}, nil)
	g.backoff = backoffPolicy{baseDelay: time.Millisecond, maxDelay: time.Millisecond}
	return g
}

func TestFetchMetadataSucceeds(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{
		meta: download.Metadata{VideoID: "abc123def45", Title: "clip"},
	}
	g := newTestGateway(inv)

	meta, err := g.FetchMetadata(context.Background(), "https://youtu.be/abc123def45")
	require.NoError(t, err)
	require.Equal(t, "clip", meta.Title)
	require.Equal(t, 1, inv.metaCalls)
}

func TestFetchMetadataFailsWithoutRetry(t *testing.T) {
	t.Parallel()

	boom := errors.New("geo blocked")
	inv := &fakeInvoker{metaErrs: []error{boom, boom, boom}}
	g := newTestGateway(inv)

	_, err := g.FetchMetadata(context.Background(), "https://youtu.be/abc123def45")

	var metaErr *download.MetadataError
	require.ErrorAs(t, err, &metaErr)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, inv.metaCalls, "metadata is fetched in a single attempt")
}

func TestFetchMediaPrimarySucceeds(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{artifact: download.Artifact{Name: "abc123def45_clip.mp4", SizeMB: 12}}
	g := newTestGateway(inv)

	art, err := g.FetchMedia(context.Background(), "https://youtu.be/abc123def45", download.MediaOptions{}, nil)
	require.NoError(t, err)
	require.Equal(t, "abc123def45_clip.mp4", art.Name)
	require.Equal(t, 1, inv.downloadCalls["primary"])
	require.Zero(t, inv.downloadCalls["fallback"])
}

func TestFetchMediaFallsBackAfterPrimaryExhausted(t *testing.T) {
	t.Parallel()

	boom := errors.New("403 forbidden")
	inv := &fakeInvoker{
		downloadErrs: map[string][]error{
			"primary":  {boom, boom, boom},
			"fallback": {boom},
		},
		artifact: download.Artifact{Name: "abc123def45_clip.mp4"},
	}
	g := newTestGateway(inv)

	art, err := g.FetchMedia(context.Background(), "https://youtu.be/abc123def45", download.MediaOptions{}, nil)
	require.NoError(t, err)
	require.Equal(t, "abc123def45_clip.mp4", art.Name)
	require.Equal(t, 3, inv.downloadCalls["primary"])
	require.Equal(t, 2, inv.downloadCalls["fallback"])
}

func TestFetchMediaBothStrategiesFail(t *testing.T) {
	t.Parallel()

	pErr := errors.New("primary down")
	fErr := errors.New("fallback down")
	inv := &fakeInvoker{
		downloadErrs: map[string][]error{
			"primary":  {pErr, pErr, pErr},
			"fallback": {fErr, fErr, fErr, fErr, fErr},
		},
	}
	g := newTestGateway(inv)

	_, err := g.FetchMedia(context.Background(), "https://youtu.be/abc123def45", download.MediaOptions{}, nil)

	var mediaErr *download.MediaFetchError
	require.ErrorAs(t, err, &mediaErr)
	require.ErrorIs(t, mediaErr.PrimaryErr, pErr)
	require.ErrorIs(t, mediaErr.FallbackErr, fErr)
	require.Equal(t, "primary strategy: primary down; fallback strategy: fallback down", err.Error())
}

func TestFetchMediaArtifactErrorsSkipFallback(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{
		downloadErrs: map[string][]error{
			"primary": {download.ErrArtifactAmbiguous},
		},
	}
	g := newTestGateway(inv)

	_, err := g.FetchMedia(context.Background(), "https://youtu.be/abc123def45", download.MediaOptions{}, nil)
	require.ErrorIs(t, err, download.ErrArtifactAmbiguous)
	require.Equal(t, 1, inv.downloadCalls["primary"])
	require.Zero(t, inv.downloadCalls["fallback"])
}

func TestFetchMediaCancelledContextStopsRetries(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{
		downloadErrs: map[string][]error{
			"primary": {context.Canceled},
		},
	}
	g := newTestGateway(inv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.FetchMedia(ctx, "https://youtu.be/abc123def45", download.MediaOptions{}, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, inv.downloadCalls["primary"])
	require.Zero(t, inv.downloadCalls["fallback"])
}

func TestEffectiveQuality(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		ceiling   int
		requested int
		want      int
	}{
		{name: "best resolves to ceiling", ceiling: 1080, requested: 0, want: 1080},
		{name: "below ceiling passes through", ceiling: 1080, requested: 720, want: 720},
		{name: "above ceiling is clamped", ceiling: 720, requested: 1080, want: 720},
		{name: "no ceiling passes through", ceiling: 0, requested: 480, want: 480},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			st := Strategy{QualityCeiling: tc.ceiling}
			require.Equal(t, tc.want, st.EffectiveQuality(tc.requested))
		})
	}
}
