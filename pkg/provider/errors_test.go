package provider

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ProviderError
		want string
	}{
		{
			name: "with job id",
			err:  &ProviderError{Op: "DownloadResults", Backend: "VITO", JobID: "j-1", Err: ErrConnectionAborted},
			want: "VITO DownloadResults: job j-1: connection aborted",
		},
		{
			name: "without job id",
			err:  &ProviderError{Op: "Connect", Backend: "EODC", Err: ErrUnauthorized},
			want: "EODC Connect: unauthorized",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorClassification(t *testing.T) {
	wrapped := fmt.Errorf("poll: %w", &ProviderError{Op: "DownloadResults", Backend: "x", Err: ErrConnectionAborted})

	assert.True(t, IsConnectionAborted(wrapped))
	assert.False(t, IsUnauthorized(wrapped))

	unauth := &ProviderError{Op: "CreateJob", Backend: "x", Err: ErrUnauthorized}
	assert.True(t, IsUnauthorized(unauth))
	assert.False(t, IsConnectionAborted(unauth))

	assert.True(t, IsNotFound(&ProviderError{Err: ErrNotFound}))
	assert.True(t, IsThrottled(&ProviderError{Err: ErrThrottled}))
	assert.True(t, IsProviderUnavailable(&ProviderError{Err: ErrProviderUnavailable}))
	assert.True(t, IsJobFailed(&ProviderError{Err: ErrJobFailed}))
	assert.False(t, IsJobFailed(errors.New("other")))
}

func TestParseExecutionMode(t *testing.T) {
	tests := []struct {
		in      string
		want    ExecutionMode
		wantErr bool
	}{
		{in: "local", want: ModeLocal},
		{in: "Synchronous", want: ModeSynchronous},
		{in: "sync", want: ModeSynchronous},
		{in: "async", want: ModeAsyncPollable},
		{in: " asynchronous ", want: ModeAsyncPollable},
		{in: "batch", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseExecutionMode(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExecutionMode_Remote(t *testing.T) {
	assert.False(t, ModeLocal.Remote())
	assert.True(t, ModeSynchronous.Remote())
	assert.True(t, ModeAsyncPollable.Remote())
}

func TestParseProcessGraph(t *testing.T) {
	g, err := ParseProcessGraph([]byte(`{"process_graph": {}, "file": "/tmp/out.png"}`))
	require.NoError(t, err)

	file, ok := g.DeclaredFile()
	assert.True(t, ok)
	assert.Equal(t, "/tmp/out.png", file)

	g, err = ParseProcessGraph([]byte(`{"process_graph": {}}`))
	require.NoError(t, err)
	_, ok = g.DeclaredFile()
	assert.False(t, ok)

	_, err = ParseProcessGraph([]byte(`{not json`))
	require.Error(t, err)
	assert.True(t, IsInvalidProcessGraph(err))

	_, err = ParseProcessGraph([]byte(`null`))
	require.Error(t, err)
	assert.True(t, IsInvalidProcessGraph(err))
}

func TestLoadProcessGraph_Missing(t *testing.T) {
	_, err := LoadProcessGraph(t.TempDir() + "/missing.json")
	require.Error(t, err)
	assert.True(t, IsInvalidProcessGraph(err))
}
