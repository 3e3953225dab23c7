package erp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestFetchSince(t *testing.T) {
	var gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"list":[
			{"id":101,"lineNo":"10","index":1,"packaging":"BOX","batch":"B-77","count":48,
			 "order":"000300112233","ean":"4006381333931","prodDate":"2026-08-20",
			 "palletNumber":"P55","handlingUnitLabelCode":"HU1001"}
		]}`))
	})

	recs, err := c.FetchSince(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	assert.Equal(t, "/api/sap-orders/getIdGreaterThan/100", gotPath)
	assert.Equal(t, int64(101), recs[0].ID)
	assert.Equal(t, "4006381333931", recs[0].EAN)
	assert.Equal(t, "HU1001", recs[0].HULabel)
	assert.Equal(t, "P55", recs[0].PalletCode)
	assert.Equal(t, "B-77", recs[0].Batch)
}

func TestFetchSinceStringOKFlag(t *testing.T) {
	// Legacy bridge endpoints serialize the flag as a string.
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":"true","list":[
			{"id":7,"ean":"12345678","handlingUnitLabelCode":"HU7"}
		]}`))
	})

	recs, err := c.FetchSince(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "HU7", recs[0].HULabel)
}

func TestFetchSinceNotOK(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"list":[]}`))
	})

	_, err := c.FetchSince(context.Background(), 0)
	require.ErrorIs(t, err, ErrNotOK)
}

func TestFetchSinceHTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := c.FetchSince(context.Background(), 0)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestFetchSinceRejectsBadBatch(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "bad ean",
			body: `{"ok":true,"list":[{"id":1,"ean":"not-an-ean","handlingUnitLabelCode":"HU1"}]}`,
		},
		{
			name: "missing hu label",
			body: `{"ok":true,"list":[{"id":1,"ean":"4006381333931"}]}`,
		},
		{
			name: "empty hu label",
			body: `{"ok":true,"list":[{"id":1,"ean":"4006381333931","handlingUnitLabelCode":""}]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.FetchSince(context.Background(), 0)
			require.Error(t, err)
			assert.NotErrorIs(t, err, ErrNotOK)
		})
	}
}

func TestFetchSinceEmptyList(t *testing.T) {
	for _, body := range []string{`{"ok":true,"list":[]}`, `{"ok":true,"list":null}`, `{"ok":true}`} {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		})
		recs, err := c.FetchSince(context.Background(), 42)
		require.NoError(t, err)
		assert.Empty(t, recs)
	}
}

func TestOKFlag(t *testing.T) {
	assert.True(t, okFlag([]byte(`true`)))
	assert.True(t, okFlag([]byte(`"true"`)))
	assert.True(t, okFlag([]byte(`"TRUE"`)))
	assert.False(t, okFlag([]byte(`false`)))
	assert.False(t, okFlag([]byte(`"false"`)))
	assert.False(t, okFlag([]byte(`1`)))
	assert.False(t, okFlag(nil))
}

func TestFetchSinceContextCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.FetchSince(ctx, 0)
	require.ErrorIs(t, err, context.Canceled)
}
