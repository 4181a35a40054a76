package wallet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/chainflow/core/auth"
)

var testSecret = []byte("session-secret")

func newSessionServer(t *testing.T) *httptest.Server {
	authorize := func(w http.ResponseWriter, r *http.Request) (string, bool) {
		key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		sub, err := auth.VerifyServiceToken(testSecret, key)
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return "", false
		}
		return sub, true
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/sessions/", func(w http.ResponseWriter, r *http.Request) {
		sub, ok := authorize(w, r)
		if !ok {
			return
		}
		userID := strings.TrimPrefix(r.URL.Path, "/sessions/")
		assert.Equal(t, userID, sub)
		w.Header().Set("Content-Type", "application/json")
		if userID == "expired" {
			w.Write([]byte(`{"valid":false}`))
			return
		}
		w.Write([]byte(`{"valid":true,"address":"` + testOwner + `"}`))
	})
	mux.HandleFunc("/transactions", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := authorize(w, r); !ok {
			return
		}
		body := map[string]any{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		if body["network"] == "broken" {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"error":"signer unavailable"}`))
			return
		}
		w.Write([]byte(`{"txHash":"0xfeed"}`))
	})
	mux.HandleFunc("/approvals", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := authorize(w, r); !ok {
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"approved":true}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSessionClient(t *testing.T) {
	srv := newSessionServer(t)
	c := NewSessionClient(srv.URL, testSecret, 5*time.Second)
	ctx := context.Background()

	ok, err := c.ValidateSession(ctx, testUser)
	require.NoError(t, err)
	assert.True(t, ok)

	addr, err := c.GetAddress(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, testOwner, addr)

	_, err = c.GetAddress(ctx, "expired")
	assert.ErrorIs(t, err, ErrInvalidSession)

	hash, err := c.SignAndSend(ctx, testUser, "ethereum", &Transaction{To: testRecipient, Value: "1"})
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", hash)

	_, err = c.SignAndSend(ctx, testUser, "broken", &Transaction{To: testRecipient, Value: "1"})
	assert.ErrorContains(t, err, "signer unavailable")

	approved, err := c.RequestApproval(ctx, testUser, &Transaction{To: testRecipient, Value: "1"}, "test")
	require.NoError(t, err)
	assert.True(t, approved)
}

func TestSessionClientWrongSecretIsInvalid(t *testing.T) {
	srv := newSessionServer(t)
	c := NewSessionClient(srv.URL, []byte("other"), 5*time.Second)

	ok, err := c.ValidateSession(context.Background(), testUser)
	require.NoError(t, err)
	assert.False(t, ok)
}
