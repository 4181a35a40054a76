package rpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCosmosAddr = "cosmos1qypqxpq9qcrsszg2pvxq6rs0zqg3yyc5lzv7xu"

func newLCD(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/cosmos/bank/v1beta1/balances/"+testCosmosAddr, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"balances":[{"denom":"uatom","amount":"1500000"}],"pagination":{"total":"1"}}`))
	})
	mux.HandleFunc("/cosmos/staking/v1beta1/delegations/"+testCosmosAddr, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"delegation_responses":[{"delegation":{"validator_address":"cosmosvaloper1x"},"balance":{"denom":"uatom","amount":"10"}}]}`))
	})
	mux.HandleFunc("/cosmos/distribution/v1beta1/delegators/"+testCosmosAddr+"/rewards", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"rewards":[{"validator_address":"cosmosvaloper1x"}],"total":[{"denom":"uatom","amount":"0.5"}]}`))
	})
	mux.HandleFunc("/cosmos/tx/v1beta1/txs", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Query().Get("query"), testCosmosAddr)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"tx_responses":[{"txhash":"ABC"}]}`))
	})
	mux.HandleFunc("/cosmos/auth/v1beta1/accounts/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code":5,"message":"account not found"}`))
	})
	mux.HandleFunc("/cosmos/base/tendermint/v1beta1/blocks/latest", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRestClientQueries(t *testing.T) {
	srv := newLCD(t)
	c := NewRestClient("cosmoshub-mainnet", srv.URL, 0)
	ctx := context.Background()

	balances, err := c.GetAllBalances(ctx, testCosmosAddr)
	require.NoError(t, err)
	assert.Equal(t, []Coin{{Denom: "uatom", Amount: "1500000"}}, balances)

	delegations, err := c.GetDelegations(ctx, testCosmosAddr)
	require.NoError(t, err)
	require.Len(t, delegations, 1)

	rewards, err := c.GetRewards(ctx, testCosmosAddr)
	require.NoError(t, err)
	assert.Equal(t, "0.5", rewards.Total[0].Amount)

	votes, err := c.GetGovernanceVotes(ctx, testCosmosAddr)
	require.NoError(t, err)
	assert.Equal(t, "ABC", votes[0]["txhash"])
}

func TestRestClientErrors(t *testing.T) {
	srv := newLCD(t)
	c := NewRestClient("cosmoshub-mainnet", srv.URL, 0)

	_, err := c.GetAccount(context.Background(), testCosmosAddr)
	assert.True(t, IsNotFound(err))

	err = c.HealthCheck(context.Background())
	assert.ErrorContains(t, err, "status 503")
}
