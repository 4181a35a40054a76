package rpc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Coin is a cosmos sdk amount
type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

type balancesResponse struct {
	Balances []Coin `json:"balances"`
}

type RewardsResponse struct {
	Rewards []map[string]any `json:"rewards"`
	Total   []Coin           `json:"total"`
}

// RestClient queries a cosmos sdk LCD endpoint
type RestClient struct {
	network string
	client  *resty.Client
}

func NewRestClient(network, baseURL string, timeout time.Duration) *RestClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RestClient{
		network: network,
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

func (r *RestClient) Network() string {
	return r.network
}

func (r *RestClient) get(ctx context.Context, path string, query map[string]string, out any) error {
	req := r.client.R().SetContext(ctx).SetResult(out)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}

	resp, err := req.Get(path)
	if err != nil {
		return fmt.Errorf("%s rest %s: %w", r.network, path, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("%s rest %s: %w", r.network, path, ErrNotFound)
	}
	if resp.IsError() {
		return fmt.Errorf("%s rest %s: status %d: %s", r.network, path, resp.StatusCode(), resp.String())
	}
	return nil
}

func (r *RestClient) GetAccount(ctx context.Context, addr string) (map[string]any, error) {
	out := map[string]any{}
	if err := r.get(ctx, "/cosmos/auth/v1beta1/accounts/"+addr, nil, &out); err != nil {
		return nil, err
	}
	if acc, ok := out["account"].(map[string]any); ok {
		return acc, nil
	}
	return out, nil
}

func (r *RestClient) GetAllBalances(ctx context.Context, addr string) ([]Coin, error) {
	out := &balancesResponse{}
	if err := r.get(ctx, "/cosmos/bank/v1beta1/balances/"+addr, nil, out); err != nil {
		return nil, err
	}
	return out.Balances, nil
}

func (r *RestClient) GetDelegations(ctx context.Context, addr string) ([]map[string]any, error) {
	out := struct {
		DelegationResponses []map[string]any `json:"delegation_responses"`
	}{}
	if err := r.get(ctx, "/cosmos/staking/v1beta1/delegations/"+addr, nil, &out); err != nil {
		return nil, err
	}
	return out.DelegationResponses, nil
}

func (r *RestClient) GetRewards(ctx context.Context, addr string) (*RewardsResponse, error) {
	out := &RewardsResponse{}
	if err := r.get(ctx, "/cosmos/distribution/v1beta1/delegators/"+addr+"/rewards", nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetGovernanceVotes returns the vote transactions sent by addr
func (r *RestClient) GetGovernanceVotes(ctx context.Context, addr string) ([]map[string]any, error) {
	return r.searchTxs(ctx, map[string]string{
		"events": fmt.Sprintf("message.sender='%s'", addr),
		"query":  fmt.Sprintf("message.sender='%s' AND message.action='/cosmos.gov.v1beta1.MsgVote'", addr),
	})
}

// GetTxHistory returns the most recent transactions sent by addr
func (r *RestClient) GetTxHistory(ctx context.Context, addr string, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 20
	}
	return r.searchTxs(ctx, map[string]string{
		"events":           fmt.Sprintf("message.sender='%s'", addr),
		"query":            fmt.Sprintf("message.sender='%s'", addr),
		"order_by":         "ORDER_BY_DESC",
		"pagination.limit": fmt.Sprintf("%d", limit),
	})
}

func (r *RestClient) searchTxs(ctx context.Context, query map[string]string) ([]map[string]any, error) {
	out := struct {
		TxResponses []map[string]any `json:"tx_responses"`
	}{}
	if err := r.get(ctx, "/cosmos/tx/v1beta1/txs", query, &out); err != nil {
		return nil, err
	}
	return out.TxResponses, nil
}

// HealthCheck fetches the latest block through the tendermint service
func (r *RestClient) HealthCheck(ctx context.Context) error {
	out := map[string]any{}
	return r.get(ctx, "/cosmos/base/tendermint/v1beta1/blocks/latest", nil, &out)
}
