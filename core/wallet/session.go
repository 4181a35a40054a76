package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/AvaProtocol/chainflow/core/auth"
)

// SessionService is the external session/signer system. Private keys never
// leave it.
type SessionService interface {
	ValidateSession(ctx context.Context, userID string) (bool, error)
	GetAddress(ctx context.Context, userID string) (string, error)
	SignAndSend(ctx context.Context, userID, network string, tx *Transaction) (string, error)
	RequestApproval(ctx context.Context, userID string, tx *Transaction, reason string) (bool, error)
}

// SessionClient talks to the session service over http, authenticating every
// request with a short lived bearer token for the user.
type SessionClient struct {
	client *resty.Client
	secret []byte
}

type sessionResponse struct {
	Valid   bool   `json:"valid"`
	Address string `json:"address"`
}

type sendResponse struct {
	TxHash string `json:"txHash"`
}

type approvalResponse struct {
	Approved bool `json:"approved"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewSessionClient(baseURL string, secret []byte, timeout time.Duration) *SessionClient {
	return &SessionClient{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
		secret: secret,
	}
}

func (s *SessionClient) request(ctx context.Context, userID string) (*resty.Request, error) {
	token, err := auth.SignServiceToken(s.secret, userID, time.Minute)
	if err != nil {
		return nil, err
	}
	return s.client.R().SetContext(ctx).SetAuthToken(token).SetError(&errorResponse{}), nil
}

func responseError(op string, resp *resty.Response) error {
	if e, ok := resp.Error().(*errorResponse); ok && e.Error != "" {
		return fmt.Errorf("session service %s: status %d: %s", op, resp.StatusCode(), e.Error)
	}
	return fmt.Errorf("session service %s: status %d", op, resp.StatusCode())
}

func (s *SessionClient) session(ctx context.Context, userID string) (*sessionResponse, error) {
	req, err := s.request(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := &sessionResponse{}
	resp, err := req.SetResult(out).SetPathParam("userId", userID).Get("/sessions/{userId}")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == 401 || resp.StatusCode() == 404 {
		return &sessionResponse{}, nil
	}
	if resp.IsError() {
		return nil, responseError("session", resp)
	}
	return out, nil
}

func (s *SessionClient) ValidateSession(ctx context.Context, userID string) (bool, error) {
	sess, err := s.session(ctx, userID)
	if err != nil {
		return false, err
	}
	return sess.Valid, nil
}

func (s *SessionClient) GetAddress(ctx context.Context, userID string) (string, error) {
	sess, err := s.session(ctx, userID)
	if err != nil {
		return "", err
	}
	if !sess.Valid || sess.Address == "" {
		return "", ErrInvalidSession
	}
	return sess.Address, nil
}

func (s *SessionClient) SignAndSend(ctx context.Context, userID, network string, tx *Transaction) (string, error) {
	req, err := s.request(ctx, userID)
	if err != nil {
		return "", err
	}

	out := &sendResponse{}
	resp, err := req.SetResult(out).SetBody(map[string]any{
		"userId":      userID,
		"network":     network,
		"transaction": tx,
	}).Post("/transactions")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", responseError("sign", resp)
	}
	if out.TxHash == "" {
		return "", fmt.Errorf("session service returned no transaction hash")
	}
	return out.TxHash, nil
}

func (s *SessionClient) RequestApproval(ctx context.Context, userID string, tx *Transaction, reason string) (bool, error) {
	req, err := s.request(ctx, userID)
	if err != nil {
		return false, err
	}

	out := &approvalResponse{}
	resp, err := req.SetResult(out).SetBody(map[string]any{
		"userId":      userID,
		"transaction": tx,
		"reason":      reason,
	}).Post("/approvals")
	if err != nil {
		return false, err
	}
	if resp.IsError() {
		return false, responseError("approval", resp)
	}
	return out.Approved, nil
}
