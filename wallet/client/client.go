// Package client implements the HTTP-facing MintClient: a thin,
// configurable-timeout wrapper around a single mint's REST API. It holds no
// wallet state of its own; SingleMintWallet owns the keysets, proofs and
// counters and calls through this client for every network operation.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/keychat-io/cashu-wallet-go/cashu"
	"github.com/keychat-io/cashu-wallet-go/cashu/nuts/nut01"
	"github.com/keychat-io/cashu-wallet-go/cashu/nuts/nut02"
	"github.com/keychat-io/cashu-wallet-go/cashu/nuts/nut03"
	"github.com/keychat-io/cashu-wallet-go/cashu/nuts/nut04"
	"github.com/keychat-io/cashu-wallet-go/cashu/nuts/nut05"
	"github.com/keychat-io/cashu-wallet-go/cashu/nuts/nut06"
	"github.com/keychat-io/cashu-wallet-go/cashu/nuts/nut07"
	"github.com/keychat-io/cashu-wallet-go/cashu/nuts/nut09"
)

const defaultTimeout = 30 * time.Second

// Client is a MintClient bound to a single mint URL. The zero value is not
// usable; use New.
type Client struct {
	MintURL    string
	httpClient *http.Client

	infoMu   sync.Mutex
	mintInfo *nut06.MintInfo
}

// New returns a Client for mintURL. A zero timeout falls back to
// defaultTimeout.
func New(mintURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		MintURL:    mintURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetMintInfo returns the mint's /v1/info response, caching it after the
// first successful call. Use RefreshMintInfo to force a re-fetch, e.g. after
// a mint is known to have upgraded its supported NUTs.
func (c *Client) GetMintInfo(ctx context.Context) (*nut06.MintInfo, error) {
	c.infoMu.Lock()
	cached := c.mintInfo
	c.infoMu.Unlock()
	if cached != nil {
		return cached, nil
	}
	return c.RefreshMintInfo(ctx)
}

// RefreshMintInfo re-fetches /v1/info, replacing any cached value.
func (c *Client) RefreshMintInfo(ctx context.Context) (*nut06.MintInfo, error) {
	body, err := c.get(ctx, "/v1/info")
	if err != nil {
		return nil, err
	}

	var mintInfo nut06.MintInfo
	if err := json.Unmarshal(body, &mintInfo); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}

	c.infoMu.Lock()
	c.mintInfo = &mintInfo
	c.infoMu.Unlock()
	return &mintInfo, nil
}

func (c *Client) GetActiveKeysets(ctx context.Context) (*nut01.GetKeysResponse, error) {
	body, err := c.get(ctx, "/v1/keys")
	if err != nil {
		return nil, err
	}

	var keysetRes nut01.GetKeysResponse
	if err := json.Unmarshal(body, &keysetRes); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}
	return &keysetRes, nil
}

func (c *Client) GetAllKeysets(ctx context.Context) (*nut02.GetKeysetsResponse, error) {
	body, err := c.get(ctx, "/v1/keysets")
	if err != nil {
		return nil, err
	}

	var keysetsRes nut02.GetKeysetsResponse
	if err := json.Unmarshal(body, &keysetsRes); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}
	return &keysetsRes, nil
}

func (c *Client) GetKeysetById(ctx context.Context, id string) (*nut01.GetKeysResponse, error) {
	body, err := c.get(ctx, "/v1/keys/"+id)
	if err != nil {
		return nil, err
	}

	var keysetRes nut01.GetKeysResponse
	if err := json.Unmarshal(body, &keysetRes); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}
	return &keysetRes, nil
}

func (c *Client) PostMintQuoteBolt11(ctx context.Context, req nut04.PostMintQuoteBolt11Request) (
	*nut04.PostMintQuoteBolt11Response, error) {
	var res nut04.PostMintQuoteBolt11Response
	if err := c.postJSON(ctx, "/v1/mint/quote/bolt11", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) GetMintQuoteState(ctx context.Context, quoteId string) (*nut04.PostMintQuoteBolt11Response, error) {
	body, err := c.get(ctx, "/v1/mint/quote/bolt11/"+quoteId)
	if err != nil {
		return nil, err
	}

	var res nut04.PostMintQuoteBolt11Response
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}
	return &res, nil
}

func (c *Client) PostMintBolt11(ctx context.Context, req nut04.PostMintBolt11Request) (
	*nut04.PostMintBolt11Response, error) {
	var res nut04.PostMintBolt11Response
	if err := c.postJSON(ctx, "/v1/mint/bolt11", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) PostSwap(ctx context.Context, req nut03.PostSwapRequest) (*nut03.PostSwapResponse, error) {
	var res nut03.PostSwapResponse
	if err := c.postJSON(ctx, "/v1/swap", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) PostMeltQuoteBolt11(ctx context.Context, req nut05.PostMeltQuoteBolt11Request) (
	*nut05.PostMeltQuoteBolt11Response, error) {
	var res nut05.PostMeltQuoteBolt11Response
	if err := c.postJSON(ctx, "/v1/melt/quote/bolt11", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) GetMeltQuoteState(ctx context.Context, quoteId string) (*nut05.PostMeltQuoteBolt11Response, error) {
	body, err := c.get(ctx, "/v1/melt/quote/bolt11/"+quoteId)
	if err != nil {
		return nil, err
	}

	var res nut05.PostMeltQuoteBolt11Response
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("error reading response from mint: %v", err)
	}
	return &res, nil
}

func (c *Client) PostMeltBolt11(ctx context.Context, req nut05.PostMeltBolt11Request) (
	*nut05.PostMeltQuoteBolt11Response, error) {
	var res nut05.PostMeltQuoteBolt11Response
	if err := c.postJSON(ctx, "/v1/melt/bolt11", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) PostCheckProofState(ctx context.Context, req nut07.PostCheckStateRequest) (
	*nut07.PostCheckStateResponse, error) {
	var res nut07.PostCheckStateResponse
	if err := c.postJSON(ctx, "/v1/checkstate", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) PostRestore(ctx context.Context, req nut09.PostRestoreRequest) (
	*nut09.PostRestoreResponse, error) {
	var res nut09.PostRestoreResponse
	if err := c.postJSON(ctx, "/v1/restore", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.MintURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return parse(resp)
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("json.Marshal: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.MintURL+path, bytes.NewBuffer(requestBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := parse(resp)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("error reading response from mint: %v", err)
	}
	return nil
}

func parse(response *http.Response) ([]byte, error) {
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, err
	}

	if response.StatusCode == http.StatusBadRequest {
		var errResponse cashu.Error
		if err := json.Unmarshal(body, &errResponse); err != nil {
			return nil, fmt.Errorf("could not decode error response from mint: %v", err)
		}
		return nil, errResponse
	}

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected response from mint (%d): %s", response.StatusCode, body)
	}

	return body, nil
}
