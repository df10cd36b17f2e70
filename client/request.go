package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/filenio/sdk-go/types"
)

func (c *Client) gatewayURL(endpoint string) string {
	return c.cfg.GatewayURL + "/v3/" + endpoint
}

func (c *Client) setAuth(req *http.Request) error {
	key := c.APIKey()
	if key == "" {
		return ErrUnauthenticated
	}
	req.Header.Set("Authorization", "Bearer "+key)
	return nil
}

// decodeEnvelope parses the gateway response envelope, turning error
// envelopes into *APIError and internal_error envelopes into retries.
func decodeEnvelope(endpoint string, body []byte) (*types.Response, error) {
	var envelope types.Response
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrResponse, endpoint, err)
	}
	if !envelope.Status {
		apiErr := &APIError{Code: envelope.Code, Message: envelope.Message, Endpoint: endpoint}
		if envelope.Code == "internal_error" {
			return nil, retryable{apiErr}
		}
		return nil, apiErr
	}
	return &envelope, nil
}

// post sends a JSON body to a gateway endpoint and returns the decoded
// envelope. authed selects bearer authorization plus a request permit.
func (c *Client) post(ctx context.Context, endpoint string, body any, authed bool) (*types.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", endpoint, err)
		}
	}

	if authed {
		release, err := c.acquire(ctx)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	var envelope *types.Response
	err := c.doRetry(ctx, endpoint,
		func() (*http.Request, error) {
			req, err := http.NewRequest(http.MethodPost, c.gatewayURL(endpoint), bytes.NewReader(payload))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/json")
			if authed {
				if err := c.setAuth(req); err != nil {
					return nil, err
				}
			}
			return req, nil
		},
		func(resp *http.Response) error {
			raw, err := io.ReadAll(resp.Body)
			if err != nil {
				return retryable{err}
			}
			envelope, err = decodeEnvelope(endpoint, raw)
			return err
		})
	if err != nil {
		return nil, err
	}
	return envelope, nil
}

// get sends an authorized GET to a gateway endpoint.
func (c *Client) get(ctx context.Context, endpoint string) (*types.Response, error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var envelope *types.Response
	err = c.doRetry(ctx, endpoint,
		func() (*http.Request, error) {
			req, err := http.NewRequest(http.MethodGet, c.gatewayURL(endpoint), nil)
			if err != nil {
				return nil, err
			}
			return req, c.setAuth(req)
		},
		func(resp *http.Response) error {
			raw, err := io.ReadAll(resp.Body)
			if err != nil {
				return retryable{err}
			}
			envelope, err = decodeEnvelope(endpoint, raw)
			return err
		})
	if err != nil {
		return nil, err
	}
	return envelope, nil
}

// Post sends an unauthenticated JSON request and decodes data into T.
func Post[T any](ctx context.Context, c *Client, endpoint string, body any) (*T, error) {
	envelope, err := c.post(ctx, endpoint, body, false)
	if err != nil {
		return nil, err
	}
	return decodeData[T](endpoint, envelope)
}

// PostAuthed sends an authorized JSON request and decodes data into T.
func PostAuthed[T any](ctx context.Context, c *Client, endpoint string, body any) (*T, error) {
	envelope, err := c.post(ctx, endpoint, body, true)
	if err != nil {
		return nil, err
	}
	return decodeData[T](endpoint, envelope)
}

// PostAuthedEmpty sends an authorized JSON request, ignoring any data.
func PostAuthedEmpty(ctx context.Context, c *Client, endpoint string, body any) error {
	_, err := c.post(ctx, endpoint, body, true)
	return err
}

// GetAuthed sends an authorized GET and decodes data into T.
func GetAuthed[T any](ctx context.Context, c *Client, endpoint string) (*T, error) {
	envelope, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return decodeData[T](endpoint, envelope)
}

func decodeData[T any](endpoint string, envelope *types.Response) (*T, error) {
	var data T
	if len(envelope.Data) == 0 {
		return &data, nil
	}
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: %s data: %v", ErrResponse, endpoint, err)
	}
	return &data, nil
}

// msgpackEnvelope mirrors types.Response for the msgpack wire format of
// endpoints flagged "large".
type msgpackEnvelope struct {
	Status  bool               `msgpack:"status"`
	Code    string             `msgpack:"code"`
	Message string             `msgpack:"message"`
	Data    msgpack.RawMessage `msgpack:"data"`
}

// PostAuthedMsgpack sends an authorized msgpack request to a "large"
// endpoint and decodes the msgpack data into T.
func PostAuthedMsgpack[T any](ctx context.Context, c *Client, endpoint string, body any) (*T, error) {
	payload, err := msgpack.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", endpoint, err)
	}

	release, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var data T
	err = c.doRetry(ctx, endpoint,
		func() (*http.Request, error) {
			req, err := http.NewRequest(http.MethodPost, c.gatewayURL(endpoint), bytes.NewReader(payload))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/msgpack")
			req.Header.Set("Accept", "application/msgpack")
			return req, c.setAuth(req)
		},
		func(resp *http.Response) error {
			raw, err := io.ReadAll(resp.Body)
			if err != nil {
				return retryable{err}
			}
			var envelope msgpackEnvelope
			if err := msgpack.Unmarshal(raw, &envelope); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrResponse, endpoint, err)
			}
			if !envelope.Status {
				apiErr := &APIError{Code: envelope.Code, Message: envelope.Message, Endpoint: endpoint}
				if envelope.Code == "internal_error" {
					return retryable{apiErr}
				}
				return apiErr
			}
			if len(envelope.Data) == 0 {
				return nil
			}
			if err := msgpack.Unmarshal(envelope.Data, &data); err != nil {
				return fmt.Errorf("%w: %s data: %v", ErrResponse, endpoint, err)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return &data, nil
}
