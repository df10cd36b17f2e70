package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// UploadChunk posts one encrypted chunk to the ingest node. The body is
// raw ciphertext; routing data travels in the query string. The
// response carries the region and bucket assigned to the file.
func (c *Client) UploadChunk(ctx context.Context, fileUUID string, index int64, parent, uploadKey string, body []byte) (region, bucket string, err error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return "", "", err
	}
	defer release()

	endpoint := "upload/chunk/buffer"
	query := url.Values{
		"uuid":      {fileUUID},
		"index":     {strconv.FormatInt(index, 10)},
		"parent":    {parent},
		"uploadKey": {uploadKey},
	}
	target := c.cfg.IngestURL + "/v3/upload/chunk/buffer?" + query.Encode()

	err = c.doRetry(ctx, endpoint,
		func() (*http.Request, error) {
			req, err := http.NewRequest(http.MethodPost, target, bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/octet-stream")
			return req, c.setAuth(req)
		},
		func(resp *http.Response) error {
			raw, err := io.ReadAll(resp.Body)
			if err != nil {
				return retryable{err}
			}
			envelope, err := decodeEnvelope(endpoint, raw)
			if err != nil {
				return err
			}
			if len(envelope.Data) > 0 {
				var data struct {
					Region string `json:"region"`
					Bucket string `json:"bucket"`
				}
				if err := json.Unmarshal(envelope.Data, &data); err != nil {
					return fmt.Errorf("%w: %s data: %v", ErrResponse, endpoint, err)
				}
				region, bucket = data.Region, data.Bucket
			}
			return nil
		})
	if err != nil {
		return "", "", err
	}
	return region, bucket, nil
}

// DownloadChunk fetches one encrypted chunk from the egest node. When
// the storage node serves a compressed body it reports the true
// ciphertext length in X-Cl; the chunk is trimmed to it.
func (c *Client) DownloadChunk(ctx context.Context, region, bucket, fileUUID string, index int64) ([]byte, error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	endpoint := fmt.Sprintf("%s/%s/%s/%d", region, bucket, fileUUID, index)
	target := c.cfg.EgestURL + "/" + endpoint

	var chunk []byte
	err = c.doRetry(ctx, endpoint,
		func() (*http.Request, error) {
			return http.NewRequest(http.MethodGet, target, nil)
		},
		func(resp *http.Response) error {
			if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
				return fmt.Errorf("chunk download %s: status %d", endpoint, resp.StatusCode)
			}
			raw, err := io.ReadAll(resp.Body)
			if err != nil {
				return retryable{err}
			}
			if cl := resp.Header.Get("X-Cl"); cl != "" {
				trueLen, err := strconv.Atoi(cl)
				if err == nil && trueLen >= 0 && trueLen < len(raw) {
					raw = raw[:trueLen]
				}
			}
			chunk = raw
			return nil
		})
	if err != nil {
		return nil, err
	}
	return chunk, nil
}
