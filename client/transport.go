// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

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
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/erigontech/pqservice/partition"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	defaultMaxRetries  = 4
)

// transport is the HTTP edge underneath Client: one retryablehttp.Client
// handles connection-level retries (dial failures, 5xx, timeouts), with
// its attempt budget set by maxRetries and the wait between attempts
// taken from a cenkalti/backoff exponential policy.
type transport struct {
	httpTimeout time.Duration
	maxRetries  int
	http        *retryablehttp.Client
}

func newTransport() *transport {
	t := &transport{
		httpTimeout: defaultHTTPTimeout,
		maxRetries:  defaultMaxRetries,
	}
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = defaultMaxRetries
	rc.CheckRetry = checkRetry
	rc.Backoff = backoffFromExponential
	t.http = rc
	return t
}

// checkRetry retries on transport errors and 5xx/429, never on a 4xx the
// server returned deliberately (400-417 are protocol-level rejections the
// retry policy section treats as terminal).
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return true, nil
	}
	if resp.StatusCode >= 500 {
		return true, nil
	}
	return false, nil
}

// backoffFromExponential adapts a cenkalti/backoff exponential policy to
// the (min, max, attempt) -> time.Duration shape retryablehttp expects.
func backoffFromExponential(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = min
	eb.MaxInterval = max
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.2
	var d time.Duration
	for i := 0; i <= attemptNum; i++ {
		d = eb.NextBackOff()
	}
	if d <= 0 || d == backoff.Stop {
		return max
	}
	return d
}

func (t *transport) do(ctx context.Context, method, rawURL string, body io.Reader) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.httpTimeout*time.Duration(t.maxRetries+1))
	defer cancel()

	var rc io.ReadCloser
	if body != nil {
		rc = io.NopCloser(body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, rawURL, rc)
	if err != nil {
		return nil, partition.WrapError(partition.KindFatal, err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, partition.WrapError(partition.KindTransient, err, "%s %s", method, rawURL)
	}
	return resp, nil
}

// decodeInto reads resp into out (skipped when out is nil, e.g. a
// delete-not-found response whose body is the JSON literal null). A
// non-2xx response is translated into a partition.Error carrying the
// Kind the server reported, so Client callers can tell a NotPrimary
// rejection from a permanent ArgumentInvalid one.
func decodeInto(resp *http.Response, out any) error {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return partition.WrapError(partition.KindTransient, err, "read response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var body struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		}
		if jsonErr := json.Unmarshal(data, &body); jsonErr != nil || body.Kind == "" {
			return partition.NewError(partition.KindFatal, "unexpected status %d: %s", resp.StatusCode, string(data))
		}
		return partition.NewError(partition.ParseKind(body.Kind), "%s", body.Message)
	}
	if out == nil {
		return nil
	}
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return partition.WrapError(partition.KindFatal, err, "decode response body")
	}
	return nil
}

func (t *transport) postJSON(ctx context.Context, endpoint string, band int32, leaseSeconds, expirationMinutes int, payloads []json.RawMessage, out *[]partition.QueueItem) error {
	buf, err := json.Marshal(payloads)
	if err != nil {
		return partition.WrapError(partition.KindArgumentInvalid, err, "encode enqueue payloads")
	}
	q := url.Values{}
	q.Set("leaseSeconds", strconv.Itoa(leaseSeconds))
	q.Set("expirationMinutes", strconv.Itoa(expirationMinutes))
	u := fmt.Sprintf("%s/api/%d?%s", endpoint, band, q.Encode())
	resp, err := t.do(ctx, http.MethodPost, u, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	return decodeInto(resp, out)
}

func (t *transport) getDequeue(ctx context.Context, endpoint string, count int, startBand, endBand int32, out *[]partition.QueueItem) error {
	q := url.Values{}
	q.Set("count", strconv.Itoa(count))
	q.Set("startqueue", strconv.Itoa(int(startBand)))
	q.Set("endqueue", strconv.Itoa(int(endBand)))
	u := fmt.Sprintf("%s/api/?%s", endpoint, q.Encode())
	resp, err := t.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return decodeInto(resp, out)
}

func (t *transport) deleteItem(ctx context.Context, endpoint string, key partition.ItemKey, out *partition.QueueItem) (bool, error) {
	u := fmt.Sprintf("%s/api/%s", endpoint, key.Hex())
	resp, err := t.do(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, partition.WrapError(partition.KindTransient, err, "read response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var body struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		}
		if jsonErr := json.Unmarshal(data, &body); jsonErr != nil || body.Kind == "" {
			return false, partition.NewError(partition.KindFatal, "unexpected status %d: %s", resp.StatusCode, string(data))
		}
		return false, partition.NewError(partition.ParseKind(body.Kind), "%s", body.Message)
	}
	if len(data) == 0 || string(bytes.TrimSpace(data)) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, partition.WrapError(partition.KindFatal, err, "decode response body")
	}
	return true, nil
}

func (t *transport) putExtend(ctx context.Context, endpoint string, duration time.Duration, keys []partition.ItemKey, out *[]bool) error {
	buf, err := json.Marshal(keys)
	if err != nil {
		return partition.WrapError(partition.KindArgumentInvalid, err, "encode item keys")
	}
	q := url.Values{}
	q.Set("leaseSeconds", strconv.Itoa(int(duration/time.Second)))
	u := fmt.Sprintf("%s/api/?%s", endpoint, q.Encode())
	resp, err := t.do(ctx, http.MethodPut, u, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	return decodeInto(resp, out)
}

func (t *transport) getCount(ctx context.Context, endpoint string, selector int32) (uint64, error) {
	q := url.Values{}
	q.Set("queue", strconv.Itoa(int(selector)))
	u := fmt.Sprintf("%s/api/count?%s", endpoint, q.Encode())
	resp, err := t.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	var n uint64
	if err := decodeInto(resp, &n); err != nil {
		return 0, err
	}
	return n, nil
}
