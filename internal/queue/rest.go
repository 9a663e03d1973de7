// File: internal/queue/rest.go
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ecochain/eco-relayer/internal/models"
	"github.com/ecochain/eco-relayer/pkg/utils"
)

// RESTQueue is the managed backend: a Redis-compatible key-value service that accepts commands
// as JSON arrays POSTed to its REST endpoint with a bearer token.
type RESTQueue struct {
	url        string
	token      string
	key        string
	timeout    time.Duration
	httpClient *http.Client
}

type restResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// NewRESTQueue creates a queue over the REST endpoint at url
func NewRESTQueue(url, token, key string, requestTimeout time.Duration) *RESTQueue {
	if key == "" {
		key = DefaultKey
	}
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}
	return &RESTQueue{
		url:     strings.TrimRight(url, "/"),
		token:   token,
		key:     key,
		timeout: requestTimeout,
		// deadlines come from the request context so blocking pops can outlive timeout
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// Enqueue pushes job on the head of the list
func (q *RESTQueue) Enqueue(ctx context.Context, job *models.MintJob) error {
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	_, err = q.command(ctx, 0, "LPUSH", q.key, payload)
	return err
}

// DequeueOne pops from the tail, blocking server-side for up to timeout. A timeout below one
// second performs a non-blocking pop.
func (q *RESTQueue) DequeueOne(ctx context.Context, timeout time.Duration) (*models.MintJob, error) {
	seconds := int(timeout / time.Second)

	if seconds < 1 {
		result, err := q.command(ctx, 0, "RPOP", q.key)
		if err != nil || isNull(result) {
			return nil, err
		}
		var payload string
		if err := json.Unmarshal(result, &payload); err != nil {
			return nil, utils.WrapAppError(utils.ErrCodeConnection, "Unexpected RPOP reply", err)
		}
		return decodePayload(payload)
	}

	result, err := q.command(ctx, timeout, "BRPOP", q.key, strconv.Itoa(seconds))
	if err != nil || isNull(result) {
		return nil, err
	}
	// BRPOP replies with [key, value]
	var pair []string
	if err := json.Unmarshal(result, &pair); err != nil || len(pair) != 2 {
		return nil, utils.NewAppError(utils.ErrCodeConnection, "Unexpected BRPOP reply", string(result))
	}
	return decodePayload(pair[1])
}

// Name identifies the backend
func (q *RESTQueue) Name() string { return "rest" }

// Close releases idle connections
func (q *RESTQueue) Close() error {
	q.httpClient.CloseIdleConnections()
	return nil
}

func (q *RESTQueue) command(ctx context.Context, wait time.Duration, args ...string) (json.RawMessage, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeInternal, "Failed to encode queue command", err)
	}

	ctx, cancel := context.WithTimeout(ctx, q.timeout+wait)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.url, bytes.NewReader(body))
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeConfiguration, "Invalid queue endpoint", err)
	}
	req.Header.Set("Authorization", "Bearer "+q.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeConnection, fmt.Sprintf("Queue %s request failed", args[0]), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeConnection, "Failed to read queue response", err)
	}

	var reply restResponse
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConnection,
			fmt.Sprintf("Queue %s returned HTTP %d", args[0], resp.StatusCode), string(data))
	}
	if reply.Error != "" || resp.StatusCode >= 300 {
		return nil, utils.NewAppError(utils.ErrCodeConnection,
			fmt.Sprintf("Queue %s failed with HTTP %d", args[0], resp.StatusCode), reply.Error)
	}
	return reply.Result, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
