// File: internal/server/server_test.go
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecochain/eco-relayer/internal/auth"
	"github.com/ecochain/eco-relayer/internal/chain"
	"github.com/ecochain/eco-relayer/internal/config"
	"github.com/ecochain/eco-relayer/internal/ledger"
	"github.com/ecochain/eco-relayer/internal/metrics"
	"github.com/ecochain/eco-relayer/internal/models"
	"github.com/ecochain/eco-relayer/internal/queue"
	"github.com/ecochain/eco-relayer/internal/relay"
	"github.com/ecochain/eco-relayer/internal/storage"
	"github.com/ecochain/eco-relayer/internal/storage/storagetest"
	"github.com/ecochain/eco-relayer/internal/timeline"
	"github.com/ecochain/eco-relayer/pkg/utils"
)

const cronSecret = "cron-secret"

// stubGateway accepts every write once per order
type stubGateway struct {
	minted       map[common.Hash]bool
	attestations map[string]common.Hash
	mintErr      error
}

func (g *stubGateway) IsMinted(_ context.Context, key common.Hash) (bool, error) {
	return g.minted[key], nil
}

func (g *stubGateway) CreateAttestation(_ context.Context, req *chain.AttestationRequest) (common.Hash, error) {
	id := crypto.Keccak256Hash([]byte(req.OrderID))
	g.attestations[req.OrderID] = id
	return id, nil
}

func (g *stubGateway) LookupAttestation(_ context.Context, orderID string) (common.Hash, bool, error) {
	id, ok := g.attestations[orderID]
	return id, ok, nil
}

func (g *stubGateway) Mint(_ context.Context, req *chain.MintRequest) (*types.Receipt, error) {
	if g.mintErr != nil {
		return nil, g.mintErr
	}
	g.minted[chain.OrderKeyHash(req.OrderID)] = true
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: crypto.Keccak256Hash([]byte("tx:" + req.OrderID)), BlockNumber: big.NewInt(1)}, nil
}

func (g *stubGateway) MarkProcessed(context.Context, common.Hash, common.Hash) error {
	return nil
}

type stubHealth struct{ err error }

func (h stubHealth) HealthCheck(context.Context) error { return h.err }

type testEnv struct {
	store   storage.Storage
	gateway *stubGateway
	redis   *miniredis.Miniredis
	auth    *auth.Authenticator
	handler http.Handler
	token   string
}

func newTestEnv(t *testing.T) *testEnv {
	utils.InitLogger("error", "text", "stdout", "")

	store := storagetest.New(t)
	recorder := timeline.NewRecorder(store)
	l := ledger.New(store, recorder)

	mr := miniredis.RunT(t)
	q, err := queue.NewRedisQueue("redis://"+mr.Addr(), queue.DefaultKey)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	manager := metrics.NewManager()
	gw := &stubGateway{minted: map[common.Hash]bool{}, attestations: map[string]common.Hash{}}
	orch := relay.NewOrchestrator(gw, q, l, recorder, manager.GetPrometheusMetrics(), 0)
	orch.EnableDeferredRetry(true)
	drainer := relay.NewDrainer(orch, 0, manager.GetPrometheusMetrics())

	authenticator := auth.NewAuthenticator("jwt-secret", time.Hour)
	token, err := authenticator.Issue("user-1", storagetest.UserAddress)
	require.NoError(t, err)

	srv, err := NewHTTPServer(&config.ServerConfig{Host: "127.0.0.1", Port: 0, EnableMetrics: true}, Dependencies{
		Storage:        store,
		Ledger:         l,
		Orchestrator:   orch,
		Sweeper:        relay.NewSweeper(store, orch, drainer, config.RelayConfig{DrainMaxJobs: 10}),
		Auth:           authenticator,
		Chain:          stubHealth{},
		QueueName:      q.Name(),
		CronSecret:     cronSecret,
		Version:        "test",
		MetricsManager: manager,
	})
	require.NoError(t, err)

	return &testEnv{store: store, gateway: gw, redis: mr, auth: authenticator, handler: srv.Handler(), token: token}
}

func (e *testEnv) do(t *testing.T, method, path, bearer string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func verifyBody(weight float64) map[string]interface{} {
	return map[string]interface{}{"otp": "123456", "evidenceCID": "bafyevidence", "actualWeight": weight}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	components := body["components"].(map[string]interface{})
	assert.Equal(t, true, components["storage"])
	assert.Equal(t, "redis", components["queue"])
}

func TestOrderRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)
	order := storagetest.SeedOrder(t, env.store)

	rec, _ := env.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/verify", "", verifyBody(2.8))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := env.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/verify", "not-a-token", verifyBody(2.8))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, utils.ErrCodeAuth, body["code"])
}

func TestVerifyMintsInline(t *testing.T) {
	env := newTestEnv(t)
	order := storagetest.SeedOrder(t, env.store)

	rec, body := env.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/verify", env.token, verifyBody(2.8))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["success"])

	got := body["order"].(map[string]interface{})
	assert.Equal(t, string(models.StatusCompleted), got["status"])
	assert.InDelta(t, 2.8, got["creditsMinted"], 1e-9)
	assert.NotEmpty(t, got["txHash"])
}

func TestVerifyRejections(t *testing.T) {
	env := newTestEnv(t)
	order := storagetest.SeedOrder(t, env.store)

	bad := verifyBody(2.8)
	bad["otp"] = "123999"
	rec, _ := env.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/verify", env.token, bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/orders/missing/verify", env.token, verifyBody(2.8))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+order.ID+"/verify", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+env.token)
	raw := httptest.NewRecorder()
	env.handler.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)

	stored, err := env.store.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPickedUp, stored.Status)
}

func TestVerifyDefersFailedMint(t *testing.T) {
	env := newTestEnv(t)
	order := storagetest.SeedOrder(t, env.store)
	env.gateway.mintErr = utils.NewAppError(utils.ErrCodeChainCall, "confirmation timed out")

	rec, body := env.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/verify", env.token, verifyBody(3))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(models.StatusCancelled), body["order"].(map[string]interface{})["status"])

	items, err := env.redis.List(queue.DefaultKey)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	env.gateway.mintErr = nil
	rec, body = env.do(t, http.MethodPost, "/api/v1/relayer", cronSecret, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["processed"])

	stored, err := env.store.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
}

func TestMintRoute(t *testing.T) {
	env := newTestEnv(t)

	t.Run("not verified", func(t *testing.T) {
		order := storagetest.SeedOrder(t, env.store)
		rec, _ := env.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/mint", env.token, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing", func(t *testing.T) {
		rec, _ := env.do(t, http.MethodPost, "/api/v1/orders/missing/mint", env.token, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("chain failure", func(t *testing.T) {
		order := storagetest.SeedOrder(t, env.store,
			storagetest.WithStatus(models.StatusVerified),
			storagetest.WithEvidence("bafyevidence"),
			storagetest.WithWeights(storagetest.Float(2), storagetest.Float(2)))
		env.gateway.mintErr = utils.WrapAppError(utils.ErrCodeChainCall, "mint reverted", errors.New("execution reverted"))

		rec, body := env.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/mint", env.token, nil)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, utils.ErrCodeChainCall, body["code"])

		env.gateway.mintErr = nil
		rec, body = env.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/mint", env.token, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, string(models.StatusCompleted), body["order"].(map[string]interface{})["status"])

		rec, _ = env.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/mint", env.token, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "completed orders are rejected")
	})
}

func TestTimelineRoute(t *testing.T) {
	env := newTestEnv(t)
	order := storagetest.SeedOrder(t, env.store)

	rec, _ := env.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/verify", env.token, verifyBody(2))
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := env.do(t, http.MethodGet, "/api/v1/orders/"+order.ID+"/timeline", env.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	events := body["timeline"].([]interface{})
	require.Len(t, events, 4)
	var types []string
	for _, e := range events {
		types = append(types, e.(map[string]interface{})["type"].(string))
	}
	assert.Equal(t, []string{"VERIFIED", "MINTING", "MINTED", "COMPLETED"}, types)
}

func TestLeaderboardRoute(t *testing.T) {
	env := newTestEnv(t)

	// leaderboard data comes from orders minted through the verify route
	for _, weight := range []float64{2.8, 6} {
		order := storagetest.SeedOrder(t, env.store)
		rec, _ := env.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/verify", env.token, verifyBody(weight))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec, body := env.do(t, http.MethodGet, "/api/v1/leaderboard?limit=1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	entries := body["leaderboard"].([]interface{})
	require.Len(t, entries, 1)
	top := entries[0].(map[string]interface{})
	assert.Equal(t, 1.0, top["rank"])
	assert.InDelta(t, 6, top["totalCredits"], 1e-9)
	assert.Equal(t, "0x1111...1111", top["displayAddress"])
	assert.Equal(t, true, body["pagination"].(map[string]interface{})["hasMore"])
	assert.InDelta(t, 8.8, body["globalStats"].(map[string]interface{})["totalCredits"], 1e-9)

	rec, body = env.do(t, http.MethodGet, "/api/v1/leaderboard?limit=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, utils.ErrCodeValidation, body["code"])
}

func TestProgressRoute(t *testing.T) {
	env := newTestEnv(t)

	user := storagetest.SeedUser(t, env.store, "recycler")
	storagetest.SeedOrder(t, env.store, storagetest.WithUser(user.ID), storagetest.WithCompletion(4, "0x1"),
		storagetest.WithWeights(nil, storagetest.Float(4)))

	rec, _ := env.do(t, http.MethodGet, "/api/v1/progress", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := env.auth.Issue(user.ID, user.Address)
	require.NoError(t, err)

	rec, body := env.do(t, http.MethodGet, "/api/v1/progress", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, user.ID, body["userId"])

	stats := body["stats"].(map[string]interface{})
	assert.Equal(t, 1.0, stats["totalOrders"])
	assert.InDelta(t, 4, stats["totalCredits"], 1e-9)
	assert.Equal(t, 1.0, stats["rank"])
	assert.Equal(t, []interface{}{"First Waste Recycled!"}, body["achievements"])
}

func TestOperationalRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/api/v1/relayer", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/relayer", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := env.do(t, http.MethodPost, "/api/v1/relayer", cronSecret, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["processed"])

	rec, body = env.do(t, http.MethodPost, "/api/v1/background", cronSecret, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Contains(t, body, "tasks")
}

func TestRelayerReportsUnavailableQueue(t *testing.T) {
	env := newTestEnv(t)
	env.redis.Close()

	rec, body := env.do(t, http.MethodPost, "/api/v1/relayer", cronSecret, nil)
	assert.GreaterOrEqual(t, rec.Code, http.StatusInternalServerError)
	assert.Contains(t, body, "error")
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/api/v1/health", "", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `relayer_http_requests_total{method="GET",path="/api/v1/health",status="200"} 1`)
}

func TestStatusFor(t *testing.T) {
	cases := map[string]int{
		utils.ErrCodeValidation:       http.StatusBadRequest,
		utils.ErrCodeInvalidState:     http.StatusBadRequest,
		utils.ErrCodeNotFound:         http.StatusNotFound,
		utils.ErrCodeAuth:             http.StatusUnauthorized,
		utils.ErrCodeChainCall:        http.StatusBadGateway,
		utils.ErrCodeQueueUnavailable: http.StatusServiceUnavailable,
		utils.ErrCodeDatabase:         http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, statusFor(utils.NewAppError(code, "x")), code)
	}
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("plain")))
}
