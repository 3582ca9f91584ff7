package api

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tfkr-ae/orderproc"
	"github.com/tfkr-ae/orderproc/analytics"
	"github.com/tfkr-ae/orderproc/db"
	"github.com/tfkr-ae/orderproc/domain"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testEnv struct {
	svc     *orderproc.Service
	repo    *db.Repository
	handler http.Handler
}

func newTestEnv(t *testing.T, svcOptions ...func(*orderproc.Service) error) *testEnv {
	t.Helper()
	dbConn, err := db.New(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	repo := db.NewRepository(dbConn)

	svc, err := orderproc.New(append([]func(*orderproc.Service) error{orderproc.WithRepo(repo)}, svcOptions...)...)
	require.NoError(t, err)

	server, err := New(svc)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, svc.Close())
		require.NoError(t, repo.Close())
	})
	return &testEnv{svc: svc, repo: repo, handler: server.Handler()}
}

func (env *testEnv) do(t *testing.T, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (env *testEnv) seed(t *testing.T, orderNumbers ...string) []*domain.Order {
	t.Helper()
	orders := make([]*domain.Order, 0, len(orderNumbers))
	for _, n := range orderNumbers {
		order, err := env.svc.ProcessOrder(context.Background(), &domain.Order{
			OrderNumber: n,
			TotalAmount: decimal.RequireFromString("10.00"),
			CustomerID:  "CUST-1",
			ProductID:   "PROD-1",
			Quantity:    1,
		})
		require.NoError(t, err)
		orders = append(orders, order)
	}
	return orders
}

func TestCreateOrder(t *testing.T) {
	env := newTestEnv(t)

	t.Run("should process a new order", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/orders",
			`{"orderNumber":"ORD-1","totalAmount":"19.99","customerId":"C-1","productId":"P-1","quantity":1}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		order := decode[domain.Order](t, rec)
		assert.NotZero(t, order.ID)
		assert.Equal(t, domain.StatusProcessing, order.Status)
		assert.Equal(t, "19.99", order.TotalAmount.StringFixed(2))
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})

	t.Run("should reject invalid orders", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/orders", `{"orderNumber":""}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		body := decode[errorResponse](t, rec)
		assert.Equal(t, http.StatusBadRequest, body.Status)
		assert.Contains(t, body.Error, "order number is required")
	})

	t.Run("should reject malformed json", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/orders", `{"orderNumber":`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("should classify errors in analytics", func(t *testing.T) {
		errs := env.svc.Analytics.Errors()
		require.Len(t, errs, 1)
		assert.Equal(t, analytics.ErrorCount{Type: analytics.KindValidation, Count: 2}, errs[0])
	})
}

func TestCreateBatch(t *testing.T) {
	env := newTestEnv(t)

	t.Run("should accept a json array", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/orders/batch",
			`[{"orderNumber":"A-1","totalAmount":"1"},{"orderNumber":"A-2","totalAmount":"2"}]`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		orders := decode[[]domain.Order](t, rec)
		require.Len(t, orders, 2)
		assert.Equal(t, domain.StatusProcessing, orders[1].Status)
	})

	t.Run("should accept ndjson", func(t *testing.T) {
		body := "{\"orderNumber\":\"N-1\",\"totalAmount\":\"1\"}\n{\"orderNumber\":\"N-2\",\"totalAmount\":\"2\"}\n\n{\"orderNumber\":\"N-3\",\"totalAmount\":\"3\"}\n"
		rec := env.do(t, http.MethodPost, "/api/orders/batch", body, "Content-Type", "text/plain")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		orders := decode[[]domain.Order](t, rec)
		assert.Len(t, orders, 3)
	})

	t.Run("should report the line of a bad ndjson order", func(t *testing.T) {
		body := "{\"orderNumber\":\"X-1\"}\n{broken\n"
		rec := env.do(t, http.MethodPost, "/api/orders/batch", body, "Content-Type", "application/x-ndjson")
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decode[errorResponse](t, rec).Error, "line 2")
	})

	t.Run("should reject empty batches", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/orders/batch", `[]`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("should reject the whole batch on an invalid order", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/orders/batch", `[{"orderNumber":"V-1"},{"orderNumber":""}]`)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		rec = env.do(t, http.MethodGet, "/api/orders/number/V-1", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestOrderLookup(t *testing.T) {
	env := newTestEnv(t)
	orders := env.seed(t, "L-1", "L-2")

	t.Run("should get by id", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, fmt.Sprintf("/api/orders/%d", orders[0].ID), "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "L-1", decode[domain.Order](t, rec).OrderNumber)
	})

	t.Run("should get by order number", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/orders/number/L-2", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, orders[1].ID, decode[domain.Order](t, rec).ID)
	})

	t.Run("should return 404 for missing orders", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/orders/999", "")
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, http.StatusNotFound, decode[errorResponse](t, rec).Status)
	})

	t.Run("should return 400 for bad ids", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/orders/abc", "")
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestListOrders(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "APPLE-1", "APPLE-2", "PEAR-1")

	t.Run("should page orders", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/orders?page=0&size=2", "")
		require.Equal(t, http.StatusOK, rec.Code)
		page := decode[domain.Page[domain.Order]](t, rec)
		assert.Equal(t, 3, page.TotalElements)
		assert.Equal(t, 2, page.TotalPages)
		assert.Len(t, page.Content, 2)
	})

	t.Run("should search case insensitively", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/orders?search=apple", "")
		require.Equal(t, http.StatusOK, rec.Code)
		page := decode[domain.Page[domain.Order]](t, rec)
		assert.Equal(t, 2, page.TotalElements)
	})

	t.Run("should clamp the page size", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/orders?size=1000", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, domain.MaxPageSize, decode[domain.Page[domain.Order]](t, rec).Size)
	})

	t.Run("should reject unknown statuses", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/orders?status=LOST", "")
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUpdateAndDelete(t *testing.T) {
	env := newTestEnv(t)
	orders := env.seed(t, "U-1")
	target := fmt.Sprintf("/api/orders/%d", orders[0].ID)

	t.Run("should update the status", func(t *testing.T) {
		rec := env.do(t, http.MethodPut, target+"/status?status=completed", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		order := decode[domain.Order](t, rec)
		assert.Equal(t, domain.StatusCompleted, order.Status)
		assert.Equal(t, orders[0].Version+1, order.Version)
	})

	t.Run("should require a status", func(t *testing.T) {
		rec := env.do(t, http.MethodPut, target+"/status", "")
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("should delete the order", func(t *testing.T) {
		rec := env.do(t, http.MethodDelete, target, "")
		require.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Body.Bytes())

		rec = env.do(t, http.MethodGet, target, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = env.do(t, http.MethodDelete, target, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestStreamOrders(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "S-1", "S-2", "S-3")

	t.Run("should stream stored orders and finish", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/orders/stream?limit=2", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

		events := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
		require.Len(t, events, 2)
		var order domain.Order
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(events[0], "data: ")), &order))
		assert.Equal(t, "S-1", order.OrderNumber)
	})

	t.Run("should filter by status", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/orders/stream?status=COMPLETED", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, strings.TrimSpace(rec.Body.String()))
	})

	t.Run("should follow live orders until the client leaves", func(t *testing.T) {
		server := httptest.NewServer(env.handler)
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/orders/stream?status=PROCESSING&follow=true&limit=5", nil)
		require.NoError(t, err)
		res, err := server.Client().Do(req)
		require.NoError(t, err)
		defer res.Body.Close()

		reader := bufio.NewReader(res.Body)
		readOrder := func() domain.Order {
			for {
				line, err := reader.ReadString('\n')
				require.NoError(t, err)
				if data, ok := strings.CutPrefix(line, "data: "); ok {
					var order domain.Order
					require.NoError(t, json.Unmarshal([]byte(data), &order))
					return order
				}
			}
		}
		for range 3 {
			readOrder()
		}

		env.seed(t, "LIVE-1")
		assert.Equal(t, "LIVE-1", readOrder().OrderNumber)

		cancel()
	})
}

func TestStressEndpoints(t *testing.T) {
	env := newTestEnv(t, orderproc.WithStressLimits(50, 10, 2))

	t.Run("should run the legacy stress test synchronously", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/orders/stress-test?orderCount=20&batchSize=5", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		result := decode[domain.StressResult](t, rec)
		assert.Equal(t, domain.StressCompleted, result.Status)
		assert.Equal(t, 20, result.SuccessfulOrders)
	})

	t.Run("should reject legacy runs above the limit with 200", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/orders/stress-test?orderCount=51", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, rejection{Error: "Maximum 50 orders allowed for stress test", Status: "rejected"}, decode[rejection](t, rec))
	})

	t.Run("should reject empty legacy runs", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/orders/stress-test?orderCount=0", "")
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decode[errorResponse](t, rec).Error, "number of orders must be positive")
	})

	t.Run("should require orderCount on the legacy endpoint", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/orders/stress-test", "")
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("should reject async runs above the limit", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/stress-test", `{"numOrders":51,"batchSize":10}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		results := decode[testResults](t, rec)
		assert.False(t, results.Success)
		assert.Equal(t, "Maximum 50 orders allowed for stress test", results.Message)
	})

	t.Run("should return 404 when stopping with nothing running", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/stress-test/stop", "")
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("should start a run and report its status", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/stress-test",
			`{"numOrders":50,"batchSize":5,"delayBetweenBatches":100,"orderType":"COMPLEX"}`)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		started := decode[testResults](t, rec)
		assert.True(t, started.Success)
		require.NotNil(t, started.ID)

		rec = env.do(t, http.MethodPost, "/api/stress-test", `{"numOrders":5}`)
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "Another stress test is already running", decode[testResults](t, rec).Message)

		rec = env.do(t, http.MethodPost, "/api/orders/stress-test?orderCount=5", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "rejected", decode[rejection](t, rec).Status)

		rec = env.do(t, http.MethodGet, "/api/stress-test/status", "")
		require.Equal(t, http.StatusOK, rec.Code)
		status := decode[testStatus](t, rec)
		assert.True(t, status.IsRunning)

		rec = env.do(t, http.MethodPost, "/api/stress-test/stop", "")
		require.Equal(t, http.StatusOK, rec.Code)
		stopped := decode[testResults](t, rec)
		assert.Equal(t, "Stress test stopped by user", stopped.Message)
		require.NotNil(t, stopped.Metrics)

		rec = env.do(t, http.MethodGet, "/api/stress-test/status", "")
		status = decode[testStatus](t, rec)
		assert.False(t, status.IsRunning)
		require.NotNil(t, status.Results)
		assert.Equal(t, *started.ID, *status.Results.ID)
	})

	t.Run("should list the run history", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/stress-test/history?limit=10", "")
		require.Equal(t, http.StatusOK, rec.Code)
		runs := decode[[]domain.StressResult](t, rec)
		require.Len(t, runs, 2)
		assert.Equal(t, domain.StressStopped, runs[0].Status)
	})
}

func TestAnalyticsEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "AN-1", "AN-2")
	env.do(t, http.MethodGet, "/api/orders/404", "")

	t.Run("should return the dashboard view", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/analytics", "")
		require.Equal(t, http.StatusOK, rec.Code)
		data := decode[analytics.Data](t, rec)
		require.Len(t, data.Throughput, 1)
		assert.Equal(t, int64(2), data.Throughput[0].Orders)
		assert.Equal(t, int64(2), data.Metrics.PeakThroughput)
		assert.InDelta(t, 100.0, data.Metrics.SuccessRate, 0.001)
		assert.Equal(t, []analytics.ErrorCount{{Type: analytics.KindNotFound, Count: 1}}, data.ErrorDistribution)
	})

	t.Run("should count observed requests", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/analytics/throughput", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(2), decode[analytics.Throughput](t, rec).TotalRequests)
		assert.Equal(t, int64(1), env.svc.Analytics.StatusCodes()[http.StatusNotFound])
	})

	t.Run("should serve every analytics view", func(t *testing.T) {
		for _, path := range []string{"latency", "errors", "bottlenecks", "summary", "events"} {
			rec := env.do(t, http.MethodGet, "/api/analytics/"+path, "")
			assert.Equal(t, http.StatusOK, rec.Code, path)
		}
	})

	t.Run("should summarise stored orders", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/analytics/summary", "")
		summary := decode[orderproc.Summary](t, rec)
		assert.Equal(t, 2, summary.TotalOrders)
		assert.Equal(t, "20.00", summary.TotalAmount)
	})

	t.Run("should report the status distribution", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/analytics/bottlenecks", "")
		bottlenecks := decode[orderproc.Bottlenecks](t, rec)
		assert.Equal(t, 2, bottlenecks.StatusDistribution[domain.StatusProcessing])
	})
}

func TestSystemEndpoints(t *testing.T) {
	env := newTestEnv(t)

	t.Run("should report UP", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/system/health", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "UP", decode[healthStatus](t, rec).Status)
	})

	t.Run("should report runtime stats", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/system/performance", "")
		require.Equal(t, http.StatusOK, rec.Code)
		perf := decode[orderproc.PerformanceStats](t, rec)
		assert.Positive(t, perf.AvailableProcessors)
		assert.Positive(t, perf.Goroutines)

		rec = env.do(t, http.MethodGet, "/api/system/memory", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Positive(t, decode[orderproc.MemoryStats](t, rec).HeapUsed)
	})

	t.Run("should report DOWN when the database is gone", func(t *testing.T) {
		require.NoError(t, env.repo.Close())
		rec := env.do(t, http.MethodGet, "/api/system/health", "")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "DOWN", decode[healthStatus](t, rec).Status)
	})
}

func TestMiddleware(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "M-1")

	t.Run("should answer CORS preflight", func(t *testing.T) {
		rec := env.do(t, http.MethodOptions, "/api/orders", "",
			"Origin", "http://localhost:3000", "Access-Control-Request-Method", "POST")
		require.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PUT")
	})

	t.Run("should compress with brotli", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/orders", "", "Accept-Encoding", "br")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "br", rec.Header().Get("Content-Encoding"))
		assert.ElementsMatch(t, []string{"Origin", "Accept-Encoding"}, rec.Header().Values("Vary"))

		body, err := io.ReadAll(brotli.NewReader(rec.Body))
		require.NoError(t, err)
		assert.Contains(t, string(body), "M-1")
	})

	t.Run("should fall back to gzip", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/orders", "", "Accept-Encoding", "gzip")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
		assert.Contains(t, rec.Header().Values("Vary"), "Accept-Encoding")

		reader, err := gzip.NewReader(rec.Body)
		require.NoError(t, err)
		body, err := io.ReadAll(reader)
		require.NoError(t, err)
		assert.Contains(t, string(body), "M-1")
	})

	t.Run("should not compress bodiless responses", func(t *testing.T) {
		rec := env.do(t, http.MethodDelete, "/api/orders/1", "", "Accept-Encoding", "gzip")
		require.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Header().Get("Content-Encoding"))
		assert.Empty(t, rec.Body.Bytes())
	})

	t.Run("should return json for unknown routes", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/unknown", "")
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "route not found", decode[errorResponse](t, rec).Error)
	})

	t.Run("should reject oversized bodies", func(t *testing.T) {
		server, err := New(env.svc, WithMaxBodyBytes(16))
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(`{"orderNumber":"TOO-LONG-FOR-THE-LIMIT"}`))
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

func TestDecodeBatchSniffing(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
		want        int
		wantErr     bool
	}{
		{name: "json array", body: `[{"orderNumber":"1"}]`, contentType: "application/json", want: 1},
		{name: "ndjson by header", body: "{\"orderNumber\":\"1\"}\n{\"orderNumber\":\"2\"}", contentType: "application/x-ndjson", want: 2},
		{name: "ndjson sniffed", body: "{\"orderNumber\":\"1\"}\n{\"orderNumber\":\"2\"}\n", want: 2},
		{name: "single object", body: `{"orderNumber":"1"}`, want: 1},
		{name: "garbage", body: "hello", wantErr: true},
		{name: "empty", body: "  ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders, err := decodeBatch([]byte(tt.body), tt.contentType)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, http.StatusBadRequest, statusFor(err))
				return
			}
			require.NoError(t, err)
			assert.Len(t, orders, tt.want)
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
		kind string
	}{
		{err: domain.ErrOrderNotFound, want: http.StatusNotFound, kind: analytics.KindNotFound},
		{err: fmt.Errorf("wrapped : %w", domain.ErrInvalidStatus), want: http.StatusBadRequest, kind: analytics.KindValidation},
		{err: domain.ErrVersionConflict, want: http.StatusConflict, kind: analytics.KindConflict},
		{err: domain.ErrStressTestRunning, want: http.StatusConflict, kind: analytics.KindConflict},
		{err: context.DeadlineExceeded, want: http.StatusGatewayTimeout, kind: analytics.KindTimeout},
		{err: io.ErrUnexpectedEOF, want: http.StatusInternalServerError, kind: analytics.KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
			assert.Equal(t, tt.kind, errorKind(tt.err))
		})
	}
}

func TestNewRequiresService(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestStreamGoroutinesReleased(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/orders/stream?follow=true", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		env.handler.ServeHTTP(rec, req)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after the client went away")
	}
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReplayFilter(t *testing.T) {
	stored := []*domain.Order{{ID: 1, Version: 1}, {ID: 2, Version: 1}}

	t.Run("should drop live copies of replayed orders", func(t *testing.T) {
		f := newReplayFilter(true)
		for _, order := range stored {
			f.sent(order)
		}
		assert.True(t, f.duplicate(&domain.Order{ID: 2, Version: 1}))
		assert.False(t, f.duplicate(&domain.Order{ID: 1, Version: 2}), "updates are newer versions")
	})

	t.Run("should release once the feed moves past storage", func(t *testing.T) {
		f := newReplayFilter(true)
		for _, order := range stored {
			f.sent(order)
		}
		assert.False(t, f.duplicate(&domain.Order{ID: 3, Version: 1}))
		assert.False(t, f.duplicate(&domain.Order{ID: 2, Version: 1}))
	})

	t.Run("should pass everything when not following", func(t *testing.T) {
		f := newReplayFilter(false)
		f.sent(stored[0])
		assert.False(t, f.duplicate(stored[0]))
	})
}
