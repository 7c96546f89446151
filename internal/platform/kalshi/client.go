package kalshi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/moltenlava16/kalshi-arbitrage/internal/domain"
)

const (
	httpTimeout = 30 * time.Second

	// Venue rate limit applied before every request.
	rateLimitKey    = "kalshi:rest"
	rateLimitMax    = 10
	rateLimitWindow = time.Second
)

// Client is the REST client for the Kalshi exchange API. It serves two
// consumers: the relationship refresher (Markets) and the execution
// coordinator (PlaceOrder, CancelOrder).
type Client struct {
	baseURL    string
	signer     *Signer
	httpClient *http.Client
	limiter    domain.RateLimiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logger     *slog.Logger
}

// NewClient creates a REST client.
//
// baseURL is the API root, e.g. "https://api.elections.kalshi.com/trade-api/v2".
// limiter may be nil, in which case requests are not throttled locally.
func NewClient(baseURL string, signer *Signer, limiter domain.RateLimiter, logger *slog.Logger) *Client {
	log := logger.With(slog.String("component", "kalshi_client"))

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "kalshi-rest",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return &Client{
		baseURL:    baseURL,
		signer:     signer,
		httpClient: &http.Client{Timeout: httpTimeout},
		limiter:    limiter,
		breaker:    breaker,
		logger:     log,
	}
}

// Markets returns all markets the venue reports, following pagination
// cursors until exhausted.
func (c *Client) Markets(ctx context.Context) ([]domain.Market, error) {
	var (
		out    []domain.Market
		cursor string
	)
	now := time.Now().UTC()

	for {
		params := url.Values{}
		params.Set("limit", "1000")
		params.Set("status", "open")
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		body, err := c.doSignedRequest(ctx, http.MethodGet, "/markets?"+params.Encode())
		if err != nil {
			return nil, fmt.Errorf("kalshi: get markets: %w", err)
		}

		var resp struct {
			Markets []Market `json:"markets"`
			Cursor  string   `json:"cursor"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("kalshi: decode markets: %w", err)
		}

		for _, m := range resp.Markets {
			out = append(out, m.ToDomain(now))
		}
		if resp.Cursor == "" || len(resp.Markets) == 0 {
			return out, nil
		}
		cursor = resp.Cursor
	}
}

// Market returns a single market by ticker.
func (c *Client) Market(ctx context.Context, ticker string) (domain.Market, error) {
	body, err := c.doSignedRequest(ctx, http.MethodGet, "/markets/"+url.PathEscape(ticker))
	if err != nil {
		return domain.Market{}, fmt.Errorf("kalshi: get market %s: %w", ticker, err)
	}

	var resp struct {
		Market Market `json:"market"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Market{}, fmt.Errorf("kalshi: decode market: %w", err)
	}
	return resp.Market.ToDomain(time.Now().UTC()), nil
}

// PlaceOrder submits a limit order. The order's ClientID is sent as the
// venue-side idempotency key so a retried submission never creates a
// duplicate.
func (c *Client) PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	req := OrderRequest{
		Ticker:        order.Ticker,
		ClientOrderID: order.ClientID,
		Action:        string(order.Side),
		Side:          string(order.Contract),
		Type:          "limit",
		Count:         order.Quantity,
	}
	price := order.LimitPriceCents
	switch order.Contract {
	case domain.ContractNo:
		req.NoPrice = &price
	default:
		req.YesPrice = &price
	}

	body, err := c.doSignedRequestBody(ctx, http.MethodPost, "/portfolio/orders", req)
	if err != nil {
		return domain.OrderResult{ShouldRetry: shouldRetry(err)}, fmt.Errorf("kalshi: place order: %w", err)
	}

	var resp OrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderResult{}, fmt.Errorf("kalshi: decode order response: %w", err)
	}

	res := domain.OrderResult{
		ExchangeID:  resp.Order.OrderID,
		Status:      orderStatus(resp.Order.Status),
		FilledCount: resp.Order.TakerFillCount + resp.Order.MakerFillCount,
	}
	if resp.Order.TakerFillCount > 0 {
		res.AvgFillCents = resp.Order.TakerFillCost / resp.Order.TakerFillCount
	}
	return res, nil
}

// CancelOrder cancels a working order by its exchange id.
func (c *Client) CancelOrder(ctx context.Context, exchangeID string) error {
	_, err := c.doSignedRequest(ctx, http.MethodDelete, "/portfolio/orders/"+url.PathEscape(exchangeID))
	if err != nil {
		return fmt.Errorf("kalshi: cancel order %s: %w", exchangeID, err)
	}
	return nil
}

func orderStatus(s string) domain.OrderStatus {
	switch s {
	case "resting":
		return domain.OrderStatusWorking
	case "executed":
		return domain.OrderStatusFilled
	case "canceled":
		return domain.OrderStatusCanceled
	case "pending":
		return domain.OrderStatusPending
	}
	return domain.OrderStatusPending
}

// shouldRetry reports whether a submission error is safe to retry with the
// same client order id.
func shouldRetry(err error) bool {
	return errors.Is(err, domain.ErrRateLimited) || errors.Is(err, gobreaker.ErrOpenState)
}

func (c *Client) doSignedRequest(ctx context.Context, method, path string) ([]byte, error) {
	return c.doSignedRequestBody(ctx, method, path, nil)
}

// doSignedRequestBody builds, signs, sends and reads one request. All calls
// funnel through the shared rate limiter and circuit breaker.
func (c *Client) doSignedRequestBody(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rateLimitKey, rateLimitMax, rateLimitWindow); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	var jsonBody []byte
	if reqBody != nil {
		var err error
		jsonBody, err = json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	return c.breaker.Execute(func() ([]byte, error) {
		var bodyReader io.Reader
		if jsonBody != nil {
			bodyReader = bytes.NewReader(jsonBody)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if jsonBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")

		if c.signer != nil {
			// Signatures cover the path without the query string.
			signPath := path
			if i := strings.IndexByte(path, '?'); i >= 0 {
				signPath = path[:i]
			}
			header, err := c.signer.Headers(method, signPath, time.Now())
			if err != nil {
				return nil, err
			}
			for k, v := range header {
				req.Header[k] = v
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if err := checkStatus(resp.StatusCode, respBody); err != nil {
			return nil, err
		}
		return respBody, nil
	})
}

// checkStatus maps non-2xx responses to domain sentinels so callers can
// branch with errors.Is.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr ErrorResponse
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s (%s)", domain.ErrNotFound, apiErr.Message, apiErr.Code)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s (%s)", domain.ErrUnauthorized, apiErr.Message, apiErr.Code)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s (%s)", domain.ErrRateLimited, apiErr.Message, apiErr.Code)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s (%s)", domain.ErrInvalidOrder, apiErr.Message, apiErr.Code)
	default:
		return fmt.Errorf("kalshi: HTTP %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code)
	}
}
