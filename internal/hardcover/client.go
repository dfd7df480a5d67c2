// Package hardcover はHardcover GraphQL APIのクライアントを提供する。
// 疎通確認(me)と、ユーザーライブラリのページング取得を含む。
package hardcover

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/hitoshi/bookhelper/internal/metrics"
)

const (
	// DefaultEndpoint はHardcover GraphQL APIのエンドポイント。
	DefaultEndpoint = "https://api.hardcover.app/v1/graphql"
	// maxResponseSize はレスポンスボディの読み取り上限。
	maxResponseSize = 10 * 1024 * 1024
)

// ErrTransport は通信失敗（タイムアウト、接続エラー、5xx、サーキットオープン）を表す。
var ErrTransport = errors.New("hardcover transport error")

// ErrResponse はレスポンスの形式不正やGraphQLエラーを表す。
var ErrResponse = errors.New("hardcover response error")

// StatusError はHTTPステータスが200以外だった場合のエラー。
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Hardcover APIがステータス %d を返しました", e.StatusCode)
}

// Config はクライアントの設定。
type Config struct {
	Endpoint          string
	APIKey            string
	ProbeTimeout      time.Duration
	FetchTimeout      time.Duration
	PageSize          int
	MaxOffset         int
	RequestsPerMinute int
}

// Client はHardcover APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	endpoint   string // テスト用にエンドポイントを差し替え可能
	apiKey     string
	cfg        Config
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, collector metrics.MetricsCollector, cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxOffset <= 0 {
		cfg.MaxOffset = 10000
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	c := &Client{
		httpClient: httpClient,
		logger:     logger,
		metrics:    collector,
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		cfg:        cfg,
		limiter:    rate.NewLimiter(limit, 1),
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "hardcover-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		// 4xxは相手側の障害ではないため失敗として数えない
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.StatusCode < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("サーキットブレーカーの状態が変化しました",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return c
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

// execute はGraphQLクエリを1回実行する。
// 通信失敗はErrTransport、GraphQLエラーや形式不正はErrResponseでラップして返す。
func (c *Client) execute(ctx context.Context, operation, query string, vars map[string]any) (json.RawMessage, error) {
	payload, err := json.Marshal(gqlRequest{Query: query, Variables: vars})
	if err != nil {
		return nil, fmt.Errorf("GraphQLリクエストのエンコードに失敗しました: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	start := time.Now()
	status := 0
	body, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "bookhelper/1.0")
		req.Header.Set("Authorization", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		status = resp.StatusCode

		if resp.StatusCode != http.StatusOK {
			return nil, &StatusError{StatusCode: resp.StatusCode}
		}
		return io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	})
	c.metrics.RecordProviderRequest(operation, status, time.Since(start))

	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode < http.StatusInternalServerError {
			c.logger.Error("Hardcover APIがエラーステータスを返しました",
				slog.String("operation", operation),
				slog.Int("http_status", se.StatusCode),
			)
			return nil, fmt.Errorf("%w: %v", ErrResponse, err)
		}
		c.logger.Error("Hardcover APIの呼び出しに失敗しました",
			slog.String("operation", operation),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	var resp gqlResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: レスポンスJSONのパースに失敗しました: %v", ErrResponse, err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("%w: GraphQLエラー: %s", ErrResponse, resp.Errors[0].Message)
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return nil, fmt.Errorf("%w: dataがありません", ErrResponse)
	}
	return resp.Data, nil
}
