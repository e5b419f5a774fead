package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Engagement dimensions reported by the tweet metrics endpoint.
const (
	DimensionLikes     = "likes"
	DimensionRetweets  = "retweets"
	DimensionReplies   = "replies"
	DimensionBookmarks = "bookmarks"
)

const defaultRequestTimeout = 10 * time.Second

var (
	// ErrUnavailable indicates the metrics endpoint could not be reached or
	// returned an unusable response. Callers do not retry immediately; the
	// next poll cycle retries naturally.
	ErrUnavailable = errors.New("metrics: source unavailable")

	errMissingBaseURL     = errors.New("base url required")
	errMissingBearerToken = errors.New("bearer token required")
	errMissingPostID      = errors.New("metrics: post id must not be empty")

	// ErrInvalidSourceConfig indicates the tweet source configuration is incomplete.
	ErrInvalidSourceConfig = errors.New("metrics: invalid tweet source config")
)

// KnownDimensions lists every dimension the tweet source can report, in a
// stable order.
func KnownDimensions() []string {
	return []string{DimensionLikes, DimensionRetweets, DimensionReplies, DimensionBookmarks}
}

// TweetSourceConfig bundles configuration for the tweet metrics client.
type TweetSourceConfig struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// TweetSource fetches public engagement metrics for a tweet over HTTP.
type TweetSource struct {
	baseURL    string
	bearer     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewTweetSource constructs a tweet metrics client with validated configuration.
func NewTweetSource(cfg TweetSourceConfig) (*TweetSource, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSourceConfig, errMissingBaseURL)
	}
	bearer := strings.TrimSpace(cfg.BearerToken)
	if bearer == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSourceConfig, errMissingBearerToken)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TweetSource{
		baseURL:    baseURL,
		bearer:     bearer,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type tweetMetricsResponse struct {
	Data struct {
		PublicMetrics struct {
			LikeCount     int64 `json:"like_count"`
			RetweetCount  int64 `json:"retweet_count"`
			ReplyCount    int64 `json:"reply_count"`
			BookmarkCount int64 `json:"bookmark_count"`
		} `json:"public_metrics"`
	} `json:"data"`
}

// Fetch returns the current engagement counts for the given tweet id.
func (s *TweetSource) Fetch(ctx context.Context, postID string) (map[string]int64, error) {
	trimmed := strings.TrimSpace(postID)
	if trimmed == "" {
		return nil, errMissingPostID
	}

	endpoint := fmt.Sprintf("%s/2/tweets/%s?tweet.fields=public_metrics", s.baseURL, trimmed)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	request.Header.Set("Authorization", "Bearer "+s.bearer)

	response, err := s.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		s.logger.Warn("tweet metrics fetch rejected",
			zap.String("post_id", trimmed),
			zap.Int("status", response.StatusCode))
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, response.StatusCode)
	}

	var payload tweetMetricsResponse
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	return map[string]int64{
		DimensionLikes:     payload.Data.PublicMetrics.LikeCount,
		DimensionRetweets:  payload.Data.PublicMetrics.RetweetCount,
		DimensionReplies:   payload.Data.PublicMetrics.ReplyCount,
		DimensionBookmarks: payload.Data.PublicMetrics.BookmarkCount,
	}, nil
}

// Dimensions implements the engine's metrics source contract.
func (s *TweetSource) Dimensions() []string {
	return KnownDimensions()
}
