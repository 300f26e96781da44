package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oatserrors "oats/internal/errors"
	"oats/internal/logging"
)

// retryClient wraps an oracle client with retry logic and a circuit breaker.
type retryClient struct {
	underlying     Client
	retryConfig    oatserrors.RetryConfig
	circuitBreaker *oatserrors.CircuitBreaker
	logger         logging.Logger
}

// NewRetryClient wraps an oracle client with retry and circuit breaker logic.
func NewRetryClient(client Client, retryConfig oatserrors.RetryConfig, circuitBreaker *oatserrors.CircuitBreaker, logger logging.Logger) Client {
	return &retryClient{
		underlying:     client,
		retryConfig:    retryConfig,
		circuitBreaker: circuitBreaker,
		logger:         logging.OrNop(logger),
	}
}

func (c *retryClient) Model() string    { return c.underlying.Model() }
func (c *retryClient) Provider() string { return c.underlying.Provider() }

func (c *retryClient) Complete(ctx context.Context, req Request) (*Response, error) {
	began := time.Now()

	resp, err := oatserrors.RetryWithResult(ctx, c.retryConfig, c.logger, func(ctx context.Context) (*Response, error) {
		return oatserrors.ExecuteFunc(c.circuitBreaker, ctx, func(ctx context.Context) (*Response, error) {
			response, callErr := c.underlying.Complete(ctx, req)
			if callErr != nil {
				return nil, classifyOracleError(callErr)
			}
			return response, nil
		})
	})
	if err != nil {
		elapsed := time.Since(began).Round(time.Second)
		c.logger.Warn("oracle call gave up after %v: %v", elapsed, err)
		if oatserrors.IsDegraded(err) {
			return nil, fmt.Errorf("%s", oatserrors.FormatForOracle(err))
		}
		return nil, fmt.Errorf("%s (no attempts left after %v)", oatserrors.FormatForOracle(err), elapsed)
	}
	return resp, nil
}

// classifyOracleError decides whether a provider failure deserves another
// attempt. Status codes take precedence; free-form transport errors fall
// back to message sniffing.
func classifyOracleError(err error) error {
	if err == nil {
		return nil
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusTooManyRequests:
			return oatserrors.NewTransientError(err,
				"The provider is rate limiting this key; the call will be retried after a backoff.")
		case se.Code >= 500:
			return oatserrors.NewTransientError(err,
				fmt.Sprintf("The provider answered with a %d; the call will be retried.", se.Code))
		case se.Code == http.StatusUnauthorized, se.Code == http.StatusForbidden:
			return oatserrors.NewPermanentError(err,
				"The provider rejected the credentials; check the configured API key.")
		case se.Code == http.StatusNotFound:
			return oatserrors.NewPermanentError(err,
				"The provider does not know this model or endpoint; check the model name.")
		case se.Code >= 400:
			return oatserrors.NewPermanentError(err,
				"The provider rejected the request; check the request parameters.")
		}
		return err
	}

	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "rate limit"):
		return oatserrors.NewTransientError(err,
			"The provider is rate limiting this key; the call will be retried after a backoff.")
	case strings.Contains(text, "timeout"), strings.Contains(text, "deadline exceeded"):
		return oatserrors.NewTransientError(err,
			"The provider call timed out; the call will be retried.")
	case strings.Contains(text, "connection refused"),
		strings.Contains(text, "connection reset"),
		strings.Contains(text, "broken pipe"),
		strings.Contains(text, "no such host"):
		return oatserrors.NewTransientError(err,
			"The provider could not be reached; the call will be retried.")
	case strings.Contains(text, "unauthorized"), strings.Contains(text, "forbidden"):
		return oatserrors.NewPermanentError(err,
			"The provider rejected the credentials; check the configured API key.")
	}
	return err
}

// StatusError is a non-2xx reply from a provider HTTP API.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	return "provider returned " + e.Status
}
