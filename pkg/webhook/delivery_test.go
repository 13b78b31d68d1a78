package webhook

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyLabel(t *testing.T) {
	tests := []struct {
		name string
		resp *http.Response
		err  error
		want string
	}{
		{"network error", nil, errors.New("connection refused"), "error"},
		{"2xx is success", &http.Response{StatusCode: 200}, nil, "success"},
		{"204 is success", &http.Response{StatusCode: 204}, nil, "success"},
		{"299 is success", &http.Response{StatusCode: 299}, nil, "success"},
		{"300 is failure", &http.Response{StatusCode: 300}, nil, "failure"},
		{"404 is failure", &http.Response{StatusCode: 404}, nil, "failure"},
		{"500 is failure", &http.Response{StatusCode: 500}, nil, "failure"},
		{"199 is failure", &http.Response{StatusCode: 199}, nil, "failure"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyLabel(tt.resp, tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		resp *http.Response
		err  error
		want outcome
	}{
		{"network error is retryable", nil, errors.New("connection refused"), outcomeRetryable},
		{"2xx is success", &http.Response{StatusCode: 200}, nil, outcomeSuccess},
		{"204 is success", &http.Response{StatusCode: 204}, nil, outcomeSuccess},
		{"400 is dead", &http.Response{StatusCode: 400}, nil, outcomeDead},
		{"401 is dead", &http.Response{StatusCode: 401}, nil, outcomeDead},
		{"404 is dead", &http.Response{StatusCode: 404}, nil, outcomeDead},
		{"408 request timeout is retryable", &http.Response{StatusCode: 408}, nil, outcomeRetryable},
		{"425 too early is retryable", &http.Response{StatusCode: 425}, nil, outcomeRetryable},
		{"429 too many requests is retryable", &http.Response{StatusCode: 429}, nil, outcomeRetryable},
		{"499 is dead", &http.Response{StatusCode: 499}, nil, outcomeDead},
		{"500 is retryable", &http.Response{StatusCode: 500}, nil, outcomeRetryable},
		{"503 is retryable", &http.Response{StatusCode: 503}, nil, outcomeRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.resp, tt.err))
		})
	}
}

func TestTruncateError(t *testing.T) {
	short := "connection refused"
	assert.Equal(t, short, truncateError(short))

	long := strings.Repeat("x", 2000)
	truncated := truncateError(long)
	assert.Len(t, truncated, 1024)
	assert.Equal(t, strings.Repeat("x", 1024), truncated)
}

func TestTruncateError_ExactlyAtLimit(t *testing.T) {
	exact := strings.Repeat("y", 1024)
	assert.Equal(t, exact, truncateError(exact))
}
