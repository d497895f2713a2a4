// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrRateLimited matches provider errors caused by rate limiting (HTTP 429).
	ErrRateLimited = errors.New("rate limited by provider")

	// ErrImagesUnsupported is returned by embedders without vision support.
	ErrImagesUnsupported = errors.New("provider does not support image embeddings")

	// ErrEmptyResponse is returned when a provider answers without embeddings.
	ErrEmptyResponse = errors.New("provider returned no embeddings")

	// ErrCountMismatch is returned when a provider returns a different number
	// of embeddings than inputs.
	ErrCountMismatch = errors.New("provider returned wrong number of embeddings")
)

// ProviderError is a failed provider call with its HTTP status, when known.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is reports 429 responses as ErrRateLimited.
func (e *ProviderError) Is(target error) bool {
	return target == ErrRateLimited && e.StatusCode == http.StatusTooManyRequests
}

// BatchError reports the inputs of a batch call that failed while the rest succeeded.
// Failed is keyed by input index.
type BatchError struct {
	Failed map[int]error
}

func (e *BatchError) Error() string {
	idx := make([]int, 0, len(e.Failed))
	for i := range e.Failed {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	parts := make([]string, len(idx))
	for n, i := range idx {
		parts[n] = fmt.Sprintf("input %d: %v", i, e.Failed[i])
	}
	return fmt.Sprintf("%d of batch failed: %s", len(idx), strings.Join(parts, "; "))
}

// IsTransient reports whether err is worth retrying: rate limiting, request
// timeouts, server errors and network timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var perr *ProviderError
	if errors.As(err, &perr) {
		switch {
		case perr.StatusCode == http.StatusTooManyRequests,
			perr.StatusCode == http.StatusRequestTimeout,
			perr.StatusCode >= 500:
			return true
		}
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return false
}

var statusPattern = regexp.MustCompile(`(?i)status(?:\s+code)?[:=\s]+(\d{3})`)

// ClassifyHTTPError wraps err in a ProviderError, recovering the HTTP status
// from the message when the client library does not expose it.
func ClassifyHTTPError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return err
	}
	status := 0
	if m := statusPattern.FindStringSubmatch(err.Error()); m != nil {
		status, _ = strconv.Atoi(m[1])
	}
	return &ProviderError{Provider: provider, StatusCode: status, Err: err}
}
