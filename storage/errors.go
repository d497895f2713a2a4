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

package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"
)

var (
	// ErrNotFound indicates that the requested record was not found.
	ErrNotFound = errors.New("record not found")

	// ErrDimensionMismatch indicates a vector whose length differs from the
	// store's configured dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrAlreadyProcessing indicates another worker holds the item.
	ErrAlreadyProcessing = errors.New("item is already processing")

	// ErrAlreadyCompleted indicates the item was indexed and must be reset first.
	ErrAlreadyCompleted = errors.New("item is already completed")

	// ErrInvalidTransition indicates a checkpoint status change that is not allowed.
	ErrInvalidTransition = errors.New("invalid checkpoint transition")

	// ErrStorageClosed indicates that the storage backend is closed.
	ErrStorageClosed = errors.New("storage is closed")

	// ErrInvalidQuery indicates invalid query parameters.
	ErrInvalidQuery = errors.New("invalid query parameters")

	// ErrSerializationFailed indicates a serialization/deserialization failure.
	ErrSerializationFailed = errors.New("serialization failed")

	// ErrInvalidDimension indicates a store was configured without a positive dimension.
	ErrInvalidDimension = errors.New("dimension must be greater than 0")

	// ErrUnavailable indicates a remote store failed in a way that may
	// succeed on retry: a dropped connection or a 5xx/429 response.
	ErrUnavailable = errors.New("store unavailable")
)

// IsTransient reports whether a store call that failed with err is worth
// retrying. Cancellation and the store's own rejections are not.
func IsTransient(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, io.ErrUnexpectedEOF):
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr)
}
