// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package compute

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/daviszhen/preagg/pkg/common"
	"github.com/daviszhen/preagg/pkg/storage"
	"github.com/daviszhen/preagg/pkg/util"
)

type ErrorKind int

const (
	ERR_OK ErrorKind = iota
	//a query function failed on some row
	ERR_EVALUATION
	//the source layout is malformed
	ERR_DECODE
	ERR_UNSUPPORTED
	ERR_CANCELED
	ERR_INTERNAL
)

func (kind ErrorKind) String() string {
	switch kind {
	case ERR_OK:
		return "ok"
	case ERR_EVALUATION:
		return "evaluation fault"
	case ERR_DECODE:
		return "decode fault"
	case ERR_UNSUPPORTED:
		return "unsupported"
	case ERR_CANCELED:
		return "canceled"
	case ERR_INTERNAL:
		return "internal error"
	default:
		return fmt.Sprintf("error kind %d", int(kind))
	}
}

var (
	// ErrCapacityExhausted is not a batch error. It suspends the unit
	// that met it.
	ErrCapacityExhausted = errors.New("capacity exhausted")
	ErrNoProgress        = errors.New("suspended launch made no progress")
	ErrTooManyRounds     = errors.New("too many resume rounds")
	ErrEvaluation        = errors.New("evaluation fault")
	ErrDecode            = errors.New("decode fault")
	ErrCanceled          = errors.New("launch canceled")
	ErrInternal          = errors.New("internal error")
)

func (kind ErrorKind) sentinel() error {
	switch kind {
	case ERR_EVALUATION:
		return ErrEvaluation
	case ERR_DECODE:
		return ErrDecode
	case ERR_UNSUPPORTED:
		return common.ErrUnsupportedAccum
	case ERR_CANCELED:
		return ErrCanceled
	default:
		return ErrInternal
	}
}

// KernelError is the error status read back after a failed launch.
type KernelError struct {
	Kind     ErrorKind
	Location string
	Err      error
}

func (ke *KernelError) Error() string {
	return fmt.Sprintf("%s at %s: %v", ke.Kind, ke.Location, ke.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (ke *KernelError) Unwrap() []error {
	return []error{ke.Kind.sentinel(), ke.Err}
}

// ErrorStatus is shared by every block of a launch. The first error wins.
type ErrorStatus struct {
	_failed atomic.Bool
	_lock   sync.Mutex
	_err    *KernelError
}

// Set records err raised by the caller of Set.
func (es *ErrorStatus) Set(kind ErrorKind, err error) {
	es.set(kind, err, util.CallerLocation(1))
}

func (es *ErrorStatus) set(kind ErrorKind, err error, loc string) {
	es._lock.Lock()
	defer es._lock.Unlock()
	if es._err != nil {
		return
	}
	es._err = &KernelError{
		Kind:     kind,
		Location: loc,
		Err:      err,
	}
	es._failed.Store(true)
}

// SetError classifies err. Capacity exhaustion is never recorded.
func (es *ErrorStatus) SetError(err error) {
	if err == nil || errors.Is(err, ErrCapacityExhausted) {
		return
	}
	kind := ERR_EVALUATION
	var ke *KernelError
	switch {
	case errors.As(err, &ke):
		es.set(ke.Kind, ke.Err, ke.Location)
		return
	case errors.Is(err, storage.ErrMalformedTuple), errors.Is(err, storage.ErrMalformedColumn),
		errors.Is(err, ErrDecode):
		kind = ERR_DECODE
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = ERR_CANCELED
	case errors.Is(err, common.ErrUnsupportedAccum):
		kind = ERR_UNSUPPORTED
	case errors.Is(err, ErrInternal):
		kind = ERR_INTERNAL
	}
	es.set(kind, err, util.CallerLocation(1))
}

func (es *ErrorStatus) Failed() bool {
	return es._failed.Load()
}

func (es *ErrorStatus) Kind() ErrorKind {
	es._lock.Lock()
	defer es._lock.Unlock()
	if es._err == nil {
		return ERR_OK
	}
	return es._err.Kind
}

// Err returns the recorded *KernelError or nil.
func (es *ErrorStatus) Err() error {
	es._lock.Lock()
	defer es._lock.Unlock()
	if es._err == nil {
		return nil
	}
	return es._err
}

func (es *ErrorStatus) Reset() {
	es._lock.Lock()
	defer es._lock.Unlock()
	es._err = nil
	es._failed.Store(false)
}
