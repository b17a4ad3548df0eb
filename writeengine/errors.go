// Copyright 2016 Google Inc. All Rights Reserved.
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

package writeengine

import (
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Sentinel errors for the taxonomy in spec.md §7. Callers use
// errors.Is against these; the write engine always wraps the
// underlying cause with %w so context survives.
var (
	ErrInvalidInput       = errors.New("writeengine: invalid input")
	ErrValidationRejected = errors.New("writeengine: validation rejected")
	ErrStorageFailure     = errors.New("writeengine: storage failure")
	ErrStateDrift         = errors.New("writeengine: state drift")
	ErrConcurrencyReject  = errors.New("writeengine: concurrency reject")
)

// ErrProofFailed reports that the verifier rejected a write's computed
// root transition (spec.md §7's VERIFIABLE_PROOF_FAILED). This should
// never happen for a correctly implemented write path; its occurrence
// indicates either a bug in the hashing/SMT/verify layers or a forged
// intermediate state, so it is surfaced as a rich gRPC status rather
// than a plain error, for operators to alert on.
var ErrProofFailed = errors.New("writeengine: proof verification failed")

// ProofFailedStatus builds the rich gRPC status for a proof failure,
// attaching the keys involved so an operator can correlate it with
// node-store/rowstore state without re-deriving them from logs.
func ProofFailedStatus(keys []string) error {
	st := status.New(codes.Internal, ErrProofFailed.Error())
	withDetail, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason: "VERIFIABLE_PROOF_FAILED",
		Domain: "verifidb",
		Metadata: map[string]string{
			"keys": joinKeys(keys),
		},
	})
	if err != nil {
		return st.Err()
	}
	return withDetail.Err()
}

func joinKeys(keys []string) string {
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ","
		}
		out += k
	}
	return out
}
