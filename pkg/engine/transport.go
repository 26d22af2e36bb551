// Copyright 2025 Kadir Pekel
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

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2aclient"

	"github.com/kadirpekel/agentrelay/pkg/retry"
)

// Transport is the part of the A2A client the engine drives.
// *a2aclient.Client satisfies it.
type Transport interface {
	SendMessage(ctx context.Context, params *a2a.MessageSendParams) (a2a.SendMessageResult, error)
	SendStreamingMessage(ctx context.Context, params *a2a.MessageSendParams) iter.Seq2[a2a.Event, error]
	GetTask(ctx context.Context, query *a2a.TaskQueryParams) (*a2a.Task, error)
	CancelTask(ctx context.Context, id *a2a.TaskIDParams) (*a2a.Task, error)
	Destroy() error
}

var _ Transport = (*a2aclient.Client)(nil)

// permanentA2AErrors are protocol errors caused by the request itself.
// Sending the same request again cannot succeed.
var permanentA2AErrors = []error{
	a2a.ErrParseError,
	a2a.ErrInvalidRequest,
	a2a.ErrMethodNotFound,
	a2a.ErrInvalidParams,
	a2a.ErrTaskNotFound,
	a2a.ErrTaskNotCancelable,
	a2a.ErrUnsupportedOperation,
}

// transientA2AErrors are server-side failures worth another attempt.
var transientA2AErrors = []error{
	a2a.ErrInternalError,
}

// classify tags a transport error with its retry kind. Errors that are
// neither protocol nor network errors stay untagged and are reported as
// unexpected by the retry executor.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if retry.KindOf(err) != retry.KindUnknown {
		return err
	}
	for _, target := range permanentA2AErrors {
		if errors.Is(err, target) {
			return retry.Permanent(err)
		}
	}
	for _, target := range transientA2AErrors {
		if errors.Is(err, target) {
			return retry.Transient(err)
		}
	}
	return err
}

// CredentialProvider supplies per-request headers such as Authorization.
type CredentialProvider interface {
	Headers(ctx context.Context) (map[string]string, error)
}

// StaticCredentials returns the same headers for every request.
type StaticCredentials map[string]string

// Headers implements CredentialProvider.
func (s StaticCredentials) Headers(context.Context) (map[string]string, error) {
	return s, nil
}

// BearerToken returns a provider setting "Authorization: Bearer <token>".
func BearerToken(token string) CredentialProvider {
	return StaticCredentials{"Authorization": "Bearer " + token}
}

// headerTransport adds default and credential headers to every request.
type headerTransport struct {
	base        http.RoundTripper
	defaults    map[string]string
	credentials CredentialProvider
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.defaults {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	if t.credentials != nil {
		headers, err := t.credentials.Headers(req.Context())
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("failed to obtain credentials: %w", err))
		}
		for k, v := range headers {
			r.Header.Set(k, v)
		}
	}
	resp, err := t.base.RoundTrip(r)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < http.StatusBadRequest {
		return resp, nil
	}

	// Surface HTTP failures as StatusError so retry.KindOf can tell a 503
	// from a 400. The JSON-RPC client only reports the status text.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	resp.Body.Close()
	return nil, &retry.StatusError{StatusCode: resp.StatusCode, Message: resp.Status}
}

// maxDrainBytes bounds how much of an error body is read before closing
// it so the connection can be reused.
const maxDrainBytes = 64 << 10
