// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package dap

import (
	"encoding/json"
	"fmt"

	"github.com/google/go-dap"
)

const (
	messageTypeRequest  = "request"
	messageTypeResponse = "response"
	messageTypeEvent    = "event"

	commandInitialize     = "initialize"
	commandStartDebugging = "startDebugging"
)

// StartDebuggingRequest is the reverse request an adapter sends to start a child debug session.
type StartDebuggingRequest struct {
	dap.Request

	Arguments StartDebuggingArguments `json:"arguments"`

	// Set if the arguments could not be parsed.
	decodeErr error
}

type StartDebuggingArguments struct {
	// Launch configuration for the new session. Numbers are normalized (see NormalizeNumbers).
	Configuration map[string]any `json:"configuration"`

	// Either "launch" or "attach".
	Request string `json:"request"`
}

// RawMessage is a message that is well-formed, but not modeled by the go-dap package
// (for example a custom event or a reverse request introduced by a newer protocol version).
type RawMessage struct {
	dap.ProtocolMessage

	Command string
	Event   string

	// Set for responses only.
	RequestSeq int

	Content json.RawMessage
}

func (m *RawMessage) MarshalJSON() ([]byte, error) {
	return m.Content, nil
}

// errorResponse is an unsuccessful response to any request.
type errorResponse struct {
	dap.Response

	Body errorResponseBody `json:"body"`
}

type errorResponseBody struct {
	Error *dap.ErrorMessage `json:"error,omitempty"`
}

func (r *errorResponse) toError() *RequestError {
	return &RequestError{
		Command: r.Command,
		Message: r.Message,
		Details: r.Body.Error,
	}
}

// initializeResponse is like dap.InitializeResponse, but distinguishes a missing (null) capabilities body.
type initializeResponse struct {
	dap.Response

	Body *dap.Capabilities `json:"body,omitempty"`
}

// initializeRequest extends the standard initialize arguments with client capabilities
// that not every version of the go-dap package models.
type initializeRequest struct {
	dap.Request

	Arguments initializeRequestArguments `json:"arguments"`
}

type initializeRequestArguments struct {
	dap.InitializeRequestArguments

	SupportsStartDebuggingRequest bool `json:"supportsStartDebuggingRequest,omitempty"`
}

type messageEnvelope struct {
	Seq        int    `json:"seq"`
	Type       string `json:"type"`
	Command    string `json:"command"`
	Event      string `json:"event"`
	RequestSeq int    `json:"request_seq"`
	Success    *bool  `json:"success"`
}

// decodeMessage decodes the content of a single DAP message.
// Messages that go-dap cannot decode are returned as *RawMessage rather than failing the connection.
func decodeMessage(content []byte) (dap.Message, error) {
	var envelope messageEnvelope
	if unmarshalErr := json.Unmarshal(content, &envelope); unmarshalErr != nil {
		return nil, fmt.Errorf("failed to parse DAP message: %w", unmarshalErr)
	}

	switch {
	case envelope.Type == messageTypeRequest && envelope.Command == commandStartDebugging:
		return decodeStartDebuggingRequest(envelope, content), nil

	case envelope.Type == messageTypeResponse && envelope.Success != nil && !*envelope.Success:
		var resp errorResponse
		if unmarshalErr := json.Unmarshal(content, &resp); unmarshalErr != nil {
			return nil, fmt.Errorf("failed to parse error response to '%s' request: %w", envelope.Command, unmarshalErr)
		}
		return &resp, nil

	case envelope.Type == messageTypeResponse && envelope.Command == commandInitialize:
		var resp initializeResponse
		if unmarshalErr := json.Unmarshal(content, &resp); unmarshalErr != nil {
			return nil, fmt.Errorf("failed to parse initialize response: %w", unmarshalErr)
		}
		return &resp, nil
	}

	msg, decodeErr := dap.DecodeProtocolMessage(content)
	if decodeErr != nil {
		return newRawMessage(envelope, content), nil
	}
	return msg, nil
}

// decodeStartDebuggingRequest always yields a request the client can answer.
// If the arguments cannot be parsed, the configuration is empty and the request carries the parse error.
func decodeStartDebuggingRequest(envelope messageEnvelope, content []byte) *StartDebuggingRequest {
	retval := &StartDebuggingRequest{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Seq: envelope.Seq, Type: envelope.Type},
			Command:         envelope.Command,
		},
		Arguments: StartDebuggingArguments{Configuration: map[string]any{}},
	}

	var req struct {
		Arguments struct {
			Configuration json.RawMessage `json:"configuration"`
			Request       string          `json:"request"`
		} `json:"arguments"`
	}
	if unmarshalErr := json.Unmarshal(content, &req); unmarshalErr != nil {
		retval.decodeErr = fmt.Errorf("failed to parse startDebugging request: %w", unmarshalErr)
		return retval
	}
	retval.Arguments.Request = req.Arguments.Request

	configuration, configErr := DecodeJSONObject(req.Arguments.Configuration)
	if configErr != nil {
		retval.decodeErr = fmt.Errorf("failed to parse startDebugging configuration: %w", configErr)
		return retval
	}
	retval.Arguments.Configuration = configuration
	return retval
}

func newRawMessage(envelope messageEnvelope, content []byte) *RawMessage {
	return &RawMessage{
		ProtocolMessage: dap.ProtocolMessage{Seq: envelope.Seq, Type: envelope.Type},
		Command:         envelope.Command,
		Event:           envelope.Event,
		RequestSeq:      envelope.RequestSeq,
		Content:         append(json.RawMessage{}, content...),
	}
}

func newRequest(command string) dap.Request {
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Type: messageTypeRequest},
		Command:         command,
	}
}

func newResponse(req *dap.Request, success bool, message string) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Type: messageTypeResponse},
		RequestSeq:      req.Seq,
		Success:         success,
		Command:         req.Command,
		Message:         message,
	}
}

func newErrorResponse(req *dap.Request, message string) *errorResponse {
	return &errorResponse{
		Response: newResponse(req, false, message),
		Body: errorResponseBody{
			Error: &dap.ErrorMessage{Format: message, ShowUser: true},
		},
	}
}

var (
	_ dap.RequestMessage  = (*StartDebuggingRequest)(nil)
	_ dap.RequestMessage  = (*initializeRequest)(nil)
	_ dap.ResponseMessage = (*errorResponse)(nil)
	_ dap.ResponseMessage = (*initializeResponse)(nil)
	_ dap.Message         = (*RawMessage)(nil)
)
