// handlers_rpc.go - Envelope requests over HTTP in JSON and MessagePack
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"kerf/rpc"
)

// MIMEApplicationMsgpack is the content type of MessagePack bodies
const MIMEApplicationMsgpack = "application/msgpack"

// maxEnvelopeSize bounds request bodies; designs with embedded bitmaps are large
const maxEnvelopeSize = 64 << 20

// RPCHandler serves the envelope dispatcher over HTTP
type RPCHandler struct {
	dispatcher *rpc.Dispatcher
}

// NewRPCHandler creates a new envelope handler
func NewRPCHandler(d *rpc.Dispatcher) *RPCHandler {
	return &RPCHandler{dispatcher: d}
}

// msgpackRequest mirrors rpc.Request with a decoded payload
type msgpackRequest struct {
	ID      string `msgpack:"id"`
	Type    string `msgpack:"type"`
	Payload any    `msgpack:"payload"`
}

// HandleRPC answers a JSON envelope. Envelope-level failures are reported in
// the response body with status 200, matching the worker transport.
func (h *RPCHandler) HandleRPC(c echo.Context) error {
	var req rpc.Request
	if err := json.NewDecoder(io.LimitReader(c.Request().Body, maxEnvelopeSize)).Decode(&req); err != nil {
		return RespondWithError(c, NewBadRequestError("invalid envelope", err))
	}
	return c.JSON(http.StatusOK, h.dispatcher.Handle(c.Request().Context(), req))
}

// HandleRPCMsgpack answers a MessagePack envelope. The payload is transcoded
// to JSON for the dispatcher; the response is encoded using its JSON field
// names.
func (h *RPCHandler) HandleRPCMsgpack(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxEnvelopeSize))
	if err != nil {
		return RespondWithError(c, NewBadRequestError("failed to read body", err))
	}

	var in msgpackRequest
	if err := msgpack.Unmarshal(body, &in); err != nil {
		return RespondWithError(c, NewBadRequestError("invalid msgpack envelope", err))
	}

	req := rpc.Request{ID: in.ID, Type: in.Type}
	if in.Payload != nil {
		raw, err := json.Marshal(in.Payload)
		if err != nil {
			return RespondWithError(c, NewBadRequestError("payload cannot be represented as JSON", err))
		}
		req.Payload = raw
	}

	resp := h.dispatcher.Handle(c.Request().Context(), req)

	data, err := encodeMsgpack(resp)
	if err != nil {
		return RespondWithError(c, NewInternalError("failed to encode msgpack", err))
	}
	return c.Blob(http.StatusOK, MIMEApplicationMsgpack, data)
}

func encodeMsgpack(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
