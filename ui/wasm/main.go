//go:build js && wasm
// +build js,wasm

package main

import (
	"context"
	"encoding/base64"
	"syscall/js"

	"kerf/cam"
	"kerf/rpc"
)

var (
	images     = cam.NewBitmapStore()
	dispatcher = rpc.NewDispatcher(rpc.WithImages(images))
)

func main() {
	// Export functions to JavaScript
	js.Global().Set("kerfWorker", js.ValueOf(map[string]interface{}{
		"handle":   js.FuncOf(handleWrapper),
		"putImage": js.FuncOf(putImageWrapper),
		"version":  rpc.Version,
	}))

	// Keep the program running
	select {}
}

// handleWrapper answers one envelope
// Args: request (JSON string)
// Returns: response (JSON string)
func handleWrapper(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return js.ValueOf(`{"error":{"code":"bad_payload","message":"missing request argument"}}`)
	}
	out, err := dispatcher.HandleJSON(context.Background(), []byte(args[0].String()))
	if err != nil {
		return js.ValueOf(`{"error":{"code":"bad_payload","message":"failed to encode response"}}`)
	}
	return js.ValueOf(string(out))
}

// putImageWrapper registers a bitmap for image objects
// Args: ref (string), data (base64 string)
// Returns: error message, empty on success
func putImageWrapper(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return js.ValueOf("missing ref or data argument")
	}
	data, err := base64.StdEncoding.DecodeString(args[1].String())
	if err != nil {
		return js.ValueOf("invalid base64 data: " + err.Error())
	}
	if err := images.PutEncoded(args[0].String(), data); err != nil {
		return js.ValueOf(err.Error())
	}
	return js.ValueOf("")
}
