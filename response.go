package deribit

import (
	"encoding/json"

	"github.com/ggoodman/deribit-go/internal/wire"
)

// OK is returned for successful replies that carry neither a result nor a
// message.
var OK = json.RawMessage(`"Ok"`)

// interpret validates a reply envelope. It is shared by the WebSocket and REST
// clients.
func interpret(action string, resp *wire.Response) (json.RawMessage, error) {
	if resp.Failed() {
		return nil, &RemoteError{Action: action, Message: resp.Message}
	}
	if len(resp.Result) > 0 {
		return resp.Result, nil
	}
	if resp.Message != "" {
		msg, err := json.Marshal(resp.Message)
		if err != nil {
			return nil, err
		}
		return msg, nil
	}
	return OK, nil
}
