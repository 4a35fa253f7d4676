// Package gateway implements the transport & protocol layer (spec §4.1,
// component C1): framed JSON envelopes over a full-duplex websocket
// connection, shape validation, and method routing into the registry,
// consensus, lock/pipeline, and learning components. The gateway never
// decides semantics itself — it demultiplexes.
package gateway

import "encoding/json"

const protocolVersion = "2.0"

// ProtocolVersion is the wire protocol tag reported over /health.
const ProtocolVersion = protocolVersion

// Envelope is the wire shape every inbound/outbound message uses (spec
// §6 "Wire protocol"): {"jsonrpc":"2.0","method":"...","params":{...},
// "id":"..."}. Notifications omit id; responses carry result or error.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      string          `json:"id,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject is the JSON-RPC-shaped error carried by a response
// envelope (spec §7 "Error kinds").
type ErrorObject struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

const (
	// CodeValidation is returned for a malformed envelope (spec §7).
	CodeValidation = -32600
	// CodeHandshake is returned for a method disallowed before READY.
	CodeHandshake = -32001
)

func errorEnvelope(id string, code int, message string) Envelope {
	return Envelope{
		JSONRPC: protocolVersion,
		ID:      id,
		Error:   &ErrorObject{Code: code, Message: message},
	}
}

func resultEnvelope(id string, result interface{}) Envelope {
	return Envelope{JSONRPC: protocolVersion, ID: id, Result: result}
}

func notification(method string, params interface{}) Envelope {
	raw, _ := json.Marshal(params)
	return Envelope{JSONRPC: protocolVersion, Method: "starlight." + method, Params: raw}
}

// validate reports whether env has the minimum required shape (spec §4.1
// "Every envelope must carry: protocol tag 2.0, a method string prefixed
// with a well-known namespace, a params object, and an optional id").
func validate(env Envelope) bool {
	if env.JSONRPC != protocolVersion {
		return false
	}
	if env.Method == "" || len(env.Method) < len(methodNamespace) || env.Method[:len(methodNamespace)] != methodNamespace {
		return false
	}
	return true
}

const methodNamespace = "starlight."

func bareMethod(method string) string {
	if len(method) > len(methodNamespace) && method[:len(methodNamespace)] == methodNamespace {
		return method[len(methodNamespace):]
	}
	return method
}
