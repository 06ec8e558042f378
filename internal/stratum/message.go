package stratum

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

const (
	MethodSubscribe           = "mining.subscribe"
	MethodExtranonceSubscribe = "mining.extranonce.subscribe"
	MethodConfigure           = "mining.configure"
	MethodSuggestDifficulty   = "mining.suggest_difficulty"
	MethodAuthorize           = "mining.authorize"
	MethodSubmit              = "mining.submit"

	MethodSetDifficulty = "mining.set_difficulty"
	MethodNotify        = "mining.notify"
	MethodSetFrequency  = "mining.set_frequency"
)

var nullID = json.RawMessage("null")

// request is the raw wire shape of an inbound line.
type request struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Response answers a request by id.
type Response struct {
	ID     json.RawMessage `json:"id"`
	Result interface{}     `json:"result"`
	Error  interface{}     `json:"error"`
}

// Notification is an unsolicited push; its id is always null.
type Notification struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params []interface{}   `json:"params"`
}

func newResponse(id json.RawMessage, result interface{}) Response {
	if len(id) == 0 {
		id = nullID
	}
	return Response{ID: id, Result: result}
}

func newNotification(method string, params ...interface{}) Notification {
	if params == nil {
		params = []interface{}{}
	}
	return Notification{ID: nullID, Method: method, Params: params}
}

// Message is one decoded inbound request. The concrete type identifies the
// method; methods we do not serve decode to Ignored.
type Message interface {
	RequestID() json.RawMessage
}

type header struct {
	ID json.RawMessage
}

func (h header) RequestID() json.RawMessage { return h.ID }

type Subscribe struct {
	header
	UserAgent string
}

type ExtranonceSubscribe struct {
	header
}

type Configure struct {
	header
	Extensions []string
}

type SuggestDifficulty struct {
	header
	Difficulty float64
}

type Authorize struct {
	header
	Worker   string
	Password string
}

// Submit carries the share fields as sent. Missing positions are left
// empty; the share is acknowledged regardless.
type Submit struct {
	header
	Worker      string
	JobID       string
	Extranonce2 string
	NTime       string
	Nonce       string
	VersionBits string // rolled bits are not applied by hardware.Reconstruct
}

type Ignored struct {
	header
	Method string
}

// ErrMalformed wraps lines that are not a JSON-RPC request.
var ErrMalformed = errors.New("malformed stratum message")

// ErrLineTooLong reports a line dropped for exceeding the framing limit.
var ErrLineTooLong = fmt.Errorf("%w: line exceeds %d bytes", ErrMalformed, maxLineLength)

// Decode parses one line into its message variant.
func Decode(line []byte) (Message, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, fmt.Errorf("%w: empty line", ErrMalformed)
	}

	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if req.Method == "" {
		return nil, fmt.Errorf("%w: missing method", ErrMalformed)
	}

	h := header{ID: req.ID}
	params := splitParams(req.Params)

	switch req.Method {
	case MethodSubscribe:
		return Subscribe{header: h, UserAgent: stringAt(params, 0)}, nil
	case MethodExtranonceSubscribe:
		return ExtranonceSubscribe{header: h}, nil
	case MethodConfigure:
		var exts []string
		if len(params) > 0 {
			_ = json.Unmarshal(params[0], &exts)
		}
		return Configure{header: h, Extensions: exts}, nil
	case MethodSuggestDifficulty:
		var diff float64
		if len(params) > 0 {
			_ = json.Unmarshal(params[0], &diff)
		}
		return SuggestDifficulty{header: h, Difficulty: diff}, nil
	case MethodAuthorize:
		return Authorize{header: h, Worker: stringAt(params, 0), Password: stringAt(params, 1)}, nil
	case MethodSubmit:
		return Submit{
			header:      h,
			Worker:      stringAt(params, 0),
			JobID:       stringAt(params, 1),
			Extranonce2: stringAt(params, 2),
			NTime:       stringAt(params, 3),
			Nonce:       stringAt(params, 4),
			VersionBits: stringAt(params, 5),
		}, nil
	default:
		return Ignored{header: h, Method: req.Method}, nil
	}
}

func splitParams(raw json.RawMessage) []json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var params []json.RawMessage
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil
	}
	return params
}

// stringAt returns params[i] as a string. Non-string scalars are rendered
// as their JSON text.
func stringAt(params []json.RawMessage, i int) string {
	if i >= len(params) {
		return ""
	}
	var s string
	if err := json.Unmarshal(params[i], &s); err == nil {
		return s
	}
	raw := string(bytes.TrimSpace(params[i]))
	if raw == "null" {
		return ""
	}
	return raw
}

// encodeLine marshals v followed by a newline.
func encodeLine(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
