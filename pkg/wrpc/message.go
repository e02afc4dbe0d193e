package wrpc

import (
	"math"

	"github.com/mgnsk/fibra-workers/pkg/wire"
)

// Reply events posted by workers.
const (
	EventSuccess   = "success"
	EventFailure   = "failure"
	EventUpdate    = "update"
	EventBroadcast = "broadcast"
	EventReady     = "ready"
)

// Envelope is a message from the dispatcher to a worker. A zero ID marks a
// broadcast.
type Envelope struct {
	ID      uint64
	Service string
	Method  string
	Name    string
	Args    any
	Cancel  bool
}

// Reply is a message from a worker to the dispatcher.
type Reply struct {
	Event       string
	ID          uint64
	Name        string
	Data        any
	Args        any
	Version     string
	Fingerprint string
}

// Terminal reports whether the reply settles its call.
func (r Reply) Terminal() bool {
	return r.Event == EventSuccess || r.Event == EventFailure
}

func (e Envelope) tree() map[string]any {
	m := map[string]any{}
	if e.ID != 0 {
		m["id"] = int64(e.ID)
	}
	putString(m, "service", e.Service)
	putString(m, "method", e.Method)
	putString(m, "name", e.Name)
	if e.Args != nil {
		m["args"] = e.Args
	}
	if e.Cancel {
		m["cancel"] = true
	}
	return m
}

func (r Reply) tree() map[string]any {
	m := map[string]any{"event": r.Event}
	if r.ID != 0 {
		m["id"] = int64(r.ID)
	}
	putString(m, "name", r.Name)
	putString(m, "version", r.Version)
	putString(m, "fingerprint", r.Fingerprint)
	if r.Data != nil {
		m["data"] = r.Data
	}
	if r.Args != nil {
		m["args"] = r.Args
	}
	return m
}

func putString(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// EncodeEnvelope encodes e with c.
func EncodeEnvelope(c wire.Codec, e Envelope) ([]byte, error) {
	return c.Marshal(e.tree())
}

// EncodeReply encodes r with c.
func EncodeReply(c wire.Codec, r Reply) ([]byte, error) {
	return c.Marshal(r.tree())
}

// DecodeEnvelope decodes a message written by EncodeEnvelope.
func DecodeEnvelope(c wire.Codec, data []byte) (Envelope, error) {
	m, err := decodeMessage(c, data)
	if err != nil {
		return Envelope{}, err
	}

	var e Envelope
	if e.ID, err = messageID(m); err != nil {
		return Envelope{}, err
	}
	e.Service = stringField(m, "service")
	e.Method = stringField(m, "method")
	e.Name = stringField(m, "name")
	e.Args = m["args"]
	e.Cancel, _ = m["cancel"].(bool)

	if e.ID != 0 && !e.Cancel && (e.Service == "" || e.Method == "") {
		return Envelope{}, ErrProtocol.New("request %d names no service method", e.ID)
	}
	return e, nil
}

// DecodeReply decodes a message written by EncodeReply.
func DecodeReply(c wire.Codec, data []byte) (Reply, error) {
	m, err := decodeMessage(c, data)
	if err != nil {
		return Reply{}, err
	}

	var r Reply
	if r.ID, err = messageID(m); err != nil {
		return Reply{}, err
	}
	r.Event = stringField(m, "event")
	r.Name = stringField(m, "name")
	r.Version = stringField(m, "version")
	r.Fingerprint = stringField(m, "fingerprint")
	r.Data = m["data"]
	r.Args = m["args"]

	if r.Event == "" {
		return Reply{}, ErrProtocol.New("reply without event")
	}
	return r, nil
}

func decodeMessage(c wire.Codec, data []byte) (map[string]any, error) {
	tree, err := c.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	m, ok := tree.(map[string]any)
	if !ok {
		return nil, ErrProtocol.New("message is %T, want an object", tree)
	}
	return m, nil
}

func messageID(m map[string]any) (uint64, error) {
	switch id := m["id"].(type) {
	case nil:
		return 0, nil
	case int64:
		if id > 0 {
			return uint64(id), nil
		}
	case float64:
		if id > 0 && id <= math.MaxInt64 && id == math.Trunc(id) {
			return uint64(id), nil
		}
	}
	return 0, ErrProtocol.New("invalid message id %v", m["id"])
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
