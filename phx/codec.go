package phx

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sugawarayuuta/sonnet"
)

// Codec converts ChannelMessages to and from wire frames.
type Codec interface {
	Encode(message ChannelMessage) ([]byte, error)
	Decode(frame []byte) (ChannelMessage, error)
}

// JSONCodec is the Phoenix JSON serializer.
//
// Non-integral numbers decode to decimal.Decimal built from the literal text, so no binary
// floating point rounding happens on the way in. decimal.Decimal payload values encode as
// bare JSON number literals. Integral numbers decode to int64, or to decimal.Decimal when
// they do not fit.
type JSONCodec struct {
	// KeepFloats decodes non-integral numbers to float64 instead of decimal.Decimal.
	KeepFloats bool
}

type wireMessage struct {
	Topic   Topic                  `json:"topic"`
	Event   Event                  `json:"event"`
	Ref     *string                `json:"ref"`
	Payload map[string]interface{} `json:"payload"`
}

// Encode serializes message to a JSON object.
func (codec JSONCodec) Encode(message ChannelMessage) ([]byte, error) {
	wire := wireMessage{
		Topic:   message.topic,
		Event:   message.event,
		Payload: encodeObject(message.payload),
	}
	if message.hasRef {
		ref := message.ref
		wire.Ref = &ref
	}

	data, err := sonnet.Marshal(&wire)
	if err != nil {
		return nil, NewError(ProtocolError, err)
	}
	return data, nil
}

// Decode parses a JSON frame. Frames that are not an object with string "topic" and "event"
// fields and an object "payload" fail with *MalformedMessageError.
func (codec JSONCodec) Decode(frame []byte) (ChannelMessage, error) {
	decoder := sonnet.NewDecoder(bytes.NewReader(frame))
	decoder.UseNumber()

	var raw map[string]interface{}
	if err := decoder.Decode(&raw); err != nil {
		return ChannelMessage{}, &MalformedMessageError{Reason: "invalid JSON", Raw: frame, Err: err}
	}
	if raw == nil {
		return ChannelMessage{}, &MalformedMessageError{Reason: "message is not an object", Raw: frame}
	}

	topic, ok := raw["topic"].(string)
	if !ok {
		return ChannelMessage{}, &MalformedMessageError{Reason: `missing or invalid "topic"`, Raw: frame}
	}
	event, ok := raw["event"].(string)
	if !ok {
		return ChannelMessage{}, &MalformedMessageError{Reason: `missing or invalid "event"`, Raw: frame}
	}
	payload, ok := raw["payload"].(map[string]interface{})
	if !ok {
		return ChannelMessage{}, &MalformedMessageError{Reason: `missing or invalid "payload"`, Raw: frame}
	}

	message := ChannelMessage{
		topic:   Topic(topic),
		event:   Event(event),
		payload: codec.decodeObject(payload),
	}

	switch ref := raw["ref"].(type) {
	case nil:
	case string:
		message = message.WithRef(ref)
	case sonnet.Number:
		message = message.WithRef(ref.String())
	default:
		return ChannelMessage{}, &MalformedMessageError{Reason: `invalid "ref"`, Raw: frame}
	}

	return message, nil
}

func (codec JSONCodec) decodeObject(object map[string]interface{}) Payload {
	payload := make(Payload, len(object))
	for key, value := range object {
		payload[key] = codec.decodeValue(value)
	}
	return payload
}

func (codec JSONCodec) decodeValue(value interface{}) interface{} {
	switch typed := value.(type) {
	case sonnet.Number:
		return codec.decodeNumber(typed.String())
	case map[string]interface{}:
		object := make(map[string]interface{}, len(typed))
		for key, item := range typed {
			object[key] = codec.decodeValue(item)
		}
		return object
	case []interface{}:
		list := make([]interface{}, len(typed))
		for index, item := range typed {
			list[index] = codec.decodeValue(item)
		}
		return list
	default:
		return value
	}
}

func (codec JSONCodec) decodeNumber(literal string) interface{} {
	if !strings.ContainsAny(literal, ".eE") {
		if integer, err := strconv.ParseInt(literal, 10, 64); err == nil {
			return integer
		}
	} else if codec.KeepFloats {
		if float, err := strconv.ParseFloat(literal, 64); err == nil {
			return float
		}
	}

	number, err := decimal.NewFromString(literal)
	if err != nil {
		return literal
	}
	return number
}

func encodeObject(payload map[string]interface{}) map[string]interface{} {
	object := make(map[string]interface{}, len(payload))
	for key, value := range payload {
		object[key] = encodeValue(value)
	}
	return object
}

func encodeValue(value interface{}) interface{} {
	switch typed := value.(type) {
	case decimal.Decimal:
		return sonnet.Number(typed.String())
	case *decimal.Decimal:
		if typed == nil {
			return nil
		}
		return sonnet.Number(typed.String())
	case Payload:
		return encodeObject(typed)
	case map[string]interface{}:
		return encodeObject(typed)
	case []interface{}:
		list := make([]interface{}, len(typed))
		for index, item := range typed {
			list[index] = encodeValue(item)
		}
		return list
	default:
		return value
	}
}
