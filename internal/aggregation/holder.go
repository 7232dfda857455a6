package aggregation

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/rzbill/conduit/internal/exchange"
	"github.com/rzbill/conduit/pkg/log"
)

// Holder is the portable snapshot of an exchange: everything that can
// leave the process. Live attachments are never part of it.
type Holder struct {
	ID           string
	Body         any
	Headers      map[string]any
	Properties   map[string]any
	FromEndpoint string
	FromRouteID  string
	Created      time.Time
	ErrMessage   string
}

// Holder message fields
const (
	holderID           protowire.Number = 1
	holderBody         protowire.Number = 2
	holderHeaders      protowire.Number = 3
	holderProperties   protowire.Number = 4
	holderFromEndpoint protowire.Number = 5
	holderFromRoute    protowire.Number = 6
	holderCreated      protowire.Number = 7
	holderErr          protowire.Number = 8
)

// NewHolder copies the portable state of ex. Headers and properties whose
// values cannot be encoded are dropped and reported through logger at debug
// level. A missing id or a non-portable body is a codec error.
func NewHolder(ex *exchange.Exchange, logger log.Logger) (*Holder, error) {
	if ex == nil {
		return nil, fmt.Errorf("%w: nil exchange", ErrCodec)
	}
	if ex.ID == "" {
		return nil, fmt.Errorf("%w: exchange without id", ErrCodec)
	}
	if !portable(ex.Body) {
		return nil, fmt.Errorf("%w: body of type %T is not portable", ErrCodec, ex.Body)
	}
	h := &Holder{
		ID:          ex.ID,
		Body:        ex.Body,
		Headers:     portableCopy(ex.Headers, "header", ex.ID, logger),
		Properties:  portableCopy(ex.Properties, "property", ex.ID, logger),
		FromRouteID: ex.FromRouteID,
		Created:     ex.Created,
	}
	if ex.FromEndpoint != nil {
		h.FromEndpoint = ex.FromEndpoint.URI()
	}
	if ex.Err != nil {
		h.ErrMessage = ex.Err.Error()
	}
	return h, nil
}

func portableCopy(in map[string]any, what, id string, logger log.Logger) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if !portable(v) {
			if logger != nil {
				logger.Debug("dropping non-portable "+what,
					log.Str("exchange", id),
					log.Str("name", k),
					log.Str("type", fmt.Sprintf("%T", v)),
				)
			}
			continue
		}
		out[k] = v
	}
	return out
}

// Exchange rebuilds a fresh exchange from the snapshot. The origin endpoint
// is restored through dir when it is still registered there; otherwise the
// link is left empty.
func (h *Holder) Exchange(dir exchange.EndpointDirectory) *exchange.Exchange {
	ex := &exchange.Exchange{
		ID:          h.ID,
		Body:        h.Body,
		Headers:     h.Headers,
		Properties:  h.Properties,
		FromRouteID: h.FromRouteID,
		Created:     h.Created,
	}
	if ex.Headers == nil {
		ex.Headers = map[string]any{}
	}
	if ex.Properties == nil {
		ex.Properties = map[string]any{}
	}
	if h.FromEndpoint != "" && dir != nil {
		if ep, ok := dir.Lookup(h.FromEndpoint); ok {
			ex.FromEndpoint = ep
		}
	}
	if h.ErrMessage != "" {
		ex.Err = errors.New(h.ErrMessage)
	}
	return ex
}

// MarshalBinary encodes the holder.
func (h *Holder) MarshalBinary() ([]byte, error) {
	var b []byte
	b = appendBytesField(b, holderID, []byte(h.ID))

	body, err := encodeValue(nil, h.Body)
	if err != nil {
		return nil, err
	}
	b = appendBytesField(b, holderBody, body)

	headers, err := encodeValue(nil, h.Headers)
	if err != nil {
		return nil, err
	}
	b = appendBytesField(b, holderHeaders, headers)

	props, err := encodeValue(nil, h.Properties)
	if err != nil {
		return nil, err
	}
	b = appendBytesField(b, holderProperties, props)

	if h.FromEndpoint != "" {
		b = appendBytesField(b, holderFromEndpoint, []byte(h.FromEndpoint))
	}
	if h.FromRouteID != "" {
		b = appendBytesField(b, holderFromRoute, []byte(h.FromRouteID))
	}
	if !h.Created.IsZero() {
		b = protowire.AppendTag(b, holderCreated, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(h.Created.UnixNano()))
	}
	if h.ErrMessage != "" {
		b = appendBytesField(b, holderErr, []byte(h.ErrMessage))
	}
	return b, nil
}

// UnmarshalBinary decodes a holder produced by MarshalBinary.
func (h *Holder) UnmarshalBinary(b []byte) error {
	*h = Holder{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrCodec, protowire.ParseError(n))
		}
		b = b[n:]
		if num == holderCreated && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrCodec, protowire.ParseError(n))
			}
			h.Created = time.Unix(0, protowire.DecodeZigZag(v))
			b = b[n:]
			continue
		}
		if typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrCodec, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrCodec, protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case holderID:
			h.ID = string(v)
		case holderBody:
			body, err := decodeValue(v)
			if err != nil {
				return err
			}
			h.Body = body
		case holderHeaders, holderProperties:
			m, err := decodeValue(v)
			if err != nil {
				return err
			}
			mm, ok := m.(map[string]any)
			if !ok {
				return fmt.Errorf("%w: field %d is %T, want map", ErrCodec, num, m)
			}
			if num == holderHeaders {
				h.Headers = mm
			} else {
				h.Properties = mm
			}
		case holderFromEndpoint:
			h.FromEndpoint = string(v)
		case holderFromRoute:
			h.FromRouteID = string(v)
		case holderErr:
			h.ErrMessage = string(v)
		}
	}
	if h.ID == "" {
		return fmt.Errorf("%w: holder without exchange id", ErrCodec)
	}
	return nil
}

// marshalExchange snapshots and encodes ex.
func marshalExchange(ex *exchange.Exchange, logger log.Logger) ([]byte, error) {
	h, err := NewHolder(ex, logger)
	if err != nil {
		return nil, err
	}
	return h.MarshalBinary()
}

// unmarshalExchange decodes a stored snapshot into a fresh exchange.
func unmarshalExchange(b []byte, dir exchange.EndpointDirectory) (*exchange.Exchange, error) {
	var h Holder
	if err := h.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return h.Exchange(dir), nil
}
