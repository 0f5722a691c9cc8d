// Package bgpwire implements the RFC 4271 BGP-4 wire codec: the fixed
// 19-byte message header and the four message bodies required by this
// speaker (OPEN, UPDATE, NOTIFICATION, KEEPALIVE), plus an opaque decode
// of ROUTE-REFRESH for framing purposes only.
package bgpwire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// -------------------------------------------------------------------------
// Protocol constants — RFC 4271 Section 4.1
// -------------------------------------------------------------------------

// Version is the BGP protocol version carried in the OPEN message. This
// speaker requires exactly version 4.
const Version uint8 = 4

// MarkerSize is the length in bytes of the header's Marker field
// (RFC 4271 Section 4.1: "included for compatibility"; MUST be all ones).
const MarkerSize = 16

// HeaderSize is the fixed BGP message header size: Marker(16) + Length(2) + Type(1).
const HeaderSize = 19

// MinMessageSize is the minimum total message size (header only, e.g. KEEPALIVE).
const MinMessageSize = HeaderSize

// MaxMessageSize is the maximum total message size (RFC 4271 Section 4.1).
const MaxMessageSize = 4096

// unknownFmt is the format string used for unrecognized enum values.
const unknownFmt = "Unknown(%d)"

// -------------------------------------------------------------------------
// Kind — BGP message type code (RFC 4271 Section 4.1)
// -------------------------------------------------------------------------

// Kind identifies the message type carried by the header's Type field.
type Kind uint8

const (
	// KindOpen identifies an OPEN message (RFC 4271 Section 4.2).
	KindOpen Kind = 1

	// KindUpdate identifies an UPDATE message (RFC 4271 Section 4.3).
	KindUpdate Kind = 2

	// KindNotification identifies a NOTIFICATION message (RFC 4271 Section 4.5).
	KindNotification Kind = 3

	// KindKeepalive identifies a KEEPALIVE message (RFC 4271 Section 4.4).
	KindKeepalive Kind = 4

	// KindRouteRefresh identifies a ROUTE-REFRESH message (RFC 2918).
	// Decoded for framing purposes only; it elicits no FSM action.
	KindRouteRefresh Kind = 5
)

// kindNames maps message kind values (1-5) to human-readable strings.
var kindNames = [6]string{
	"",
	"OPEN",
	"UPDATE",
	"NOTIFICATION",
	"KEEPALIVE",
	"ROUTE-REFRESH",
}

// String returns the human-readable name for the message kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) && k != 0 {
		return kindNames[k]
	}
	return fmt.Sprintf(unknownFmt, k)
}

// IsValid reports whether k is one of the five defined message kinds.
func (k Kind) IsValid() bool {
	return k >= KindOpen && k <= KindRouteRefresh
}

// -------------------------------------------------------------------------
// Marker — RFC 4271 Section 4.1
// -------------------------------------------------------------------------

// Marker is the required all-ones 16-byte header prefix.
var Marker = [MarkerSize]byte{
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
}

// -------------------------------------------------------------------------
// Header — RFC 4271 Section 4.1
// -------------------------------------------------------------------------

// Header is the decoded fixed message header.
type Header struct {
	// Length is the total message length in bytes, header included
	// (RFC 4271 Section 4.1).
	Length uint16

	// Type is the message kind code (RFC 4271 Section 4.1).
	Type Kind
}

// -------------------------------------------------------------------------
// Codec errors
// -------------------------------------------------------------------------

// Sentinel errors for header and body validation failures.
var (
	// ErrPacketTooShort indicates fewer than HeaderSize bytes are available.
	ErrPacketTooShort = errors.New("message shorter than header size")

	// ErrInvalidMarker indicates the Marker field is not all ones.
	ErrInvalidMarker = errors.New("invalid marker")

	// ErrInvalidLength indicates the Length field is outside [19, 4096].
	ErrInvalidLength = errors.New("invalid length field")

	// ErrLengthExceedsPayload indicates Length exceeds the available buffer.
	ErrLengthExceedsPayload = errors.New("length exceeds payload")

	// ErrInvalidType indicates the Type field is not one of 1-5.
	ErrInvalidType = errors.New("invalid message type")

	// ErrBufTooSmall indicates the caller-provided buffer cannot hold the message.
	ErrBufTooSmall = errors.New("buffer too small for message")

	// ErrInvalidVersion indicates the OPEN Version field is not 4.
	ErrInvalidVersion = errors.New("invalid BGP version")

	// ErrTruncatedBody indicates a message body is shorter than its declared length.
	ErrTruncatedBody = errors.New("truncated message body")

	// ErrInvalidOptParamLen indicates the OPEN opt_param_len exceeds the
	// remaining body bytes.
	ErrInvalidOptParamLen = errors.New("invalid optional parameter length")

	// ErrInvalidAttrLen indicates an UPDATE length field exceeds the body.
	ErrInvalidAttrLen = errors.New("invalid attribute length")
)

const unmarshalErrPrefix = "unmarshal bgp message"

// -------------------------------------------------------------------------
// Header codec
// -------------------------------------------------------------------------

// EncodeHeader writes the 19-byte header (marker, length, type) into buf.
// buf must be at least HeaderSize bytes.
func EncodeHeader(h Header, buf []byte) error {
	if len(buf) < HeaderSize {
		return fmt.Errorf("encode header: need %d bytes, got %d: %w", HeaderSize, len(buf), ErrBufTooSmall)
	}
	copy(buf[0:MarkerSize], Marker[:])
	binary.BigEndian.PutUint16(buf[MarkerSize:MarkerSize+2], h.Length)
	buf[MarkerSize+2] = uint8(h.Type)
	return nil
}

// DecodeHeader decodes and validates the fixed header from buf
// (RFC 4271 Section 4.1). buf must contain at least HeaderSize bytes;
// it may contain more (the caller slices the body separately).
//
// Validation order matches the stream framer's contract in this module:
// marker, then length bounds, then type.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%s: received %d bytes, minimum %d: %w",
			unmarshalErrPrefix, len(buf), HeaderSize, ErrPacketTooShort)
	}

	for i := 0; i < MarkerSize; i++ {
		if buf[i] != 0xFF {
			return Header{}, fmt.Errorf("%s: marker byte %d is 0x%02x: %w",
				unmarshalErrPrefix, i, buf[i], ErrInvalidMarker)
		}
	}

	h := Header{
		Length: binary.BigEndian.Uint16(buf[MarkerSize : MarkerSize+2]),
		Type:   Kind(buf[MarkerSize+2]),
	}

	if h.Length < MinMessageSize || h.Length > MaxMessageSize {
		return Header{}, fmt.Errorf("%s: length field %d outside [%d, %d]: %w",
			unmarshalErrPrefix, h.Length, MinMessageSize, MaxMessageSize, ErrInvalidLength)
	}

	if !h.Type.IsValid() {
		return Header{}, fmt.Errorf("%s: type %d: %w", unmarshalErrPrefix, uint8(h.Type), ErrInvalidType)
	}

	return h, nil
}

// -------------------------------------------------------------------------
// OPEN — RFC 4271 Section 4.2
// -------------------------------------------------------------------------

// Open is the decoded OPEN message body.
type Open struct {
	// Version MUST be 4 (RFC 4271 Section 4.2).
	Version uint8

	// MyAS is the sender's autonomous system number (16-bit).
	MyAS uint16

	// HoldTime is the sender's proposed hold time in seconds.
	HoldTime uint16

	// BGPID uniquely identifies the sender, conventionally a router IPv4 address.
	BGPID [4]byte

	// OptParams holds the optional parameters verbatim, opaque to this
	// speaker (round-tripped only, never interpreted — capability
	// negotiation is an explicit extension point, not implemented here).
	OptParams []byte
}

// MarshalOpen serializes o's body (without the 19-byte header) into buf.
func MarshalOpen(o *Open, buf []byte) (int, error) {
	n := 10 + len(o.OptParams)
	if len(buf) < n {
		return 0, fmt.Errorf("marshal open: need %d bytes, got %d: %w", n, len(buf), ErrBufTooSmall)
	}
	buf[0] = o.Version
	binary.BigEndian.PutUint16(buf[1:3], o.MyAS)
	binary.BigEndian.PutUint16(buf[3:5], o.HoldTime)
	copy(buf[5:9], o.BGPID[:])
	buf[9] = uint8(len(o.OptParams))
	copy(buf[10:n], o.OptParams)
	return n, nil
}

// UnmarshalOpen decodes an OPEN body (header already stripped) into o.
func UnmarshalOpen(body []byte, o *Open) error {
	if len(body) < 10 {
		return fmt.Errorf("%s: open body %d bytes, minimum 10: %w", unmarshalErrPrefix, len(body), ErrTruncatedBody)
	}
	o.Version = body[0]
	if o.Version != Version {
		return fmt.Errorf("%s: open version %d: %w", unmarshalErrPrefix, o.Version, ErrInvalidVersion)
	}
	o.MyAS = binary.BigEndian.Uint16(body[1:3])
	o.HoldTime = binary.BigEndian.Uint16(body[3:5])
	copy(o.BGPID[:], body[5:9])
	optLen := int(body[9])
	if len(body) < 10+optLen {
		return fmt.Errorf("%s: opt_param_len %d exceeds body %d: %w",
			unmarshalErrPrefix, optLen, len(body)-10, ErrInvalidOptParamLen)
	}
	o.OptParams = body[10 : 10+optLen]
	return nil
}

// -------------------------------------------------------------------------
// UPDATE — RFC 4271 Section 4.3
// -------------------------------------------------------------------------

// Update is the decoded UPDATE message body. Route processing beyond
// segment-length accounting is out of scope; WithdrawnRoutes, PathAttributes,
// and NLRI are kept as opaque byte-accurate blobs so the message round-trips.
type Update struct {
	// WithdrawnRoutes is the withdrawn routes field, length-prefixed entries.
	WithdrawnRoutes []byte

	// PathAttributes is the path attributes field.
	PathAttributes []byte

	// NLRI is the Network Layer Reachability Information (remainder of the body).
	NLRI []byte
}

// MarshalUpdate serializes u's body into buf.
func MarshalUpdate(u *Update, buf []byte) (int, error) {
	n := 2 + len(u.WithdrawnRoutes) + 2 + len(u.PathAttributes) + len(u.NLRI)
	if len(buf) < n {
		return 0, fmt.Errorf("marshal update: need %d bytes, got %d: %w", n, len(buf), ErrBufTooSmall)
	}
	off := 0
	binary.BigEndian.PutUint16(buf[off:off+2], uint16(len(u.WithdrawnRoutes)))
	off += 2
	off += copy(buf[off:], u.WithdrawnRoutes)
	binary.BigEndian.PutUint16(buf[off:off+2], uint16(len(u.PathAttributes)))
	off += 2
	off += copy(buf[off:], u.PathAttributes)
	off += copy(buf[off:], u.NLRI)
	return off, nil
}

// UnmarshalUpdate decodes an UPDATE body (header already stripped) into u.
func UnmarshalUpdate(body []byte, u *Update) error {
	if len(body) < 2 {
		return fmt.Errorf("%s: update body %d bytes, minimum 2: %w", unmarshalErrPrefix, len(body), ErrTruncatedBody)
	}
	wLen := int(binary.BigEndian.Uint16(body[0:2]))
	off := 2
	if len(body) < off+wLen {
		return fmt.Errorf("%s: withdrawn_routes_len %d exceeds body: %w", unmarshalErrPrefix, wLen, ErrInvalidAttrLen)
	}
	u.WithdrawnRoutes = body[off : off+wLen]
	off += wLen

	if len(body) < off+2 {
		return fmt.Errorf("%s: missing total_path_attr_len: %w", unmarshalErrPrefix, ErrTruncatedBody)
	}
	aLen := int(binary.BigEndian.Uint16(body[off : off+2]))
	off += 2
	if len(body) < off+aLen {
		return fmt.Errorf("%s: total_path_attr_len %d exceeds body: %w", unmarshalErrPrefix, aLen, ErrInvalidAttrLen)
	}
	u.PathAttributes = body[off : off+aLen]
	off += aLen

	u.NLRI = body[off:]
	return nil
}

// -------------------------------------------------------------------------
// NOTIFICATION — RFC 4271 Section 4.5
// -------------------------------------------------------------------------

// Error codes used by the FSM (RFC 4271 Section 4.5, Section 8).
const (
	// ErrCodeOpenMessage indicates a malformed or invalid OPEN message.
	ErrCodeOpenMessage uint8 = 0x02

	// ErrCodeHoldTimerExpired indicates the HoldTimer expired.
	ErrCodeHoldTimerExpired uint8 = 0x04

	// ErrCodeFSM indicates a message was received out of sequence.
	ErrCodeFSM uint8 = 0x05

	// ErrCodeCease indicates an administrative shutdown (stop()).
	ErrCodeCease uint8 = 0x06
)

// Notification is the decoded NOTIFICATION message body.
type Notification struct {
	// ErrorCode categorizes the error (RFC 4271 Section 4.5).
	ErrorCode uint8

	// ErrorSubcode further qualifies ErrorCode.
	ErrorSubcode uint8

	// Data carries error-specific diagnostic data, opaque to this speaker.
	Data []byte
}

// MarshalNotification serializes n's body into buf.
func MarshalNotification(n *Notification, buf []byte) (int, error) {
	total := 2 + len(n.Data)
	if len(buf) < total {
		return 0, fmt.Errorf("marshal notification: need %d bytes, got %d: %w", total, len(buf), ErrBufTooSmall)
	}
	buf[0] = n.ErrorCode
	buf[1] = n.ErrorSubcode
	copy(buf[2:total], n.Data)
	return total, nil
}

// UnmarshalNotification decodes a NOTIFICATION body into n.
func UnmarshalNotification(body []byte, n *Notification) error {
	if len(body) < 2 {
		return fmt.Errorf("%s: notification body %d bytes, minimum 2: %w", unmarshalErrPrefix, len(body), ErrTruncatedBody)
	}
	n.ErrorCode = body[0]
	n.ErrorSubcode = body[1]
	n.Data = body[2:]
	return nil
}

// -------------------------------------------------------------------------
// KEEPALIVE — RFC 4271 Section 4.4
// -------------------------------------------------------------------------

// Keepalive carries no fields: the header alone constitutes the message.

// -------------------------------------------------------------------------
// ROUTE-REFRESH — RFC 2918 (decoded for framing only, no FSM action)
// -------------------------------------------------------------------------

// RouteRefresh is the decoded ROUTE-REFRESH body. It is kept opaque: this
// speaker never acts on it (RFC 2918 handling is an explicit non-goal).
type RouteRefresh struct {
	Data []byte
}

// UnmarshalRouteRefresh decodes a ROUTE-REFRESH body into r without
// interpreting AFI/SAFI — the framer needs only to know the message was
// well-formed enough to consume, never to act on its content.
func UnmarshalRouteRefresh(body []byte, r *RouteRefresh) error {
	r.Data = body
	return nil
}

// -------------------------------------------------------------------------
// MessagePool — sync.Pool for zero-allocation I/O
// -------------------------------------------------------------------------

// MessagePool provides reusable buffers sized MaxMessageSize for message
// encoding and decoding. Callers Get() a *[]byte and Put() it back once
// the bytes have been consumed or transmitted.
var MessagePool = sync.Pool{
	New: func() any {
		buf := make([]byte, MaxMessageSize)
		return &buf
	},
}
