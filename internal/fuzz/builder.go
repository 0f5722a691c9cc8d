package fuzz

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/dantte-lp/bgpfuzz/internal/bgpwire"
)

// fuzzField is one named field of a message, in wire-definition order,
// represented by its octet encoding. Fuzzing operates on this
// representation directly rather than on the typed struct, so a mutated
// length field need not agree with the data that follows it — producing
// deliberately malformed traffic is the point of this seam.
type fuzzField struct {
	name  string
	bytes []byte
}

// Builder is the single entry point that turns a symbolic message
// request (kind + fields) into outbound wire bytes. No other code path
// in this module serializes a message for transmission, guaranteeing at
// most one fuzz interception per outbound message (see package doc and
// this speaker's message-builder component).
type Builder struct {
	spec atomic.Pointer[Spec]
}

// NewBuilder returns a Builder with no FuzzSpec attached.
func NewBuilder() *Builder {
	return &Builder{}
}

// Attach publishes spec as the active FuzzSpec. Takes effect for
// subsequent builds only; in-flight builds already past the fuzz step
// are unaffected. Valid to call in any session state.
func (b *Builder) Attach(spec Spec) {
	b.spec.Store(&spec)
}

// Detach removes any attached FuzzSpec; subsequent builds are pure
// functions of (kind, fields).
func (b *Builder) Detach() {
	b.spec.Store(nil)
}

// currentSpec reads the attached spec, or nil if none is attached.
func (b *Builder) currentSpec() Spec {
	p := b.spec.Load()
	if p == nil {
		return nil
	}
	return *p
}

// BuildOpen assembles and serializes an OPEN message.
func (b *Builder) BuildOpen(o bgpwire.Open) ([]byte, error) {
	fields := []fuzzField{
		{"version", []byte{o.Version}},
		{"my_as", be16(o.MyAS)},
		{"hold_time", be16(o.HoldTime)},
		{"bgp_id", cloneBytes(o.BGPID[:])},
		{"opt_param_len", []byte{uint8(len(o.OptParams))}},
		{"opt_params", cloneBytes(o.OptParams)},
	}
	return b.build(KindOpen, bgpwire.KindOpen, fields)
}

// BuildKeepalive assembles and serializes a KEEPALIVE message (header only).
func (b *Builder) BuildKeepalive() ([]byte, error) {
	return b.build(KindKeepalive, bgpwire.KindKeepalive, nil)
}

// BuildUpdate assembles and serializes an UPDATE message.
func (b *Builder) BuildUpdate(u bgpwire.Update) ([]byte, error) {
	fields := []fuzzField{
		{"withdrawn_routes_len", be16(uint16(len(u.WithdrawnRoutes)))},
		{"withdrawn_routes", cloneBytes(u.WithdrawnRoutes)},
		{"path_attr_len", be16(uint16(len(u.PathAttributes)))},
		{"path_attr", cloneBytes(u.PathAttributes)},
		{"nlri", cloneBytes(u.NLRI)},
	}
	return b.build(KindUpdate, bgpwire.KindUpdate, fields)
}

// BuildNotification assembles and serializes a NOTIFICATION message.
func (b *Builder) BuildNotification(n bgpwire.Notification) ([]byte, error) {
	fields := []fuzzField{
		{"error_code", []byte{n.ErrorCode}},
		{"error_subcode", []byte{n.ErrorSubcode}},
		{"data", cloneBytes(n.Data)},
	}
	return b.build(KindNotification, bgpwire.KindNotification, fields)
}

// build runs the three-step process common to every message kind:
// (1) the typed fields passed in by the caller are already the "default
// in-memory message"; (2) fuzz fields in declared order, including the
// synthetic "header" field; (3) serialize.
func (b *Builder) build(kindName string, wireType bgpwire.Kind, bodyFields []fuzzField) ([]byte, error) {
	spec := b.currentSpec()
	applyFuzz(spec, kindName, bodyFields)

	body := assemble(bodyFields)
	totalLen := bgpwire.HeaderSize + len(body)
	if totalLen > bgpwire.MaxMessageSize {
		return nil, fmt.Errorf("build %s: message length %d exceeds max %d", kindName, totalLen, bgpwire.MaxMessageSize)
	}

	header := make([]byte, bgpwire.HeaderSize)
	copy(header[:bgpwire.MarkerSize], bgpwire.Marker[:])
	binary.BigEndian.PutUint16(header[bgpwire.MarkerSize:bgpwire.MarkerSize+2], uint16(totalLen))
	header[bgpwire.MarkerSize+2] = uint8(wireType)

	headerField := []fuzzField{{"header", header}}
	applyFuzz(spec, kindName, headerField)
	header = headerField[0].bytes

	out := make([]byte, 0, len(header)+len(body))
	out = append(out, header...)
	out = append(out, body...)
	return out, nil
}

// applyFuzz mutates each field in fields whose FuzzSpec entry is enabled,
// in declared order: substitute BaseValue (unless UseDefault), then run
// each named strategy in list order.
func applyFuzz(spec Spec, kindName string, fields []fuzzField) {
	if spec == nil {
		return
	}
	for i := range fields {
		ff, ok := spec.fieldOf(kindName, fields[i].name)
		if !ok || !ff.Enabled {
			continue
		}
		if !ff.UseDefault {
			fields[i].bytes = cloneBytes(ff.BaseValue)
		}
		for _, name := range ff.Strategies {
			strat := lookupStrategy(name)
			if strat == nil {
				continue
			}
			fields[i].bytes = strat(fields[i].bytes)
		}
	}
}

// assemble concatenates field octets in order, producing the message body.
func assemble(fields []fuzzField) []byte {
	var out []byte
	for _, f := range fields {
		out = append(out, f.bytes...)
	}
	return out
}

func be16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
