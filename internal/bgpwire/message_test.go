package bgpwire_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/dantte-lp/bgpfuzz/internal/bgpwire"
)

// -------------------------------------------------------------------------
// Header round-trip and boundary tests (spec.md §8)
// -------------------------------------------------------------------------

func TestHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	h := bgpwire.Header{Length: 19, Type: bgpwire.KindKeepalive}
	buf := make([]byte, bgpwire.HeaderSize)
	if err := bgpwire.EncodeHeader(h, buf); err != nil {
		t.Fatalf("EncodeHeader: %v", err)
	}

	got, err := bgpwire.DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if got != h {
		t.Errorf("DecodeHeader(EncodeHeader(h)) = %+v, want %+v", got, h)
	}
	if !bytes.Equal(buf[:bgpwire.MarkerSize], bgpwire.Marker[:]) {
		t.Errorf("encoded marker = % x, want all-ones", buf[:bgpwire.MarkerSize])
	}
}

func TestDecodeHeaderBoundaries(t *testing.T) {
	t.Parallel()

	validMarker := bgpwire.Marker

	mkHeader := func(length uint16, typ uint8, mutateMarker func([16]byte) [16]byte) []byte {
		m := validMarker
		if mutateMarker != nil {
			m = mutateMarker(m)
		}
		buf := make([]byte, bgpwire.HeaderSize)
		copy(buf, m[:])
		buf[16] = byte(length >> 8)
		buf[17] = byte(length)
		buf[18] = typ
		return buf
	}

	tests := []struct {
		name    string
		buf     []byte
		wantErr error
	}{
		{
			name:    "length 18 is below minimum",
			buf:     mkHeader(18, 4, nil),
			wantErr: bgpwire.ErrInvalidLength,
		},
		{
			name:    "length 19 keepalive accepted",
			buf:     mkHeader(19, 4, nil),
			wantErr: nil,
		},
		{
			name:    "length 4096 accepted",
			buf:     mkHeader(4096, 4, nil),
			wantErr: nil,
		},
		{
			name:    "length 4097 rejected",
			buf:     mkHeader(4097, 4, nil),
			wantErr: bgpwire.ErrInvalidLength,
		},
		{
			name:    "type 0 rejected",
			buf:     mkHeader(19, 0, nil),
			wantErr: bgpwire.ErrInvalidType,
		},
		{
			name:    "type 5 (route-refresh) accepted",
			buf:     mkHeader(19, 5, nil),
			wantErr: nil,
		},
		{
			name:    "type 6 rejected",
			buf:     mkHeader(19, 6, nil),
			wantErr: bgpwire.ErrInvalidType,
		},
		{
			name: "marker single bit cleared",
			buf: mkHeader(19, 4, func(m [16]byte) [16]byte {
				m[0] = 0x7F
				return m
			}),
			wantErr: bgpwire.ErrInvalidMarker,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := bgpwire.DecodeHeader(tt.buf)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("DecodeHeader() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("DecodeHeader() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeHeaderTooShort(t *testing.T) {
	t.Parallel()

	_, err := bgpwire.DecodeHeader(make([]byte, 10))
	if !errors.Is(err, bgpwire.ErrPacketTooShort) {
		t.Fatalf("DecodeHeader(short) error = %v, want ErrPacketTooShort", err)
	}
}

// -------------------------------------------------------------------------
// OPEN round-trip
// -------------------------------------------------------------------------

func TestOpenRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		open bgpwire.Open
	}{
		{
			name: "no optional parameters",
			open: bgpwire.Open{
				Version:  4,
				MyAS:     65001,
				HoldTime: 90,
				BGPID:    [4]byte{1, 1, 1, 1},
			},
		},
		{
			name: "opaque optional parameters round-trip byte-accurate",
			open: bgpwire.Open{
				Version:   4,
				MyAS:      65002,
				HoldTime:  0,
				BGPID:     [4]byte{2, 2, 2, 2},
				OptParams: []byte{0x02, 0x06, 0x01, 0x04, 0x00, 0x01, 0x00, 0x01},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			buf := make([]byte, 256)
			n, err := bgpwire.MarshalOpen(&tt.open, buf)
			if err != nil {
				t.Fatalf("MarshalOpen: %v", err)
			}

			var got bgpwire.Open
			if err := bgpwire.UnmarshalOpen(buf[:n], &got); err != nil {
				t.Fatalf("UnmarshalOpen: %v", err)
			}
			if got.Version != tt.open.Version || got.MyAS != tt.open.MyAS ||
				got.HoldTime != tt.open.HoldTime || got.BGPID != tt.open.BGPID {
				t.Errorf("round-trip fields = %+v, want %+v", got, tt.open)
			}
			if !bytes.Equal(got.OptParams, tt.open.OptParams) {
				t.Errorf("round-trip OptParams = % x, want % x", got.OptParams, tt.open.OptParams)
			}
		})
	}
}

func TestUnmarshalOpenInvalidVersion(t *testing.T) {
	t.Parallel()

	body := make([]byte, 10)
	body[0] = 5 // version
	var o bgpwire.Open
	err := bgpwire.UnmarshalOpen(body, &o)
	if !errors.Is(err, bgpwire.ErrInvalidVersion) {
		t.Fatalf("UnmarshalOpen() error = %v, want ErrInvalidVersion", err)
	}
}

func TestUnmarshalOpenTruncated(t *testing.T) {
	t.Parallel()

	var o bgpwire.Open
	err := bgpwire.UnmarshalOpen(make([]byte, 5), &o)
	if !errors.Is(err, bgpwire.ErrTruncatedBody) {
		t.Fatalf("UnmarshalOpen(truncated) error = %v, want ErrTruncatedBody", err)
	}
}

func TestUnmarshalOpenOptParamLenOverflow(t *testing.T) {
	t.Parallel()

	body := make([]byte, 10)
	body[0] = bgpwire.Version
	body[9] = 200 // claims 200 bytes of opt params, none present
	var o bgpwire.Open
	err := bgpwire.UnmarshalOpen(body, &o)
	if !errors.Is(err, bgpwire.ErrInvalidOptParamLen) {
		t.Fatalf("UnmarshalOpen(bad opt_param_len) error = %v, want ErrInvalidOptParamLen", err)
	}
}

// -------------------------------------------------------------------------
// UPDATE round-trip (opaque byte-accurate blobs)
// -------------------------------------------------------------------------

func TestUpdateRoundTrip(t *testing.T) {
	t.Parallel()

	u := bgpwire.Update{
		WithdrawnRoutes: []byte{24, 10, 0, 0},
		PathAttributes:  []byte{0x40, 0x01, 0x01, 0x00},
		NLRI:            []byte{16, 192, 168},
	}

	buf := make([]byte, 64)
	n, err := bgpwire.MarshalUpdate(&u, buf)
	if err != nil {
		t.Fatalf("MarshalUpdate: %v", err)
	}

	var got bgpwire.Update
	if err := bgpwire.UnmarshalUpdate(buf[:n], &got); err != nil {
		t.Fatalf("UnmarshalUpdate: %v", err)
	}
	if !bytes.Equal(got.WithdrawnRoutes, u.WithdrawnRoutes) ||
		!bytes.Equal(got.PathAttributes, u.PathAttributes) ||
		!bytes.Equal(got.NLRI, u.NLRI) {
		t.Errorf("round-trip = %+v, want %+v", got, u)
	}
}

func TestUnmarshalUpdateInvalidAttrLen(t *testing.T) {
	t.Parallel()

	body := []byte{0x00, 0x00, 0xFF, 0xFF} // withdrawn_routes_len=0, total_path_attr_len=65535
	var u bgpwire.Update
	err := bgpwire.UnmarshalUpdate(body, &u)
	if !errors.Is(err, bgpwire.ErrInvalidAttrLen) {
		t.Fatalf("UnmarshalUpdate() error = %v, want ErrInvalidAttrLen", err)
	}
}

// -------------------------------------------------------------------------
// NOTIFICATION round-trip
// -------------------------------------------------------------------------

func TestNotificationRoundTrip(t *testing.T) {
	t.Parallel()

	n := bgpwire.Notification{
		ErrorCode:    bgpwire.ErrCodeHoldTimerExpired,
		ErrorSubcode: 0,
		Data:         []byte{0xAA, 0xBB},
	}

	buf := make([]byte, 32)
	written, err := bgpwire.MarshalNotification(&n, buf)
	if err != nil {
		t.Fatalf("MarshalNotification: %v", err)
	}

	var got bgpwire.Notification
	if err := bgpwire.UnmarshalNotification(buf[:written], &got); err != nil {
		t.Fatalf("UnmarshalNotification: %v", err)
	}
	if got.ErrorCode != n.ErrorCode || got.ErrorSubcode != n.ErrorSubcode || !bytes.Equal(got.Data, n.Data) {
		t.Errorf("round-trip = %+v, want %+v", got, n)
	}
}

// -------------------------------------------------------------------------
// Kind
// -------------------------------------------------------------------------

func TestKindIsValid(t *testing.T) {
	t.Parallel()

	for k := bgpwire.Kind(0); k < 8; k++ {
		want := k >= bgpwire.KindOpen && k <= bgpwire.KindRouteRefresh
		if got := k.IsValid(); got != want {
			t.Errorf("Kind(%d).IsValid() = %v, want %v", k, got, want)
		}
	}
}

func TestKindString(t *testing.T) {
	t.Parallel()

	tests := map[bgpwire.Kind]string{
		bgpwire.KindOpen:         "OPEN",
		bgpwire.KindUpdate:       "UPDATE",
		bgpwire.KindNotification: "NOTIFICATION",
		bgpwire.KindKeepalive:    "KEEPALIVE",
		bgpwire.KindRouteRefresh: "ROUTE-REFRESH",
	}
	for k, want := range tests {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
	if got := bgpwire.Kind(99).String(); got != "Unknown(99)" {
		t.Errorf("Kind(99).String() = %q, want Unknown(99)", got)
	}
}

// -------------------------------------------------------------------------
// MessagePool
// -------------------------------------------------------------------------

func TestMessagePool(t *testing.T) {
	t.Parallel()

	v := bgpwire.MessagePool.Get()
	buf, ok := v.(*[]byte)
	if !ok {
		t.Fatalf("MessagePool.Get() type = %T, want *[]byte", v)
	}
	if len(*buf) != bgpwire.MaxMessageSize {
		t.Errorf("pooled buffer length = %d, want %d", len(*buf), bgpwire.MaxMessageSize)
	}
	bgpwire.MessagePool.Put(buf)
}
