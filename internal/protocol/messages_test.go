package protocol

import (
	"errors"
	"testing"
)

func TestParseClientFrame(t *testing.T) {
	cases := []struct {
		name string
		data string
		want FrameType
	}{
		{"command", `{"type":"command","name":"start"}`, TypeCommand},
		{"button", `{"type":"button","token":"merge"}`, TypeButton},
		{"text", `{"type":"text","content":"hello"}`, TypeText},
		{"file", `{"type":"file","name":"a.pdf","size":3,"data_base64":"YWJj"}`, TypeFile},
	}
	for _, tc := range cases {
		v, err := ParseClientFrame([]byte(tc.data))
		if err != nil {
			t.Fatalf("%s: ParseClientFrame() error = %v", tc.name, err)
		}
		var got FrameType
		switch m := v.(type) {
		case ClientCommand:
			got = m.Type
		case ClientButton:
			got = m.Type
		case ClientText:
			got = m.Type
		case ClientFile:
			got = m.Type
		default:
			t.Fatalf("%s: unexpected type %T", tc.name, v)
		}
		if got != tc.want {
			t.Fatalf("%s: type = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestParseClientFrameRejectsUnknown(t *testing.T) {
	if _, err := ParseClientFrame([]byte(`{"type":"mystery"}`)); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
	if _, err := ParseClientFrame([]byte(`not json`)); err == nil {
		t.Fatalf("malformed JSON should error")
	}
}
