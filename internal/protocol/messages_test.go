package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageTranscription(t *testing.T) {
	raw := []byte(`{"type":"transcription","text":"hey mira","is_final":true,"ts_ms":123}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	tr, ok := msg.(Transcription)
	if !ok {
		t.Fatalf("message type = %T, want Transcription", msg)
	}
	if tr.Text != "hey mira" || !tr.IsFinal || tr.TSMs != 123 {
		t.Fatalf("unexpected transcription: %+v", tr)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageHeadPosition(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"head_position","position":" UP "}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if hp := msg.(HeadPosition); hp.Position != "up" {
		t.Fatalf("Position = %q, want up", hp.Position)
	}
	if _, err := ParseClientMessage([]byte(`{"type":"head_position","position":"sideways"}`)); err == nil {
		t.Fatalf("expected validation error for sideways")
	}
}

func TestParseClientMessageValidation(t *testing.T) {
	bad := []string{
		`{"type":"location","lat":91,"lng":0}`,
		`{"type":"photo_response","request_id":""}`,
		`{"type":"photo_response","request_id":"r1"}`,
		`{"type":"playback_done"}`,
		`not json`,
	}
	for _, raw := range bad {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("ParseClientMessage(%s) expected error", raw)
		}
	}

	msg, err := ParseClientMessage([]byte(`{"type":"photo_response","request_id":"r1","error":"camera busy"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if pr := msg.(PhotoResponse); pr.Error != "camera busy" {
		t.Fatalf("Error = %q", pr.Error)
	}
}

func TestTypeOf(t *testing.T) {
	typ, ok := TypeOf(DisplayText{Type: TypeDisplayText})
	if !ok || typ != TypeDisplayText {
		t.Fatalf("TypeOf() = %q, %v", typ, ok)
	}
	if _, ok := TypeOf(struct{}{}); ok {
		t.Fatalf("TypeOf(struct{}) ok = true, want false")
	}
}

func BenchmarkParseClientMessageTranscription(b *testing.B) {
	raw := []byte(`{"type":"transcription","text":"hey mira what is the capital of france","is_final":false,"ts_ms":123456}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(Transcription); !ok {
			b.Fatalf("message type = %T, want Transcription", msg)
		}
	}
}
