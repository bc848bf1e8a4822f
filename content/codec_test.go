package content

import (
	"errors"
	"testing"

	"github.com/rbaliyan/inbox/store"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Type
		wantErr error
	}{
		{"empty defaults to html", "", HTML, nil},
		{"html", "text/html", HTML, nil},
		{"html with charset", "text/html; charset=utf-8", HTML, nil},
		{"plain", "text/plain", Plain, nil},
		{"upper case", "TEXT/PLAIN", Plain, nil},
		{"native", "application/vnd.urbanairship.thomas+json; version=3", Native(3), nil},
		{"native trailing semicolon", "application/vnd.urbanairship.thomas+json; version=3;", Native(3), nil},
		{"native spaces", "application/vnd.urbanairship.thomas+json ; version = 12", Native(12), nil},
		{"native without version", "application/vnd.urbanairship.thomas+json", Type{}, ErrMissingVersion},
		{"native bad version", "application/vnd.urbanairship.thomas+json; version=x", Type{}, ErrMissingVersion},
		{"unknown", "application/pdf", Type{}, ErrUnsupportedContentType},
		{"garbage", "///", Type{}, ErrUnsupportedContentType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Parse(%q) error = %v, want %v", tt.in, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestTypeString(t *testing.T) {
	for _, ct := range []Type{HTML, Plain, Native(1), Native(42)} {
		t.Run(ct.String(), func(t *testing.T) {
			back, err := Parse(ct.String())
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if back != ct {
				t.Errorf("got %+v, want %+v", back, ct)
			}
		})
	}
}

func TestPredicate(t *testing.T) {
	msgs := []store.Message{
		{ID: "html"},
		{ID: "plain", ContentType: MediaPlain},
		{ID: "native", ContentType: Native(2).String()},
		{ID: "bad", ContentType: "image/png"},
	}

	var native []string
	for _, m := range msgs {
		if Predicate(KindNative).Match(m) {
			native = append(native, m.ID)
		}
	}
	if len(native) != 1 || native[0] != "native" {
		t.Errorf("expected only native to match, got %v", native)
	}

	if !Predicate(KindHTML).Match(msgs[0]) {
		t.Error("message without content type should be html")
	}
	if Predicate(KindHTML).Match(msgs[3]) {
		t.Error("unparseable content type should not match")
	}
	if !IsNative(msgs[2]) || IsNative(msgs[1]) {
		t.Error("IsNative mismatch")
	}
}
