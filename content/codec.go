// Package content parses the content type of inbox messages.
//
// The server labels each message body with a MIME type. Three families are
// understood:
//
//   - text/html: a web page loaded from the message body URL (the default)
//   - text/plain: plain text loaded from the message body URL
//   - application/vnd.urbanairship.thomas+json; version=N: a native layout
//     document of schema version N
//
// Messages with any other type are rejected by the api package when the
// list is parsed, so every stored message has a content type this package
// accepts.
//
// # Usage
//
//	ct, err := content.Of(msg)
//	switch ct.Kind {
//	case content.KindNative:
//	    renderLayout(msg, ct.Version)
//	default:
//	    openWebView(msg.BodyURL)
//	}
package content

import (
	"errors"
	"fmt"
	"mime"
	"strconv"
	"strings"

	"github.com/rbaliyan/inbox/store"
)

// Media types recognised by Parse.
const (
	MediaHTML   = "text/html"
	MediaPlain  = "text/plain"
	MediaNative = "application/vnd.urbanairship.thomas+json"
)

// paramVersion is the media type parameter carrying the native schema version.
const paramVersion = "version"

// Sentinel errors.
var (
	// ErrUnsupportedContentType is returned for a media type outside the
	// supported families.
	ErrUnsupportedContentType = errors.New("content: unsupported content type")

	// ErrMissingVersion is returned for a native content type without a
	// valid version parameter.
	ErrMissingVersion = errors.New("content: native content type requires a version")
)

// Kind is a content type family.
type Kind int

const (
	KindHTML Kind = iota
	KindPlain
	KindNative
)

func (k Kind) String() string {
	switch k {
	case KindHTML:
		return "html"
	case KindPlain:
		return "plain"
	case KindNative:
		return "native"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Type is a parsed message content type. Version is only set for KindNative.
type Type struct {
	Kind    Kind
	Version int
}

// HTML is the content type assumed when a message has none.
var HTML = Type{Kind: KindHTML}

// Plain is the text/plain content type.
var Plain = Type{Kind: KindPlain}

// Native returns the native layout content type of the given version.
func Native(version int) Type {
	return Type{Kind: KindNative, Version: version}
}

// String returns the canonical MIME form of t.
func (t Type) String() string {
	switch t.Kind {
	case KindPlain:
		return MediaPlain
	case KindNative:
		return mime.FormatMediaType(MediaNative, map[string]string{paramVersion: strconv.Itoa(t.Version)})
	default:
		return MediaHTML
	}
}

// Parse parses a content type. An empty string is HTML. Parameters other
// than the native version are ignored. Whitespace is insignificant.
func Parse(s string) (Type, error) {
	s = strings.Join(strings.Fields(s), "")
	if s == "" {
		return HTML, nil
	}

	mediaType, params, err := mime.ParseMediaType(s)
	if err != nil && !errors.Is(err, mime.ErrInvalidMediaParameter) {
		return Type{}, fmt.Errorf("%w: %q: %w", ErrUnsupportedContentType, s, err)
	}

	switch mediaType {
	case MediaHTML:
		return HTML, nil
	case MediaPlain:
		return Plain, nil
	case MediaNative:
		v, err := strconv.Atoi(params[paramVersion])
		if err != nil {
			return Type{}, fmt.Errorf("%w: %q", ErrMissingVersion, s)
		}
		return Native(v), nil
	default:
		return Type{}, fmt.Errorf("%w: %q", ErrUnsupportedContentType, s)
	}
}

// Of returns the content type of msg.
func Of(msg store.Message) (Type, error) {
	return Parse(msg.ContentType)
}

// IsNative reports whether msg carries a native layout document.
func IsNative(msg store.Message) bool {
	t, err := Of(msg)
	return err == nil && t.Kind == KindNative
}

// Predicate returns a store predicate matching messages of the given kind.
// Messages with an unparseable content type never match.
func Predicate(kind Kind) store.Predicate {
	return func(m store.Message) bool {
		t, err := Of(m)
		return err == nil && t.Kind == kind
	}
}
