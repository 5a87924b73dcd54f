package normalize

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"banksync/internal/banksync/failure"

	"golang.org/x/text/encoding/htmlindex"
)

// Reencode converts a bank produced file from its declared charset to utf-8. The
// structure of the file is passed through untouched. Payloads declared as utf-8 that
// are valid utf-8 are returned as is, which makes the conversion idempotent.
func Reencode(payload []byte, sourceEncoding string) ([]byte, error) {
	name := strings.ToLower(strings.TrimSpace(sourceEncoding))
	if name == "" {
		name = "utf-8"
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, failure.Wrap(failure.KindMalformedPayload, "", fmt.Errorf("unknown source encoding %q: %w", sourceEncoding, err))
	}
	canonical, err := htmlindex.Name(enc)
	if err == nil && canonical == "utf-8" {
		if !utf8.Valid(payload) {
			return nil, failure.New(failure.KindMalformedPayload, "", "payload declared as utf-8 is not valid utf-8")
		}
		return payload, nil
	}

	out, err := enc.NewDecoder().Bytes(payload)
	if err != nil {
		return nil, failure.Wrap(failure.KindMalformedPayload, "", fmt.Errorf("decode %s: %w", name, err))
	}
	return out, nil
}
