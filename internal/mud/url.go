package mud

import (
	"errors"
	"fmt"
	"net/url"
)

// MaxURLLength bounds MUD and signature URLs.
const MaxURLLength = 2048

var (
	ErrURLEmpty    = errors.New("url is empty")
	ErrURLTooLong  = errors.New("url too long")
	ErrURLScheme   = errors.New("url scheme must be https")
	ErrURLHost     = errors.New("url has no host")
	ErrURLUserinfo = errors.New("url must not carry credentials")
	ErrURLFragment = errors.New("url must not carry a fragment")
)

// ValidateURL checks that raw is usable as a MUD URL (RFC 8520 section 1.8):
// absolute https with a host and no userinfo or fragment.
func ValidateURL(raw string) error {
	if raw == "" {
		return ErrURLEmpty
	}
	if len(raw) > MaxURLLength {
		return fmt.Errorf("%w: %d > %d", ErrURLTooLong, len(raw), MaxURLLength)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("%w: got %q", ErrURLScheme, u.Scheme)
	}
	if u.Hostname() == "" {
		return ErrURLHost
	}
	if u.User != nil {
		return ErrURLUserinfo
	}
	if u.Fragment != "" || u.RawFragment != "" {
		return ErrURLFragment
	}
	return nil
}
