package audio

import (
	"errors"
	"fmt"
	"strings"

	"github.com/himanishpuri/audion/pkg/utils"
)

// ErrUnsupportedFormat is returned for files whose extension is not in the
// allow-list.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// DefaultFormats is the allow-list used when none is configured.
var DefaultFormats = []string{"wav", "mp3", "flac", "m4a"}

// FormatPolicy decides which file extensions are accepted.
type FormatPolicy struct {
	list    []string
	allowed map[string]struct{}
}

// NewFormatPolicy builds a policy from extension names. Leading dots and case
// are ignored; an empty list means DefaultFormats.
func NewFormatPolicy(formats []string) FormatPolicy {
	if len(formats) == 0 {
		formats = DefaultFormats
	}
	p := FormatPolicy{allowed: make(map[string]struct{}, len(formats))}
	for _, f := range formats {
		f = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(f), "."))
		if f == "" {
			continue
		}
		if _, dup := p.allowed[f]; dup {
			continue
		}
		p.allowed[f] = struct{}{}
		p.list = append(p.list, f)
	}
	return p
}

// ParseFormats splits a comma separated list such as "wav, mp3,flac".
func ParseFormats(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (p FormatPolicy) Formats() []string {
	out := make([]string, len(p.list))
	copy(out, p.list)
	return out
}

func (p FormatPolicy) Allowed(name string) bool {
	_, ok := p.allowed[utils.Extension(name)]
	return ok
}

// Check returns an error wrapping ErrUnsupportedFormat when name is rejected.
func (p FormatPolicy) Check(name string) error {
	if p.Allowed(name) {
		return nil
	}
	ext := utils.Extension(name)
	if ext == "" {
		ext = "(none)"
	}
	return fmt.Errorf("%w: %q has extension %s, allowed: %s",
		ErrUnsupportedFormat, name, ext, strings.Join(p.list, ", "))
}
