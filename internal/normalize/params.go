package normalize

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/dunamismax/pixelpress/internal/domain"
)

// ParseBool accepts true/false, 1/0 and yes/no in any case.
func ParseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	default:
		return false, fmt.Errorf("%w: invalid boolean %q", domain.ErrInvalidParameter, raw)
	}
}

func parseInt(name, raw string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", domain.ErrInvalidParameter, name, raw)
	}
	return v, nil
}

func parseQuality(name, raw string) (int, error) {
	q, err := parseInt(name, raw)
	if err != nil {
		return 0, err
	}
	if q < 1 || q > 100 {
		return 0, fmt.Errorf("%w: %s must be between 1 and 100, got %d", domain.ErrInvalidParameter, name, q)
	}
	return q, nil
}

// queryParams reads optional query values. A key that is present with an
// empty value is treated as absent.
type queryParams struct {
	values url.Values
	err    error
}

func (p *queryParams) lookup(key string) (string, bool) {
	raw := strings.TrimSpace(p.values.Get(key))
	return raw, raw != ""
}

func (p *queryParams) quality(key string, into *int) {
	raw, ok := p.lookup(key)
	if !ok || p.err != nil {
		return
	}
	*into, p.err = parseQuality(key, raw)
}

func (p *queryParams) boolean(key string, into *bool) {
	raw, ok := p.lookup(key)
	if !ok || p.err != nil {
		return
	}
	*into, p.err = ParseBool(raw)
}

func (p *queryParams) integer(key string, into *int) {
	raw, ok := p.lookup(key)
	if !ok || p.err != nil {
		return
	}
	*into, p.err = parseInt(key, raw)
}

func (p *queryParams) optionalInt(key string) *int {
	raw, ok := p.lookup(key)
	if !ok || p.err != nil {
		return nil
	}
	v, err := parseInt(key, raw)
	if err != nil {
		p.err = err
		return nil
	}
	return &v
}

func (p *queryParams) format(key string, into **domain.Format) {
	raw, ok := p.lookup(key)
	if !ok || p.err != nil {
		return
	}
	*into, p.err = domain.ParseFormat(raw)
}

func (p *queryParams) resizeMode(key string, into *domain.ResizeMode) {
	raw, _ := p.lookup(key)
	if p.err != nil {
		return
	}
	*into, p.err = domain.ParseResizeMode(raw)
}
