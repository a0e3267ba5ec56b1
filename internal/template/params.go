package template

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	VisibilityVisible  = "visible"
	VisibilityHeadless = "headless"

	maxTextRunes     = 200
	defaultPageLimit = 1
	maxPageLimit     = 50
)

// Parameters はジョブの検索条件です。
type Parameters struct {
	Query          string            `json:"query"`
	Locality       string            `json:"locality"`
	PageLimit      int               `json:"pageLimit"`
	VisibilityMode string            `json:"visibilityMode"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// Normalize は前後の空白を除去し、既定値を補ったうえで検証済みのコピーを返します。
func (p Parameters) Normalize() (Parameters, error) {
	out := p
	out.Query = strings.TrimSpace(p.Query)
	out.Locality = strings.TrimSpace(p.Locality)
	out.VisibilityMode = strings.ToLower(strings.TrimSpace(p.VisibilityMode))

	if err := validateText("query", out.Query); err != nil {
		return Parameters{}, err
	}
	if err := validateText("locality", out.Locality); err != nil {
		return Parameters{}, err
	}

	if out.PageLimit == 0 {
		out.PageLimit = defaultPageLimit
	}
	if out.PageLimit < 1 || out.PageLimit > maxPageLimit {
		return Parameters{}, fmt.Errorf("%w: pageLimit must be between 1 and %d", ErrInvalidParameters, maxPageLimit)
	}

	switch out.VisibilityMode {
	case "":
		out.VisibilityMode = VisibilityVisible
	case VisibilityVisible, VisibilityHeadless:
	default:
		return Parameters{}, fmt.Errorf("%w: visibilityMode must be %q or %q", ErrInvalidParameters, VisibilityVisible, VisibilityHeadless)
	}

	if len(p.Extra) > 0 {
		out.Extra = make(map[string]string, len(p.Extra))
		for k, v := range p.Extra {
			if !extraKeyPattern.MatchString(k) {
				return Parameters{}, fmt.Errorf("%w: invalid extra key %q", ErrInvalidParameters, k)
			}
			v = strings.TrimSpace(v)
			if err := validateText("extra."+k, v); err != nil {
				return Parameters{}, err
			}
			out.Extra[k] = v
		}
	}
	return out, nil
}

// Headless は visibilityMode を真偽値に射影します。
func (p Parameters) Headless() bool {
	return p.VisibilityMode == VisibilityHeadless
}

func validateText(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidParameters, field)
	}
	if !utf8.ValidString(value) {
		return fmt.Errorf("%w: %s is not valid UTF-8", ErrInvalidParameters, field)
	}
	if utf8.RuneCountInString(value) > maxTextRunes {
		return fmt.Errorf("%w: %s must be at most %d characters", ErrInvalidParameters, field, maxTextRunes)
	}
	for _, r := range value {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: %s contains control characters", ErrInvalidParameters, field)
		}
	}
	return nil
}
