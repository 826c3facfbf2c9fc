package widget

import (
	"fmt"
	"strings"

	"codeberg.org/mutker/batterywidget/internal/errors"
	lev "github.com/agnivade/levenshtein"
)

// Kind selects the renderer used for a widget instance.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindIconDetail
	KindTextOnly
	KindDetailsTable
	KindGraph
)

// DefaultKind is used for instances that have no stored kind.
const DefaultKind = KindDetailsTable

var kindNames = map[Kind]string{
	KindIconDetail:   "icon_detail",
	KindTextOnly:     "text_only",
	KindDetailsTable: "details_table",
	KindGraph:        "graph",
}

// Kinds lists every known kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindIconDetail, KindTextOnly, KindDetailsTable, KindGraph}
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind resolves a kind name. Matching ignores case, spaces, dashes and
// underscores, so "DetailsTable" and "details-table" are equivalent. On a
// miss the error names the closest known kind.
func ParseKind(name string) (Kind, error) {
	errFactory := errors.New()

	want := normalizeKindName(name)
	best, bestDist := "", -1
	for _, k := range Kinds() {
		candidate := normalizeKindName(kindNames[k])
		if candidate == want {
			return k, nil
		}
		if d := lev.ComputeDistance(want, candidate); bestDist < 0 || d < bestDist {
			best, bestDist = kindNames[k], d
		}
	}

	msg := fmt.Sprintf("unknown widget kind %q", name)
	if want != "" && bestDist <= len(want)/2+1 {
		msg += fmt.Sprintf(", did you mean %q?", best)
	}

	return KindUnknown, errFactory.WithMessage(ErrUnknownKind, msg)
}

func normalizeKindName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', ' ':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(name)))
}
