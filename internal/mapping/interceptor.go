package mapping

import (
	"fmt"
	"strings"

	"github.com/evanschultz/indexplan/internal/domain"
	"github.com/evanschultz/indexplan/internal/workplan"
)

// ParseOverride maps a configured override name to its work-plan value.
func ParseOverride(raw string) (workplan.Override, error) {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "", "apply_default":
		return workplan.OverrideApplyDefault, nil
	case "update":
		return workplan.OverrideUpdate, nil
	case "skip":
		return workplan.OverrideSkip, nil
	case "remove":
		return workplan.OverrideRemove, nil
	default:
		return 0, fmt.Errorf("unknown override %q", raw)
	}
}

// fieldInterceptor returns its override when a record field equals a value.
type fieldInterceptor struct {
	field    string
	equals   string
	override workplan.Override
}

// newFieldInterceptor validates one intercept spec.
func newFieldInterceptor(spec InterceptSpec) (*fieldInterceptor, error) {
	field := strings.TrimSpace(spec.Field)
	if field == "" {
		return nil, fmt.Errorf("intercept.field is required")
	}
	override, err := ParseOverride(spec.Override)
	if err != nil {
		return nil, fmt.Errorf("intercept.override: %w", err)
	}
	return &fieldInterceptor{field: field, equals: spec.Equals, override: override}, nil
}

// OnUpdate returns the configured override for matching records.
func (i *fieldInterceptor) OnUpdate(instance any) workplan.Override {
	rec, err := asRecord(instance)
	if err != nil {
		return workplan.OverrideApplyDefault
	}
	value, ok := rec.Field(i.field)
	if !ok || domain.FormatValue(value) != i.equals {
		return workplan.OverrideApplyDefault
	}
	return i.override
}
