// Package condition evaluates step and goal condition configs against a
// contact snapshot. Evaluation is a pure function of its inputs: no
// mutation, no I/O beyond read-only lookups, so results are deterministic
// and safe to re-evaluate on retries.
package condition

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/flowlane/flowlane/pkg/contact"
	"github.com/flowlane/flowlane/pkg/protocol"
)

// Condition kinds.
const (
	KindHasTag      = "has_tag"
	KindInList      = "in_list"
	KindFieldValue  = "field_value"
	KindEmailOpened = "email_opened"
	KindLinkClicked = "link_clicked"
)

// Field comparison operators.
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpContains    = "contains"
	OpNotContains = "not_contains"
	OpStartsWith  = "starts_with"
	OpEndsWith    = "ends_with"
	OpIsEmpty     = "is_empty"
	OpIsNotEmpty  = "is_not_empty"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
)

// Evaluate maps (condition config, contact snapshot) to a boolean. The
// events index may be nil; email engagement conditions then evaluate false.
func Evaluate(ctx context.Context, config map[string]any, snapshot *contact.Snapshot, events protocol.EmailEventIndex) (bool, error) {
	kind, _ := config["kind"].(string)

	switch kind {
	case KindHasTag:
		tag, ok := config["tag"].(string)
		if !ok || tag == "" {
			return false, fmt.Errorf("has_tag condition requires a tag")
		}

		return snapshot.HasTag(tag), nil

	case KindInList:
		listID, ok := toInt64(config["list_id"])
		if !ok {
			return false, fmt.Errorf("in_list condition requires a list_id")
		}

		return snapshot.InList(listID), nil

	case KindFieldValue:
		return evaluateField(config, snapshot)

	case KindEmailOpened, KindLinkClicked:
		return evaluateEmailEvent(ctx, kind, config, snapshot, events)

	default:
		return false, fmt.Errorf("unknown condition kind %q", kind)
	}
}

func evaluateField(config map[string]any, snapshot *contact.Snapshot) (bool, error) {
	field, ok := config["field"].(string)
	if !ok || field == "" {
		return false, fmt.Errorf("field_value condition requires a field")
	}

	operator, ok := config["operator"].(string)
	if !ok || operator == "" {
		return false, fmt.Errorf("field_value condition requires an operator")
	}

	actual := snapshot.FieldOrDefault(field, "")
	expected := stringify(config["value"])

	switch operator {
	case OpEquals:
		return actual == expected, nil
	case OpNotEquals:
		return actual != expected, nil
	case OpContains:
		return strings.Contains(actual, expected), nil
	case OpNotContains:
		return !strings.Contains(actual, expected), nil
	case OpStartsWith:
		return strings.HasPrefix(actual, expected), nil
	case OpEndsWith:
		return strings.HasSuffix(actual, expected), nil
	case OpIsEmpty:
		return actual == "", nil
	case OpIsNotEmpty:
		return actual != "", nil
	case OpGreaterThan, OpLessThan:
		left, err := strconv.ParseFloat(strings.TrimSpace(actual), 64)
		if err != nil {
			return false, nil
		}

		right, err := strconv.ParseFloat(strings.TrimSpace(expected), 64)
		if err != nil {
			return false, fmt.Errorf("field_value condition value %q is not numeric", expected)
		}

		if operator == OpGreaterThan {
			return left > right, nil
		}

		return left < right, nil
	default:
		return false, fmt.Errorf("unknown field operator %q", operator)
	}
}

func evaluateEmailEvent(ctx context.Context, kind string, config map[string]any, snapshot *contact.Snapshot, events protocol.EmailEventIndex) (bool, error) {
	if events == nil {
		return false, nil
	}

	stepID, _ := config["step_id"].(string)
	if stepID == "" {
		return false, fmt.Errorf("%s condition requires a step_id", kind)
	}

	eventKind := protocol.EmailEventOpened
	if kind == KindLinkClicked {
		eventKind = protocol.EmailEventClicked
	}

	seen, err := events.Seen(ctx, snapshot.ID, stepID, eventKind)
	if err != nil {
		return false, fmt.Errorf("failed to consult email event index: %w", err)
	}

	return seen, nil
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}

		return parsed, true
	default:
		return 0, false
	}
}
