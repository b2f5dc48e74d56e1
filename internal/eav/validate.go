package eav

import "fmt"

// Validate applies the definition's rules to an encoded value. It runs
// strictly before persistence; a rule violation means nothing is written.
func Validate(tv TypedValue, def *AttributeDefinition) error {
	if tv.PopulatedSlots() == 0 {
		if def.Required {
			return &ValidationError{Attribute: def.Name, Rule: "required",
				Reason: "value is required"}
		}
		return nil
	}

	rules := def.ValidationRules

	switch tv.Kind {
	case KindInteger:
		if tv.Integer != nil {
			if err := checkBounds(def.Name, float64(*tv.Integer), rules); err != nil {
				return err
			}
		}
	case KindDecimal:
		if tv.Decimal != nil {
			if err := checkBounds(def.Name, *tv.Decimal, rules); err != nil {
				return err
			}
		}
	case KindString:
		if tv.String != nil {
			if def.Required && *tv.String == "" {
				return &ValidationError{Attribute: def.Name, Rule: "required",
					Reason: "value is required"}
			}
			if err := checkEnum(def.Name, *tv.String, rules); err != nil {
				return err
			}
			if err := checkLength(def.Name, *tv.String, rules); err != nil {
				return err
			}
		}
	case KindText:
		if tv.Text != nil && def.Required && *tv.Text == "" {
			return &ValidationError{Attribute: def.Name, Rule: "required",
				Reason: "value is required"}
		}
	}

	return nil
}

func checkBounds(attr string, v float64, rules ValidationRules) error {
	if rules.Min != nil && v < *rules.Min {
		return &ValidationError{Attribute: attr, Rule: "min",
			Reason: fmt.Sprintf("value %v is below minimum %v", v, *rules.Min)}
	}
	if rules.Max != nil && v > *rules.Max {
		return &ValidationError{Attribute: attr, Rule: "max",
			Reason: fmt.Sprintf("value %v is above maximum %v", v, *rules.Max)}
	}
	return nil
}

func checkEnum(attr, v string, rules ValidationRules) error {
	if len(rules.Enum) == 0 {
		return nil
	}
	for _, allowed := range rules.Enum {
		if v == allowed {
			return nil
		}
	}
	return &ValidationError{Attribute: attr, Rule: "enum",
		Reason: fmt.Sprintf("value %q is not in the allowed set", v)}
}

func checkLength(attr, v string, rules ValidationRules) error {
	limit := MaxStringLength
	if rules.MaxLength != nil && *rules.MaxLength < limit {
		limit = *rules.MaxLength
	}
	if len([]rune(v)) > limit {
		return &ValidationError{Attribute: attr, Rule: "length",
			Reason: fmt.Sprintf("value exceeds maximum length %d", limit)}
	}
	return nil
}
