// Package sql provides template validation and parameter binding for the
// approved statement catalog. Statement text is fixed at load time; only
// parameter values vary per turn, and they are always bound positionally.
package sql

import (
	"fmt"
	"regexp"
)

// parameterRegex matches {{parameter_name}} placeholders in catalog templates.
// Names start with a letter or underscore, followed by word characters.
var parameterRegex = regexp.MustCompile(`\{\{([a-zA-Z_]\w*)\}\}`)

// ParamType enumerates the value types a template parameter may declare.
type ParamType string

const (
	TypeString    ParamType = "string"
	TypeInteger   ParamType = "integer"
	TypeDecimal   ParamType = "decimal"
	TypeBoolean   ParamType = "boolean"
	TypeDate      ParamType = "date"
	TypeTimestamp ParamType = "timestamp"
	TypeUUID      ParamType = "uuid"
)

// KnownParamType reports whether t is a supported parameter type.
func KnownParamType(t ParamType) bool {
	switch t {
	case TypeString, TypeInteger, TypeDecimal, TypeBoolean, TypeDate, TypeTimestamp, TypeUUID:
		return true
	}
	return false
}

// Parameter declares one bindable value of a catalog template.
type Parameter struct {
	Name      string    `yaml:"name"`
	Type      ParamType `yaml:"type"`
	Required  bool      `yaml:"required"`
	Default   any       `yaml:"default,omitempty"`
	MaxLength int       `yaml:"max_length,omitempty"`
}

// ExtractParameters finds all {{param}} placeholders and returns the
// deduplicated names in order of first appearance.
func ExtractParameters(sqlQuery string) []string {
	matches := parameterRegex.FindAllStringSubmatch(sqlQuery, -1)
	seen := make(map[string]bool)
	var params []string

	for _, match := range matches {
		name := match[1]
		if !seen[name] {
			seen[name] = true
			params = append(params, name)
		}
	}

	return params
}

// ValidateParameterDefinitions checks that template placeholders and declared
// parameters match exactly: every placeholder has a definition and every
// definition is used.
func ValidateParameterDefinitions(sqlQuery string, params []Parameter) error {
	extracted := ExtractParameters(sqlQuery)

	extractedSet := make(map[string]bool, len(extracted))
	for _, name := range extracted {
		extractedSet[name] = true
	}

	definedSet := make(map[string]bool, len(params))
	for _, p := range params {
		definedSet[p.Name] = true
	}

	for _, name := range extracted {
		if !definedSet[name] {
			return fmt.Errorf("parameter {{%s}} used in SQL but not defined", name)
		}
	}
	for _, p := range params {
		if !extractedSet[p.Name] {
			return fmt.Errorf("parameter %q is defined but not used in SQL", p.Name)
		}
	}

	return nil
}

// FindParametersInStringLiterals returns placeholders that sit inside single
// quoted literals. Those never bind; the database would see $N as text.
func FindParametersInStringLiterals(sqlQuery string) []string {
	var problems []string
	seen := make(map[string]bool)

	inString := false
	stringStart := 0
	i := 0

	for i < len(sqlQuery) {
		ch := sqlQuery[i]

		if ch == '\'' {
			if inString {
				// Escaped quote ('') stays inside the literal
				if i+1 < len(sqlQuery) && sqlQuery[i+1] == '\'' {
					i += 2
					continue
				}
				stringContent := sqlQuery[stringStart+1 : i]
				matches := parameterRegex.FindAllStringSubmatch(stringContent, -1)
				for _, match := range matches {
					name := match[1]
					if !seen[name] {
						seen[name] = true
						problems = append(problems, name)
					}
				}
				inString = false
			} else {
				inString = true
				stringStart = i
			}
		}
		i++
	}

	return problems
}

// SubstituteParameters replaces {{param}} placeholders with PostgreSQL
// positional parameters and returns the prepared SQL plus ordered values.
// A parameter used more than once reuses its $N; parameters absent from
// values fall back to their declared defaults.
func SubstituteParameters(
	sqlQuery string,
	paramDefs []Parameter,
	values map[string]any,
) (string, []any) {
	defLookup := make(map[string]Parameter, len(paramDefs))
	for _, p := range paramDefs {
		defLookup[p.Name] = p
	}

	var orderedValues []any
	paramIndex := 1
	paramPositions := make(map[string]int)

	result := parameterRegex.ReplaceAllStringFunc(sqlQuery, func(match string) string {
		name := parameterRegex.FindStringSubmatch(match)[1]

		if pos, exists := paramPositions[name]; exists {
			return fmt.Sprintf("$%d", pos)
		}

		def, defExists := defLookup[name]
		if !defExists {
			// Caught earlier by ValidateParameterDefinitions; keep the SQL intact
			return match
		}

		value, supplied := values[name]
		if !supplied {
			value = def.Default
		}

		paramPositions[name] = paramIndex
		orderedValues = append(orderedValues, value)
		pos := paramIndex
		paramIndex++

		return fmt.Sprintf("$%d", pos)
	})

	return result, orderedValues
}
