package utils

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"golang.org/x/term"

	"github.com/picogrid/drone-lockstep/pkg/simulation"
)

// EnvPrefix is prepended to upper-cased parameter names for overrides
const EnvPrefix = "DRONESIM_"

// SkipPromptsEnv forces non-interactive parameter resolution
const SkipPromptsEnv = "DRONESIM_SKIP_PROMPTS"

// PromptForParameters resolves every parameter. Values already present in
// provided are used as given; the rest are prompted for, or taken from the
// environment and defaults when prompting is disabled.
func PromptForParameters(params []simulation.Parameter, provided map[string]interface{}) (map[string]interface{}, error) {
	result := make(map[string]interface{})
	interactive := Interactive()

	for _, param := range params {
		if raw, ok := provided[param.Name]; ok {
			value, err := coerceValue(raw, param)
			if err != nil {
				return nil, fmt.Errorf("invalid value for %s: %w", param.Name, err)
			}
			result[param.Name] = value
			continue
		}

		value, err := promptForParameter(param, interactive)
		if err != nil {
			return nil, fmt.Errorf("failed to get %s: %w", param.Name, err)
		}
		if value != nil {
			result[param.Name] = value
		}
	}

	return result, nil
}

// Interactive reports whether prompts can be shown
func Interactive() bool {
	if skip, err := strconv.ParseBool(os.Getenv(SkipPromptsEnv)); err == nil && skip {
		return false
	}
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// promptForParameter prompts for a single parameter
func promptForParameter(param simulation.Parameter, interactive bool) (interface{}, error) {
	envKey := EnvPrefix + strings.ToUpper(param.Name)

	if !interactive {
		if envValue := os.Getenv(envKey); envValue != "" {
			return coerceValue(envValue, param)
		}
		if param.Default != nil {
			return coerceValue(param.Default, param)
		}
		if param.Required {
			return nil, fmt.Errorf("required parameter %s not provided and no default available", param.Name)
		}
		return nil, nil
	}

	// Check for environment variable to use as default
	if envValue := os.Getenv(envKey); envValue != "" {
		if parsed, err := coerceValue(envValue, param); err == nil {
			param.Default = parsed
		}
	}

	switch param.Type {
	case simulation.TypeInteger:
		return promptInteger(param)
	case simulation.TypeFloat:
		return promptFloat(param)
	case simulation.TypeString:
		return promptString(param)
	case simulation.TypeBoolean:
		return promptBoolean(param)
	case simulation.TypeDuration:
		return promptDuration(param)
	default:
		return nil, fmt.Errorf("unsupported parameter type: %s", param.Type)
	}
}

// coerceValue converts a raw value from YAML, the environment or a manifest
// default into the parameter's type and checks its range
func coerceValue(raw interface{}, param simulation.Parameter) (interface{}, error) {
	if s, ok := raw.(string); ok {
		return parseValue(strings.TrimSpace(s), param)
	}

	switch param.Type {
	case simulation.TypeInteger:
		switch v := raw.(type) {
		case int:
			return v, checkIntRange(v, param)
		case int64:
			return int(v), checkIntRange(int(v), param)
		case float64:
			if v != float64(int(v)) {
				return nil, fmt.Errorf("%v is not an integer", v)
			}
			return int(v), checkIntRange(int(v), param)
		}
	case simulation.TypeFloat:
		switch v := raw.(type) {
		case float64:
			return v, checkFloatRange(v, param)
		case int:
			return float64(v), checkFloatRange(float64(v), param)
		}
	case simulation.TypeBoolean:
		if v, ok := raw.(bool); ok {
			return v, nil
		}
	case simulation.TypeDuration:
		if v, ok := raw.(time.Duration); ok {
			return v, nil
		}
	case simulation.TypeString:
		return fmt.Sprintf("%v", raw), nil
	}

	return nil, fmt.Errorf("cannot use %T as %s", raw, param.Type)
}

// parseValue parses a string according to the parameter type
func parseValue(value string, param simulation.Parameter) (interface{}, error) {
	switch param.Type {
	case simulation.TypeInteger:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid integer: %w", err)
		}
		return n, checkIntRange(n, param)
	case simulation.TypeFloat:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number: %w", err)
		}
		return f, checkFloatRange(f, param)
	case simulation.TypeString:
		if len(param.Options) > 0 && !contains(param.Options, value) {
			return nil, fmt.Errorf("%q is not one of %s", value, strings.Join(param.Options, ", "))
		}
		return value, nil
	case simulation.TypeBoolean:
		return strconv.ParseBool(value)
	case simulation.TypeDuration:
		duration, err := time.ParseDuration(value)
		if err != nil {
			return nil, err
		}
		return duration, nil
	default:
		return nil, fmt.Errorf("unsupported parameter type: %s", param.Type)
	}
}

func checkIntRange(value int, param simulation.Parameter) error {
	if param.Min != nil {
		if minRange := toInt(param.Min); value < minRange {
			return fmt.Errorf("value must be at least %d", minRange)
		}
	}
	if param.Max != nil {
		if maxRange := toInt(param.Max); value > maxRange {
			return fmt.Errorf("value must be at most %d", maxRange)
		}
	}
	return nil
}

func checkFloatRange(value float64, param simulation.Parameter) error {
	if param.Min != nil {
		if minRange := toFloat64(param.Min); value < minRange {
			return fmt.Errorf("value must be at least %g", minRange)
		}
	}
	if param.Max != nil {
		if maxRange := toFloat64(param.Max); value > maxRange {
			return fmt.Errorf("value must be at most %g", maxRange)
		}
	}
	return nil
}

func promptInteger(param simulation.Parameter) (int, error) {
	defaultStr := ""
	if param.Default != nil {
		switch v := param.Default.(type) {
		case int:
			defaultStr = strconv.Itoa(v)
		case float64:
			defaultStr = strconv.Itoa(int(v))
		}
	}

	prompt := &survey.Input{
		Message: param.Description,
		Default: defaultStr,
	}

	var result string
	if err := survey.AskOne(prompt, &result, survey.WithValidator(survey.Required)); err != nil {
		return 0, err
	}

	value, err := parseValue(result, param)
	if err != nil {
		return 0, err
	}
	return value.(int), nil
}

func promptFloat(param simulation.Parameter) (float64, error) {
	defaultStr := ""
	if param.Default != nil {
		defaultStr = fmt.Sprintf("%v", param.Default)
	}

	prompt := &survey.Input{
		Message: param.Description,
		Default: defaultStr,
	}

	var result string
	if err := survey.AskOne(prompt, &result, survey.WithValidator(survey.Required)); err != nil {
		return 0, err
	}

	value, err := parseValue(result, param)
	if err != nil {
		return 0, err
	}
	return value.(float64), nil
}

func promptString(param simulation.Parameter) (string, error) {
	defaultStr := ""
	if param.Default != nil {
		defaultStr = fmt.Sprintf("%v", param.Default)
	}

	// If options are provided, use a select prompt
	if len(param.Options) > 0 {
		prompt := &survey.Select{
			Message: param.Description,
			Options: param.Options,
		}
		if contains(param.Options, defaultStr) {
			prompt.Default = defaultStr
		}

		var result string
		if err := survey.AskOne(prompt, &result); err != nil {
			return "", err
		}
		return result, nil
	}

	prompt := &survey.Input{
		Message: param.Description,
		Default: defaultStr,
	}

	var result string
	var validators []survey.Validator
	if param.Required {
		validators = append(validators, survey.Required)
	}

	if err := survey.AskOne(prompt, &result, survey.WithValidator(survey.ComposeValidators(validators...))); err != nil {
		return "", err
	}

	return result, nil
}

func promptBoolean(param simulation.Parameter) (bool, error) {
	defaultBool := false
	if param.Default != nil {
		switch v := param.Default.(type) {
		case bool:
			defaultBool = v
		case string:
			defaultBool = v == "true" || v == "yes" || v == "1"
		}
	}

	prompt := &survey.Confirm{
		Message: param.Description,
		Default: defaultBool,
	}

	var result bool
	if err := survey.AskOne(prompt, &result); err != nil {
		return false, err
	}

	return result, nil
}

func promptDuration(param simulation.Parameter) (time.Duration, error) {
	defaultStr := ""
	if param.Default != nil {
		defaultStr = fmt.Sprintf("%v", param.Default)
	}

	prompt := &survey.Input{
		Message: param.Description + " (e.g., 500ms, 2s, 1m)",
		Default: defaultStr,
	}

	var result string
	if err := survey.AskOne(prompt, &result, survey.WithValidator(func(val interface{}) error {
		str := val.(string)
		if _, err := time.ParseDuration(str); err != nil {
			return fmt.Errorf("invalid duration format (use formats like 500ms, 2s, 1m)")
		}
		return nil
	})); err != nil {
		return 0, err
	}

	duration, err := time.ParseDuration(result)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}

	return duration, nil
}

// Helper functions
func toInt(v interface{}) int {
	switch val := v.(type) {
	case int:
		return val
	case float64:
		return int(val)
	case string:
		i, _ := strconv.Atoi(val)
		return i
	default:
		return 0
	}
}

func toFloat64(v interface{}) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	default:
		return 0
	}
}

func contains(options []string, value string) bool {
	for _, o := range options {
		if o == value {
			return true
		}
	}
	return false
}
