package output

import (
	"encoding/json"

	"gopkg.in/yaml.v3"

	"github.com/mailsched/mailsched/internal/core"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) FormatList(list *core.ScheduledList) (string, error) {
	return f.FormatValue(list)
}

func (f *JSONFormatter) FormatEmail(email *core.ScheduledEmail) (string, error) {
	return f.FormatValue(email)
}

func (f *JSONFormatter) FormatCount(count *core.ScheduledCount) (string, error) {
	return f.FormatValue(count)
}

// FormatValue renders v as JSON.
func (f *JSONFormatter) FormatValue(v any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// YAMLFormatter renders results as YAML using the JSON field names.
type YAMLFormatter struct{}

func (f *YAMLFormatter) FormatList(list *core.ScheduledList) (string, error) {
	return f.FormatValue(list)
}

func (f *YAMLFormatter) FormatEmail(email *core.ScheduledEmail) (string, error) {
	return f.FormatValue(email)
}

func (f *YAMLFormatter) FormatCount(count *core.ScheduledCount) (string, error) {
	return f.FormatValue(count)
}

// FormatValue renders v as YAML.
func (f *YAMLFormatter) FormatValue(v any) (string, error) {
	generic, err := toGeneric(v)
	if err != nil {
		return "", err
	}
	data, err := yaml.Marshal(generic)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// toGeneric round-trips v through JSON so the json tags name the fields.
func toGeneric(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
