package plan

import (
	"encoding/json"
	"time"

	"emperror.dev/errors"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to read and write a Go duration string
// (e.g. "250ms", "2s") in YAML and JSON.
type Duration time.Duration

// Std returns the underlying time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return errors.Wrap(err, "duration must be a string")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}
