package alerts

// Operators accepted in threshold config files.
const (
	OperatorGT  = "gt"
	OperatorGTE = "gte"
	OperatorLT  = "lt"
	OperatorLTE = "lte"
)

// ThresholdConfig is one alert rule loaded from a YAML file in the
// thresholds directory. Name is derived from the filename and doubles as
// the threshold's database ID.
type ThresholdConfig struct {
	Name            string  `yaml:"-"`
	URL             string  `yaml:"url"`
	Metric          string  `yaml:"metric"`
	Operator        string  `yaml:"operator"`
	Bound           float64 `yaml:"bound"`
	Severity        string  `yaml:"severity"`
	CooldownSeconds int     `yaml:"cooldown_seconds"`
	Enabled         *bool   `yaml:"enabled"`
}

func (c *ThresholdConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Violates reports whether value breaks this threshold.
func Violates(operator string, value, bound float64) bool {
	switch operator {
	case OperatorGT:
		return value > bound
	case OperatorGTE:
		return value >= bound
	case OperatorLT:
		return value < bound
	case OperatorLTE:
		return value <= bound
	}
	return false
}
