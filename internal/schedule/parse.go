package schedule

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

// Document is a decoded schedule configuration:
//
//	{"pin_configs": [{"pin": 16, "total_on_sec": 10, "on_sec": 4, "off_sec": 6, "cron_str": "0 * * * * *"}]}
//
// Entries are kept as raw records so that absent and null fields can be told
// apart from zero values.
type Document struct {
	PinConfigs []map[string]any `json:"pin_configs"`
}

// Result is the outcome of a successful Parse.
type Result struct {
	// Descriptors in document order.
	Descriptors []Descriptor
	// Skipped holds the indexes of entries without a cron_str.
	Skipped []int
}

// Parse validates every entry of doc and returns the descriptors to register.
//
// An entry whose cron_str is absent or null is skipped and does not affect
// the outcome. Any other invalid entry fails the whole document; nothing in
// the returned Result is usable in that case.
func Parse(doc Document, log zerolog.Logger) (Result, error) {
	var res Result
	for i, entry := range doc.PinConfigs {
		raw, ok := entry[KeyCronStr]
		if !ok || raw == nil {
			log.Warn().Int("index", i).Msg("null cron_str in pin config, skipping")
			res.Skipped = append(res.Skipped, i)
			continue
		}

		d, err := descriptorFromEntry(i, entry)
		if err != nil {
			log.Error().Err(err).Int("index", i).Msg("invalid pin config")
			return Result{}, err
		}
		if err := d.validate(i); err != nil {
			log.Error().Err(err).Int("index", i).Msg("invalid pin config")
			return Result{}, err
		}
		if d.Cycles() < 0 {
			log.Warn().Int("index", i).Int("pin", d.Pin).
				Msg("on_sec is 0 with a non-zero total_on_sec; activations will be refused")
		}
		res.Descriptors = append(res.Descriptors, d)
	}
	return res, nil
}

func descriptorFromEntry(index int, entry map[string]any) (Descriptor, error) {
	expr, ok := entry[KeyCronStr].(string)
	if !ok {
		return Descriptor{}, &ValidationError{Index: index, Field: KeyCronStr, Reason: "must be a string"}
	}
	d := Descriptor{TriggerExpression: expr}

	fields := []struct {
		key string
		dst *int
	}{
		{KeyPin, &d.Pin},
		{KeyTotalOnSec, &d.TotalOnSec},
		{KeyOnSec, &d.OnSec},
		{KeyOffSec, &d.OffSec},
	}
	for _, f := range fields {
		n, err := toInt(entry[f.key])
		if err != nil {
			return Descriptor{}, &ValidationError{Index: index, Field: f.key, Reason: err.Error()}
		}
		*f.dst = n
	}
	return d, nil
}

// toInt converts a decoded number. Missing and null values read as 0.
func toInt(v any) (int, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		return n, nil
	case int64:
		return intFromInt64(n)
	case uint64:
		if n > math.MaxInt32 {
			return 0, fmt.Errorf("out of range: %d", n)
		}
		return int(n), nil
	case float64:
		return intFromFloat(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return intFromInt64(i)
		}
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n.String())
		}
		return intFromFloat(f)
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}

func intFromInt64(n int64) (int, error) {
	if n > math.MaxInt32 || n < math.MinInt32 {
		return 0, fmt.Errorf("out of range: %d", n)
	}
	return int(n), nil
}

func intFromFloat(f float64) (int, error) {
	if math.IsInf(f, 0) || math.IsNaN(f) || f != math.Trunc(f) {
		return 0, fmt.Errorf("not an integer: %v", f)
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, fmt.Errorf("out of range: %v", f)
	}
	return int(f), nil
}
