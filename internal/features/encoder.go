package features

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/streamwatch/tender-risk/internal/tender"
)

// UnknownCode is returned for categories that were not seen while fitting.
const UnknownCode = -1

// Encoder is a bijective category <-> code map. Codes are assigned in sorted
// category order, starting at zero.
type Encoder struct {
	classes []string
	codes   map[string]int
}

// FitEncoder builds an encoder over the distinct values.
func FitEncoder(values []string) *Encoder {
	seen := make(map[string]struct{}, len(values))
	classes := make([]string, 0)
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		classes = append(classes, v)
	}
	sort.Strings(classes)
	return newEncoder(classes)
}

func newEncoder(classes []string) *Encoder {
	codes := make(map[string]int, len(classes))
	for i, c := range classes {
		codes[c] = i
	}
	return &Encoder{classes: classes, codes: codes}
}

// Code returns the code for v, or UnknownCode.
func (e *Encoder) Code(v string) int {
	if e == nil {
		return UnknownCode
	}
	if c, ok := e.codes[v]; ok {
		return c
	}
	return UnknownCode
}

// Value returns the category for code.
func (e *Encoder) Value(code int) (string, bool) {
	if e == nil || code < 0 || code >= len(e.classes) {
		return "", false
	}
	return e.classes[code], true
}

// Len returns the number of known categories.
func (e *Encoder) Len() int {
	if e == nil {
		return 0
	}
	return len(e.classes)
}

type encoderJSON struct {
	Classes []string `json:"classes"`
}

func (e *Encoder) MarshalJSON() ([]byte, error) {
	return json.Marshal(encoderJSON{Classes: e.classes})
}

func (e *Encoder) UnmarshalJSON(data []byte) error {
	var raw encoderJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !sort.StringsAreSorted(raw.Classes) {
		return fmt.Errorf("encoder classes are not sorted")
	}
	for i := 1; i < len(raw.Classes); i++ {
		if raw.Classes[i] == raw.Classes[i-1] {
			return fmt.Errorf("encoder class %q is duplicated", raw.Classes[i])
		}
	}
	*e = *newEncoder(raw.Classes)
	return nil
}

// Encoders holds the three categorical encoders, keyed in JSON by the wire
// column they encode.
type Encoders struct {
	Method   *Encoder `json:"tender/procurementMethod"`
	Category *Encoder `json:"tenderclassification/description"`
	Buyer    *Encoder `json:"buyer/name"`
}

// FitEncoders fits all categorical encoders over the corpus.
func FitEncoders(records []tender.Record) *Encoders {
	methods := make([]string, len(records))
	categories := make([]string, len(records))
	buyers := make([]string, len(records))
	for i, r := range records {
		methods[i] = r.Method
		categories[i] = r.Category
		buyers[i] = r.Buyer
	}
	return &Encoders{
		Method:   FitEncoder(methods),
		Category: FitEncoder(categories),
		Buyer:    FitEncoder(buyers),
	}
}
