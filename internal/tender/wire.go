package tender

import (
	"fmt"
	"strconv"
)

// FromWire maps a JSON object keyed by OCDS wire names ("tender/value/amount"
// and friends) onto a Record. Values may be JSON numbers or strings; the same
// validation as CSV ingestion applies.
func FromWire(fields map[string]interface{}) (Record, error) {
	cols := []string{
		ColContractID, ColTenderID, ColTitle, ColBuyer, ColAmount, ColTenderers,
		ColDuration, ColMethod, ColCategory, ColDatePublished, ColBidOpeningDate,
	}

	row := make([]string, len(cols))
	for i, col := range cols {
		v, ok := fields[col]
		if !ok || v == nil {
			continue
		}
		s, err := wireString(v)
		if err != nil {
			return Record{}, fmt.Errorf("%w: %s: %v", ErrMalformedRow, col, err)
		}
		row[i] = s
	}

	present := make([]string, 0, len(cols))
	for _, col := range cols {
		if _, ok := fields[col]; ok {
			present = append(present, col)
		} else {
			present = append(present, "")
		}
	}

	ix, err := NewIndex(RawSchema, present)
	if err != nil {
		return Record{}, err
	}
	return ix.Parse(row)
}

func wireString(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case bool:
		return "", fmt.Errorf("unexpected boolean")
	default:
		return fmt.Sprintf("%v", t), nil
	}
}
