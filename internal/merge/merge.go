package merge

import (
	"errors"

	"github.com/Fuabioo/bench-merge/internal/record"
)

// replacedFields are copied from a matching candidate record. Everything else
// in the official record is left as it was.
var replacedFields = []string{record.FieldTput, record.FieldIntvty}

// Match describes one official record whose metrics were replaced.
type Match struct {
	Index     int
	Key       record.Key
	OldTput   record.Metric
	NewTput   record.Metric
	OldIntvty record.Metric
	NewIntvty record.Metric
}

// Result is the outcome of joining two collections.
type Result struct {
	Records        []record.Record
	Matches        []Match
	OfficialCount  int
	CandidateCount int
	UniqueKeys     int
	Output         string // set by Run
}

// Replaced returns the number of official records whose key matched.
func (r Result) Replaced() int {
	return len(r.Matches)
}

// Index maps each candidate key to the position of the last record carrying
// it. Keys seen more than once are returned in dupes, in first-repeat order.
func Index(candidate []record.Record) (lookup map[record.Key]int, dupes []record.Key, err error) {
	lookup = make(map[record.Key]int, len(candidate))
	for i, rec := range candidate {
		key, err := rec.Key()
		if err != nil {
			return nil, nil, annotate(err, RoleCandidate, i)
		}
		if _, seen := lookup[key]; seen {
			dupes = append(dupes, key)
		}
		lookup[key] = i
	}
	return lookup, dupes, nil
}

// Merge copies official in order, replacing tput_per_gpu and median_intvty on
// every record whose key appears in candidate. Neither input is modified.
func Merge(official, candidate []record.Record) (Result, error) {
	lookup, _, err := Index(candidate)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Records:        make([]record.Record, len(official)),
		OfficialCount:  len(official),
		CandidateCount: len(candidate),
		UniqueKeys:     len(lookup),
	}

	for i, rec := range official {
		key, err := rec.Key()
		if err != nil {
			return Result{}, annotate(err, RoleOfficial, i)
		}

		ci, ok := lookup[key]
		if !ok {
			res.Records[i] = rec
			continue
		}
		cand := candidate[ci]

		updated := rec
		for _, field := range replacedFields {
			v := cand.Get(field)
			if !v.Exists() {
				return Result{}, &SchemaError{Collection: RoleCandidate, Index: ci, Field: field, Reason: "missing"}
			}
			updated, err = updated.With(field, []byte(v.Raw))
			if err != nil {
				return Result{}, err
			}
		}

		res.Records[i] = updated
		res.Matches = append(res.Matches, Match{
			Index:     i,
			Key:       key,
			OldTput:   rec.Metric(record.FieldTput),
			NewTput:   cand.Metric(record.FieldTput),
			OldIntvty: rec.Metric(record.FieldIntvty),
			NewIntvty: cand.Metric(record.FieldIntvty),
		})
	}

	return res, nil
}

func annotate(err error, collection string, index int) error {
	var se *SchemaError
	if errors.As(err, &se) {
		se.Collection = collection
		se.Index = index
	}
	return err
}
