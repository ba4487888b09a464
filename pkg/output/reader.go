package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/3leaps/rasterbench/pkg/results"
)

// maxLineSize bounds a single JSONL line when reading results back.
const maxLineSize = 4 << 20

// ReadOutcomes parses the outcome records from a JSONL results stream.
//
// Records of other types are ignored. Blank lines are skipped; a malformed
// line is an error naming its line number.
func ReadOutcomes(r io.Reader) ([]results.Outcome, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), maxLineSize)

	var out []results.Outcome
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if rec.Type != TypeOutcome {
			continue
		}

		var data OutcomeRecord
		if err := json.Unmarshal(rec.Data, &data); err != nil {
			return nil, fmt.Errorf("line %d: outcome payload: %w", line, err)
		}
		out = append(out, data.Outcome())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
