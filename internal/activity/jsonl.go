package activity

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// DecodeRecords reads newline-delimited JSON activity records. Lines that
// fail to decode are counted and skipped rather than aborting the read.
func DecodeRecords(r io.Reader) (records []Record, skipped int, err error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read activity stream: %w", err)
	}
	return records, skipped, nil
}

// DecodeTouchpoints reads newline-delimited JSON touchpoints.
func DecodeTouchpoints(r io.Reader) (tps []Touchpoint, skipped int, err error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var tp Touchpoint
		if err := json.Unmarshal([]byte(line), &tp); err != nil {
			skipped++
			continue
		}
		if tp.Identity == "" || tp.OccurredAt.IsZero() {
			skipped++
			continue
		}
		tps = append(tps, tp)
	}
	if err := sc.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read touchpoint stream: %w", err)
	}
	return tps, skipped, nil
}
