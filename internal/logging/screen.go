package logging

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// ScreenLogger prints tab-separated progress lines: the sample, the log
// posterior and every node value. The header is taken from the first entry.
type ScreenLogger struct {
	w       io.Writer
	columns []column
}

type column struct {
	id  string
	dim int
}

// NewScreenLogger writes to w.
func NewScreenLogger(w io.Writer) *ScreenLogger {
	return &ScreenLogger{w: w}
}

// LogSample prints one line, preceded by the header on the first call.
func (s *ScreenLogger) LogSample(entry SampleEntry) error {
	if s.columns == nil {
		ids := make([]string, 0, len(entry.Values))
		for id := range entry.Values {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		s.columns = make([]column, 0, len(ids))
		header := []string{"sample", "posterior"}
		for _, id := range ids {
			n := len(entry.Values[id])
			s.columns = append(s.columns, column{id: id, dim: n})
			if n == 1 {
				header = append(header, id)
				continue
			}
			for i := 1; i <= n; i++ {
				header = append(header, id+strconv.Itoa(i))
			}
		}
		if _, err := fmt.Fprintln(s.w, strings.Join(header, "\t")); err != nil {
			return fmt.Errorf("screen header: %w", err)
		}
	}

	fields := []string{
		strconv.FormatInt(entry.Sample, 10),
		strconv.FormatFloat(entry.LogPosterior, 'f', 4, 64),
	}
	for _, c := range s.columns {
		v := entry.Values[c.id]
		for i := 0; i < c.dim; i++ {
			if i < len(v) {
				fields = append(fields, strconv.FormatFloat(v[i], 'g', 6, 64))
			} else {
				fields = append(fields, "NA")
			}
		}
	}
	if _, err := fmt.Fprintln(s.w, strings.Join(fields, "\t")); err != nil {
		return fmt.Errorf("screen line: %w", err)
	}
	return nil
}
