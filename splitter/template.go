package splitter

import (
	"bytes"
	"fmt"
	"sync"
	"text/template"
	"time"
)

// Timestamp holds the broken-out date/time fields for a single point in time.
type Timestamp struct {
	Year   string // 4-digit year
	Month  string // 2-digit month (01-12)
	Day    string // 2-digit day (01-31)
	Hour   string // 2-digit hour, 24h (00-23)
	Minute string // 2-digit minute (00-59)
	Second string // 2-digit second (00-59)
	Unix   int64  // Unix epoch seconds
}

// NewTimestamp creates a Timestamp from a time.Time.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{
		Year:   t.Format("2006"),
		Month:  t.Format("01"),
		Day:    t.Format("02"),
		Hour:   t.Format("15"),
		Minute: t.Format("04"),
		Second: t.Format("05"),
		Unix:   t.Unix(),
	}
}

// TemplateData holds the variables available in output path templates.
//
// Usage examples:
//
//	{{.Source}}_{{.Session.Year}}-{{.Session.Month}}-{{.Session.Day}}
//	{{.Source}}_{{.File.Hour}}-{{.File.Minute}}-{{.File.Second}}_{{.File.Count}}
type TemplateData struct {
	Source string // Channel/source name

	Session Timestamp // When the recording session started
	File    struct {
		Timestamp     // When the current output file is opened
		Count     int // File number within the session (0-indexed)
	}
}

// NewTemplatePathProvider builds a PathProvider that renders pattern for
// every new output file, with the open time as the file timestamp. The
// pattern is validated once, up front.
func NewTemplatePathProvider(pattern, source string, sessionStart time.Time) (PathProvider, error) {
	tpl, err := template.New("path").Parse(pattern)
	if err != nil {
		return nil, fmt.Errorf("parse output template: %w", err)
	}

	// Fail on bad field references now instead of mid-recording.
	if _, err := render(tpl, source, sessionStart, sessionStart, 0); err != nil {
		return nil, fmt.Errorf("render output template: %w", err)
	}

	var mu sync.Mutex
	count := 0
	return func() (string, int64) {
		mu.Lock()
		n := count
		count++
		mu.Unlock()

		now := time.Now()
		base, err := render(tpl, source, sessionStart, now, n)
		if err != nil {
			// Validated above; only dynamic failures (custom funcs) end
			// up here. Fall back to a collision-safe name.
			base = fmt.Sprintf("%s_%d_%d", source, now.Unix(), n)
		}
		return base, now.Unix()
	}, nil
}

func render(tpl *template.Template, source string, sessionStart, fileStart time.Time, count int) (string, error) {
	data := &TemplateData{
		Source:  source,
		Session: NewTimestamp(sessionStart),
	}
	data.File.Timestamp = NewTimestamp(fileStart)
	data.File.Count = count

	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
