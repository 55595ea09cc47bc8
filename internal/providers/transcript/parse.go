package transcript

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// errUnrecognized marks a response that carries none of the known text shapes.
var errUnrecognized = errors.New("no recognizable transcript field")

// segment is one timed chunk. Providers send either a bare string or an
// object with text or content.
type segment struct {
	Text string
}

func (s *segment) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &s.Text)
	}
	var obj struct {
		Text    *string `json:"text"`
		Content *string `json:"content"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		// Unknown segment shapes contribute nothing.
		return nil
	}
	switch {
	case obj.Text != nil && strings.TrimSpace(*obj.Text) != "":
		s.Text = *obj.Text
	case obj.Content != nil:
		s.Text = *obj.Content
	}
	return nil
}

// response is the union of every shape the transcript API answers with.
type response struct {
	JobID    string          `json:"job_id"`
	JobIDAlt string          `json:"jobId"`
	Status   string          `json:"status"`
	Error    json.RawMessage `json:"error"`
	Content  json.RawMessage `json:"content"`
	Text     json.RawMessage `json:"text"`
	Data     *struct {
		Segments []segment `json:"segments"`
	} `json:"data"`
	Segments []segment `json:"segments"`
	Captions []segment `json:"captions"`
	Chunks   []segment `json:"chunks"`
	Results  []segment `json:"results"`
}

func (r response) jobID() string {
	if r.JobID != "" {
		return r.JobID
	}
	return r.JobIDAlt
}

func (r response) errorMessage() string {
	if len(r.Error) == 0 {
		return ""
	}
	var msg string
	if json.Unmarshal(r.Error, &msg) == nil {
		return msg
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(r.Error, &obj) == nil {
		return obj.Message
	}
	return ""
}

type extractor func(r response) (string, bool)

// extractors are tried in order; the first matching shape wins even when it
// flattens to an empty string.
var extractors = []extractor{
	func(r response) (string, bool) { return rawString(r.Content) },
	func(r response) (string, bool) { return rawString(r.Text) },
	func(r response) (string, bool) { return rawSegments(r.Content) },
	func(r response) (string, bool) {
		if r.Data == nil || r.Data.Segments == nil {
			return "", false
		}
		return flatten(r.Data.Segments), true
	},
	func(r response) (string, bool) { return segmentsOf(r.Segments) },
	func(r response) (string, bool) { return segmentsOf(r.Captions) },
	func(r response) (string, bool) { return segmentsOf(r.Chunks) },
	func(r response) (string, bool) { return segmentsOf(r.Results) },
}

func decode(raw []byte) (response, error) {
	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		return response{}, err
	}
	return r, nil
}

// extractText flattens whichever text shape r carries.
func extractText(r response) (string, error) {
	for _, ex := range extractors {
		if text, ok := ex(r); ok {
			return text, nil
		}
	}
	return "", errUnrecognized
}

func absent(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func rawString(raw json.RawMessage) (string, bool) {
	var s string
	if absent(raw) || json.Unmarshal(raw, &s) != nil {
		return "", false
	}
	return normalizeSpace(s), true
}

func rawSegments(raw json.RawMessage) (string, bool) {
	var segs []segment
	if absent(raw) || json.Unmarshal(raw, &segs) != nil {
		return "", false
	}
	return flatten(segs), true
}

func segmentsOf(segs []segment) (string, bool) {
	if segs == nil {
		return "", false
	}
	return flatten(segs), true
}

// flatten normalizes whitespace in each segment, drops empty segments and
// consecutive duplicates, and joins the rest with single spaces.
func flatten(segs []segment) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		text := normalizeSpace(s.Text)
		if text == "" {
			continue
		}
		if n := len(parts); n > 0 && parts[n-1] == text {
			continue
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, " ")
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
