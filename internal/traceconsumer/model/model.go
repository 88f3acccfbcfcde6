package model

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Timestamp is a time.Time that unmarshals strictly from RFC 3339 strings: a trailing
// Z or an explicit numeric offset are the only accepted forms. Anything else fails
// decoding rather than being carried through as an unparsed string.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.WithMessage(err, "timestamp is not a JSON string")
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return errors.WithMessagef(err, "invalid timestamp %q", s)
	}
	t.Time = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Format(time.RFC3339))
}

// Comment is a free text student response from a trace survey.
type Comment struct {
	Category       string `json:"category"`
	QuestionText   string `json:"questionText"`
	ResponseNumber int    `json:"responseNumber"`
	CommentText    string `json:"commentText"`
}

type Instructor struct {
	Name string `json:"name"`
}

// Rating is one rating question with its response statistics.
type Rating struct {
	QuestionText string  `json:"questionText"`
	Category     string  `json:"category"`
	Responses    int     `json:"responses"`
	ResponseRate float64 `json:"responseRate"`
	CourseMean   float64 `json:"courseMean"`
	DeptMean     float64 `json:"deptMean"`
	UnivMean     float64 `json:"univMean"`
	CourseMedian float64 `json:"courseMedian"`
	DeptMedian   float64 `json:"deptMedian"`
	UnivMedian   float64 `json:"univMedian"`
}

type Course struct {
	CourseID       string    `json:"courseId"`
	CourseName     string    `json:"courseName"`
	Subject        string    `json:"subject"`
	CatalogSection string    `json:"catalogSection"`
	Semester       string    `json:"semester"`
	Year           int       `json:"year"`
	Enrollment     int       `json:"enrollment"`
	Responses      int       `json:"responses"`
	Declines       int       `json:"declines"`
	ProcessedAt    Timestamp `json:"processedAt"`
	// Provenance of the uploaded survey file.
	OriginalFileName string `json:"originalFileName"`
	GcsBucket        string `json:"gcsBucket"`
	GcsPath          string `json:"gcsPath"`
}

// TraceProcessedMessage is one decoded survey result event from the Kafka topic.
// TraceID is globally unique and acts as the idempotency key for processing.
type TraceProcessedMessage struct {
	TraceID     string     `json:"traceId"`
	Course      Course     `json:"course"`
	Instructor  Instructor `json:"instructor"`
	Ratings     []Rating   `json:"ratings"`
	Comments    []Comment  `json:"comments"`
	ProcessedAt Timestamp  `json:"processedAt"`
	// Error is set when the upstream producer already flagged this trace as failed.
	Error string `json:"error,omitempty"`
}

// Decode unmarshals one Kafka message payload. Messages that are not valid JSON, that
// violate the schema or that lack a trace id are rejected; callers drop such messages
// after committing the offset.
func Decode(payload []byte) (*TraceProcessedMessage, error) {
	var msg TraceProcessedMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, errors.WithMessage(err, "failed to decode trace message")
	}
	if msg.TraceID == "" {
		return nil, errors.New("trace message has no traceId")
	}
	return &msg, nil
}
