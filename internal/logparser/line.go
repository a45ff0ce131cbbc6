// Package logparser turns delivered CloudFront access-log objects into
// Events in the event store.
package logparser

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// MinFields is the fewest tab-separated fields a usable line carries.
const MinFields = 20

// Field positions in the CloudFront standard log format.
const (
	fieldDate      = 0
	fieldTime      = 1
	fieldEdge      = 2
	fieldClientIP  = 4
	fieldMethod    = 5
	fieldHost      = 6
	fieldPath      = 7
	fieldStatus    = 8
	fieldReferrer  = 9
	fieldUserAgent = 10
	fieldRequestID = 14
	// fieldCountry is present only when the distribution appends the
	// viewer country to its log format.
	fieldCountry = 33
)

var (
	// ErrComment marks header lines beginning with '#'.
	ErrComment = errors.New("comment line")
	// ErrMalformed marks lines that cannot be decoded.
	ErrMalformed = errors.New("malformed log line")
)

// Record is one decoded access-log line.
type Record struct {
	Timestamp time.Time
	Edge      string
	ClientIP  string
	Method    string
	Host      string
	Path      string
	Status    int
	Referrer  string
	UserAgent string
	RequestID string
	Country   string
}

// ParseLine decodes a single tab-separated log line. Blank and '#' lines
// return ErrComment; anything else that does not decode returns an error
// wrapping ErrMalformed.
func ParseLine(line string) (Record, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
		return Record{}, ErrComment
	}

	fields := strings.Split(line, "\t")
	if len(fields) < MinFields {
		return Record{}, fmt.Errorf("%w: %d fields", ErrMalformed, len(fields))
	}

	ts, err := time.Parse(time.RFC3339, fields[fieldDate]+"T"+fields[fieldTime]+"Z")
	if err != nil {
		return Record{}, fmt.Errorf("%w: bad timestamp: %v", ErrMalformed, err)
	}

	status, err := strconv.Atoi(fields[fieldStatus])
	if err != nil {
		return Record{}, fmt.Errorf("%w: bad status %q", ErrMalformed, fields[fieldStatus])
	}

	path := unquote(fields[fieldPath])
	if path == "" || path == "-" {
		return Record{}, fmt.Errorf("%w: missing path", ErrMalformed)
	}

	rec := Record{
		Timestamp: ts.UTC(),
		Edge:      optional(fields[fieldEdge]),
		ClientIP:  optional(fields[fieldClientIP]),
		Method:    optional(fields[fieldMethod]),
		Host:      strings.ToLower(optional(fields[fieldHost])),
		Path:      path,
		Status:    status,
		Referrer:  unquote(optional(fields[fieldReferrer])),
		UserAgent: unquote(optional(fields[fieldUserAgent])),
		RequestID: optional(fields[fieldRequestID]),
	}
	if len(fields) > fieldCountry {
		if c := optional(fields[fieldCountry]); len(c) == 2 {
			rec.Country = strings.ToUpper(c)
		}
	}
	return rec, nil
}

// optional maps CloudFront's "-" placeholder to "".
func optional(s string) string {
	if s == "-" {
		return ""
	}
	return s
}

// unquote percent-decodes a field. CloudFront double-encodes some
// characters, so one level of decoding is applied and failures fall back
// to the raw value.
func unquote(s string) string {
	if s == "" {
		return s
	}
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}
