package control

import (
	"strconv"
	"strings"

	"torrer/internal/shared/errs"
)

// Status codes the client reacts to.
const (
	StatusOK                 = 250
	StatusAuthRequired       = 515
	StatusUnrecognizedEntity = 552
)

// Response is a decoded control-port reply: the status code of the first line
// and everything after it.
type Response struct {
	StatusCode int
	Lines      []string // all reply lines, CR stripped
	Data       string   // Lines[1:] joined with "\n"
}

// OK reports whether the reply carries a 2xx code.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// ParseResponse decodes a raw reply. A reply whose first line does not start
// with a three-digit code is a protocol parse error.
func ParseResponse(text string) (*Response, error) {
	lines := splitLines(text)
	if len(lines) == 0 {
		return nil, errs.New(errs.KindProtocolParse, "parse response", "empty response")
	}

	code, err := ParseStatusCode(lines[0])
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: code,
		Lines:      lines,
		Data:       strings.Join(lines[1:], "\n"),
	}, nil
}

// ParseStatusCode reads the three-digit code at the start of a reply line.
// The code may be followed by ' ', '-' or '+' as in "250 OK",
// "250-version=..." or "250+circuit-status=".
func ParseStatusCode(line string) (int, error) {
	if len(line) < 3 {
		return 0, errs.New(errs.KindProtocolParse, "parse status", "line too short: "+strconv.Quote(line))
	}
	code, err := strconv.Atoi(line[:3])
	if err != nil || line[0] < '0' || line[0] > '9' {
		return 0, errs.New(errs.KindProtocolParse, "parse status", "no status code in "+strconv.Quote(line))
	}
	if len(line) > 3 {
		switch line[3] {
		case ' ', '-', '+':
		default:
			return 0, errs.New(errs.KindProtocolParse, "parse status", "bad separator in "+strconv.Quote(line))
		}
	}
	return code, nil
}

// isEndLine reports whether line is the final line of a reply ("250 OK").
func isEndLine(line string) bool {
	if len(line) < 4 || line[3] != ' ' {
		return false
	}
	_, err := ParseStatusCode(line)
	return err == nil
}

// isDataLine reports whether line opens a multi-line data section ("250+key=").
func isDataLine(line string) bool {
	if len(line) < 4 || line[3] != '+' {
		return false
	}
	_, err := ParseStatusCode(line)
	return err == nil
}

// circuitStates are the status words a circuit-status row carries in its
// second field. A row such as "250 BUILT ..." starts like a final line.
var circuitStates = map[string]bool{
	"LAUNCHED":   true,
	"BUILT":      true,
	"GUARD_WAIT": true,
	"EXTENDED":   true,
	"FAILED":     true,
	"CLOSED":     true,
}

// EndsDataSection reports whether line terminates a data section opened
// with openCode. Besides the "." marker, a final "NNN " line carrying the
// opening code closes the section, unless it reads as a circuit row.
func EndsDataSection(line string, openCode int) bool {
	if line == "." {
		return true
	}
	if !isEndLine(line) {
		return false
	}
	code, _ := ParseStatusCode(line)
	if code != openCode {
		return false
	}
	fields := strings.Fields(line[4:])
	return len(fields) == 0 || !circuitStates[fields[0]]
}

func splitLines(text string) []string {
	raw := strings.Split(text, "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimRight(l, "\r")
		if l == "" {
			continue
		}
		lines = append(lines, l)
	}
	return lines
}
