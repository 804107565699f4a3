package robot

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// isoLayout is the status timestamp format written by Robot Framework 7.
const isoLayout = "2006-01-02T15:04:05.999999"

// allTestsStat is the label of the overall statistics row.
const allTestsStat = "All Tests"

// Options configures a Parser.
type Options struct {
	// IncludeKeywords keeps keyword calls on parsed tests. Keywords are
	// skipped by default, which keeps memory flat for large documents.
	IncludeKeywords bool
}

// Parser reads Robot Framework output documents.
type Parser interface {
	Parse(path string) (*Result, error)
}

// Compile-time interface check.
var _ Parser = (*parser)(nil)

type parser struct {
	opts Options
}

// NewParser creates a Parser with the given options.
func NewParser(opts Options) Parser {
	return &parser{opts: opts}
}

// Parse reads and parses the document at path.
func (p *parser) Parse(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	result, err := p.decode(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}

	result.Source = abs

	return result, nil
}

// decode walks the token stream of a single <robot> document.
func (p *parser) decode(r io.Reader) (*Result, error) {
	d := xml.NewDecoder(r)

	root, err := nextStart(d)
	if err != nil {
		return nil, err
	}

	if root.Name.Local != "robot" {
		return nil, fmt.Errorf("unexpected root element <%s>", root.Name.Local)
	}

	result := &Result{Generator: attr(root, "generator")}

	var stats *Totals

	for {
		tok, err := d.Token()
		if err != nil {
			return nil, unexpectedEOF(err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "suite":
				if result.Suite != nil {
					return nil, errors.New("document has more than one root suite")
				}

				if result.Suite, err = p.decodeSuite(d, el); err != nil {
					return nil, err
				}
			case "statistics":
				if stats, err = decodeStatistics(d, el); err != nil {
					return nil, err
				}
			default:
				if err := d.Skip(); err != nil {
					return nil, err
				}
			}
		case xml.EndElement:
			if result.Suite == nil {
				return nil, errors.New("document has no root suite")
			}

			if stats != nil {
				result.Statistics = *stats
			} else {
				result.Statistics = result.Suite.countTotals()
			}

			return result, nil
		}
	}
}

func (p *parser) decodeSuite(d *xml.Decoder, start xml.StartElement) (*Suite, error) {
	suite := &Suite{
		ID:     attr(start, "id"),
		Name:   attr(start, "name"),
		Source: attr(start, "source"),
	}

	for {
		tok, err := d.Token()
		if err != nil {
			return nil, unexpectedEOF(err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "suite":
				child, err := p.decodeSuite(d, el)
				if err != nil {
					return nil, err
				}

				suite.Suites = append(suite.Suites, child)
			case "test":
				test, err := p.decodeTest(d, el)
				if err != nil {
					return nil, err
				}

				suite.Tests = append(suite.Tests, test)
			case "doc":
				if err := d.DecodeElement(&suite.Doc, &el); err != nil {
					return nil, err
				}
			case "status":
				if suite.Status, err = decodeStatus(d, el); err != nil {
					return nil, err
				}
			default:
				if err := d.Skip(); err != nil {
					return nil, err
				}
			}
		case xml.EndElement:
			return suite, nil
		}
	}
}

func (p *parser) decodeTest(d *xml.Decoder, start xml.StartElement) (*Test, error) {
	test := &Test{
		ID:      attr(start, "id"),
		Name:    attr(start, "name"),
		Timeout: attr(start, "timeout"),
	}

	for {
		tok, err := d.Token()
		if err != nil {
			return nil, unexpectedEOF(err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "doc":
				if err := d.DecodeElement(&test.Doc, &el); err != nil {
					return nil, err
				}
			case "timeout":
				test.Timeout = attr(el, "value")

				if err := d.Skip(); err != nil {
					return nil, err
				}
			case "tag":
				var tag string
				if err := d.DecodeElement(&tag, &el); err != nil {
					return nil, err
				}

				test.Tags = append(test.Tags, tag)
			case "tags":
				var tags struct {
					Tags []string `xml:"tag"`
				}

				if err := d.DecodeElement(&tags, &el); err != nil {
					return nil, err
				}

				test.Tags = append(test.Tags, tags.Tags...)
			case "status":
				if test.Status, err = decodeStatus(d, el); err != nil {
					return nil, err
				}
			case "kw":
				if !p.opts.IncludeKeywords {
					if err := d.Skip(); err != nil {
						return nil, err
					}

					continue
				}

				kw, err := decodeKeyword(d, el)
				if err != nil {
					return nil, err
				}

				test.Keywords = append(test.Keywords, kw)
			default:
				if err := d.Skip(); err != nil {
					return nil, err
				}
			}
		case xml.EndElement:
			return test, nil
		}
	}
}

func decodeKeyword(d *xml.Decoder, start xml.StartElement) (*Keyword, error) {
	kw := &Keyword{
		Name:    attr(start, "name"),
		Library: attr(start, "library"),
		Type:    attr(start, "type"),
	}

	// Robot Framework 7 writes the owner library as "owner".
	if kw.Library == "" {
		kw.Library = attr(start, "owner")
	}

	for {
		tok, err := d.Token()
		if err != nil {
			return nil, unexpectedEOF(err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "kw":
				child, err := decodeKeyword(d, el)
				if err != nil {
					return nil, err
				}

				kw.Keywords = append(kw.Keywords, child)
			case "status":
				if kw.Status, err = decodeStatus(d, el); err != nil {
					return nil, err
				}
			default:
				if err := d.Skip(); err != nil {
					return nil, err
				}
			}
		case xml.EndElement:
			return kw, nil
		}
	}
}

// decodeStatus reads a <status> element. Both the legacy starttime/endtime
// attributes and the start/elapsed pair are understood; the latter is
// normalized to the legacy textual format.
func decodeStatus(d *xml.Decoder, el xml.StartElement) (Status, error) {
	status := Status{
		Status:    attr(el, "status"),
		StartTime: attr(el, "starttime"),
		EndTime:   attr(el, "endtime"),
	}

	if start := attr(el, "start"); start != "" && status.StartTime == "" {
		t, err := time.Parse(isoLayout, start)
		if err != nil {
			return status, fmt.Errorf("parsing status start %q: %w", start, err)
		}

		status.StartTime = formatTimestamp(t)

		if elapsed := attr(el, "elapsed"); elapsed != "" {
			secs, err := strconv.ParseFloat(elapsed, 64)
			if err != nil {
				return status, fmt.Errorf("parsing status elapsed %q: %w", elapsed, err)
			}

			ms := int64(math.Round(secs * 1000))
			status.elapsedMs = &ms
			status.EndTime = formatTimestamp(
				t.Add(time.Duration(math.Round(secs * float64(time.Second)))),
			)
		}
	}

	// Skip status message text and anything else inside the element.
	if err := d.Skip(); err != nil {
		return status, err
	}

	return status, nil
}

// decodeStatistics reads <statistics> and returns the overall totals, or nil
// when the document carries none.
func decodeStatistics(d *xml.Decoder, el xml.StartElement) (*Totals, error) {
	var stats struct {
		Total struct {
			Stats []struct {
				Label string `xml:",chardata"`
				Pass  int    `xml:"pass,attr"`
				Fail  int    `xml:"fail,attr"`
				Skip  int    `xml:"skip,attr"`
			} `xml:"stat"`
		} `xml:"total"`
	}

	if err := d.DecodeElement(&stats, &el); err != nil {
		return nil, err
	}

	rows := stats.Total.Stats
	if len(rows) == 0 {
		return nil, nil
	}

	chosen := rows[len(rows)-1]

	for _, row := range rows {
		if strings.TrimSpace(row.Label) == allTestsStat {
			chosen = row

			break
		}
	}

	return &Totals{
		Passed:  chosen.Pass,
		Failed:  chosen.Fail,
		Skipped: chosen.Skip,
	}, nil
}

func nextStart(d *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := d.Token()
		if err != nil {
			return xml.StartElement{}, unexpectedEOF(err)
		}

		if el, ok := tok.(xml.StartElement); ok {
			return el, nil
		}
	}
}

func attr(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}

	return ""
}

func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}

	return err
}
