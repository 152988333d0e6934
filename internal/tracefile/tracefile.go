// Package tracefile reads the textual LCOV tracefile format far enough to
// report line, function, and branch totals. The pipeline itself treats
// tracefiles as opaque; this parser only backs the post-run summary.
package tracefile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// FileCoverage holds the counters recorded for a single source file.
type FileCoverage struct {
	Path string

	LinesFound int
	LinesHit   int

	FunctionsFound int
	FunctionsHit   int

	BranchesFound int
	BranchesHit   int
}

// Summary aggregates the coverage of a whole tracefile.
type Summary struct {
	Files []FileCoverage

	LinesFound int
	LinesHit   int

	FunctionsFound int
	FunctionsHit   int

	BranchesFound int
	BranchesHit   int
}

// LineRate returns hit lines over found lines in percent. Zero found lines
// reads as zero coverage.
func (s *Summary) LineRate() float64 {
	return rate(s.LinesHit, s.LinesFound)
}

// BranchRate returns taken branches over found branches in percent.
func (s *Summary) BranchRate() float64 {
	return rate(s.BranchesHit, s.BranchesFound)
}

func rate(hit, found int) float64 {
	if found == 0 {
		return 0
	}
	return float64(hit) / float64(found) * 100
}

// ParseFile reads and parses the tracefile at path.
func ParseFile(path string) (*Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tracefile: %w", err)
	}
	defer f.Close()
	sum, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse tracefile %s: %w", path, err)
	}
	return sum, nil
}

// Parse reads LCOV records from r. Per source file (SF: .. end_of_record)
// the summary counters LF/LH, FNF/FNH, and BRF/BRH are preferred; when a
// tool omitted them the counts are derived from the raw DA/FNDA/BRDA
// records instead. Unknown record types are skipped, matching how lcov's
// own consumers treat tracefiles.
func Parse(r io.Reader) (*Summary, error) {
	sum := &Summary{}

	var cur *fileAccumulator
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineno := 0
	for scan.Scan() {
		lineno++
		line := strings.TrimSpace(scan.Text())
		if line == "" {
			continue
		}

		if line == "end_of_record" {
			if cur == nil {
				return nil, fmt.Errorf("line %d: end_of_record without SF record", lineno)
			}
			sum.add(cur.finish())
			cur = nil
			continue
		}

		directive, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("line %d: malformed record %q", lineno, line)
		}

		if directive == "SF" {
			if cur != nil {
				return nil, fmt.Errorf("line %d: SF record before previous end_of_record", lineno)
			}
			cur = &fileAccumulator{path: value}
			continue
		}
		if cur == nil {
			// TN: and other preamble records outside a file section.
			continue
		}
		if err := cur.record(directive, value); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineno, err)
		}
	}
	if err := scan.Err(); err != nil {
		return nil, err
	}
	if cur != nil {
		return nil, fmt.Errorf("tracefile truncated: missing end_of_record for %s", cur.path)
	}
	return sum, nil
}

func (s *Summary) add(fc FileCoverage) {
	s.Files = append(s.Files, fc)
	s.LinesFound += fc.LinesFound
	s.LinesHit += fc.LinesHit
	s.FunctionsFound += fc.FunctionsFound
	s.FunctionsHit += fc.FunctionsHit
	s.BranchesFound += fc.BranchesFound
	s.BranchesHit += fc.BranchesHit
}

// fileAccumulator collects one SF section. Derived counts from raw records
// are kept separately from the tool's own LF/LH style summary counters so
// the latter can win when both are present.
type fileAccumulator struct {
	path string

	daFound, daHit     int
	fndaFound, fndaHit int
	brdaFound, brdaHit int

	lf, lh   int
	fnf, fnh int
	brf, brh int
	hasLF    bool
	hasFNF   bool
	hasBRF   bool
}

func (a *fileAccumulator) record(directive, value string) error {
	switch directive {
	case "DA":
		// DA:<line>,<count>[,<checksum>]
		fields := strings.Split(value, ",")
		if len(fields) < 2 {
			return fmt.Errorf("malformed DA record %q", value)
		}
		count, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return fmt.Errorf("malformed DA count %q", fields[1])
		}
		a.daFound++
		if count > 0 {
			a.daHit++
		}
	case "FNDA":
		// FNDA:<count>,<name>
		countText, _, ok := strings.Cut(value, ",")
		if !ok {
			return fmt.Errorf("malformed FNDA record %q", value)
		}
		count, err := strconv.ParseInt(countText, 10, 64)
		if err != nil {
			return fmt.Errorf("malformed FNDA count %q", countText)
		}
		a.fndaFound++
		if count > 0 {
			a.fndaHit++
		}
	case "BRDA":
		// BRDA:<line>,<block>,<branch>,<count|->  ("-" means never evaluated)
		fields := strings.Split(value, ",")
		if len(fields) != 4 {
			return fmt.Errorf("malformed BRDA record %q", value)
		}
		a.brdaFound++
		if fields[3] != "-" {
			count, err := strconv.ParseInt(fields[3], 10, 64)
			if err != nil {
				return fmt.Errorf("malformed BRDA count %q", fields[3])
			}
			if count > 0 {
				a.brdaHit++
			}
		}
	case "LF":
		return a.setSummary(&a.lf, &a.hasLF, value)
	case "LH":
		return a.setCount(&a.lh, value)
	case "FNF":
		return a.setSummary(&a.fnf, &a.hasFNF, value)
	case "FNH":
		return a.setCount(&a.fnh, value)
	case "BRF":
		return a.setSummary(&a.brf, &a.hasBRF, value)
	case "BRH":
		return a.setCount(&a.brh, value)
	default:
		// FN:, TN:, checksums and newer record types carry nothing the
		// summary needs.
	}
	return nil
}

func (a *fileAccumulator) setSummary(dst *int, flag *bool, value string) error {
	if err := a.setCount(dst, value); err != nil {
		return err
	}
	*flag = true
	return nil
}

func (a *fileAccumulator) setCount(dst *int, value string) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("malformed count %q", value)
	}
	*dst = n
	return nil
}

func (a *fileAccumulator) finish() FileCoverage {
	fc := FileCoverage{
		Path:           a.path,
		LinesFound:     a.daFound,
		LinesHit:       a.daHit,
		FunctionsFound: a.fndaFound,
		FunctionsHit:   a.fndaHit,
		BranchesFound:  a.brdaFound,
		BranchesHit:    a.brdaHit,
	}
	if a.hasLF {
		fc.LinesFound, fc.LinesHit = a.lf, a.lh
	}
	if a.hasFNF {
		fc.FunctionsFound, fc.FunctionsHit = a.fnf, a.fnh
	}
	if a.hasBRF {
		fc.BranchesFound, fc.BranchesHit = a.brf, a.brh
	}
	return fc
}
