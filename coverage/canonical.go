package coverage

import (
	"encoding/json"
	"fmt"
	"sort"
)

// EmptyReportName marks a synthesized whole-file record for a source file no
// test executed. The name follows the convention report generators already
// special-case.
const EmptyReportName = "(empty-report)"

// Pos is a position in original source. Lines are 1-based, columns 0-based,
// matching the convention of the report generators that consume the final
// artifact.
type Pos struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Loc is a half-open source region.
type Loc struct {
	Start Pos `json:"start"`
	End   Pos `json:"end"`
}

func (l Loc) key() string {
	return fmt.Sprintf("%d:%d-%d:%d", l.Start.Line, l.Start.Column, l.End.Line, l.End.Column)
}

func (l Loc) less(o Loc) bool {
	if l.Start.Line != o.Start.Line {
		return l.Start.Line < o.Start.Line
	}
	if l.Start.Column != o.Start.Column {
		return l.Start.Column < o.Start.Column
	}
	if l.End.Line != o.End.Line {
		return l.End.Line < o.End.Line
	}
	return l.End.Column < o.End.Column
}

// Statement is one executable statement and its hit count.
type Statement struct {
	Loc   Loc
	Count int64
}

// Function is one function declaration and its invocation count.
type Function struct {
	Name  string
	Decl  Loc // the declaration header
	Loc   Loc // the whole function body
	Line  int
	Count int64
}

// Branch is one branching construct. Locations are the individual arms
// (consequent/alternate for an if, each case for a switch, each operand of a
// short-circuit expression); Counts runs parallel to Locations.
type Branch struct {
	Type      string
	Loc       Loc
	Locations []Loc
	Counts    []int64
	Line      int
}

// FileCoverage is the canonical coverage record for one original source file.
// Locations act as the stable identifiers: two records for the same path
// merge by location identity, never by the numeric keys of the serialized
// form.
type FileCoverage struct {
	Path       string
	Statements []Statement
	Functions  []Function
	Branches   []Branch
}

// NewFileCoverage returns an empty record for path.
func NewFileCoverage(path string) *FileCoverage {
	return &FileCoverage{Path: path}
}

// AddStatement records a hit count for a statement location, summing with any
// existing count for the identical location.
func (fc *FileCoverage) AddStatement(loc Loc, count int64) {
	for i := range fc.Statements {
		if fc.Statements[i].Loc == loc {
			fc.Statements[i].Count += count
			return
		}
	}
	fc.Statements = append(fc.Statements, Statement{Loc: loc, Count: count})
}

// AddFunction records an invocation count for a function, summing on
// identical declaration location.
func (fc *FileCoverage) AddFunction(name string, decl, loc Loc, count int64) {
	for i := range fc.Functions {
		if fc.Functions[i].Decl == decl {
			fc.Functions[i].Count += count
			return
		}
	}
	fc.Functions = append(fc.Functions, Function{
		Name: name, Decl: decl, Loc: loc, Line: decl.Start.Line, Count: count,
	})
}

// AddBranch records per-arm counts for a branching construct, summing
// arm-wise on identical overall location.
func (fc *FileCoverage) AddBranch(typ string, loc Loc, arms []Loc, counts []int64) {
	for i := range fc.Branches {
		if fc.Branches[i].Loc == loc && fc.Branches[i].Type == typ {
			for j := range fc.Branches[i].Counts {
				if j < len(counts) {
					fc.Branches[i].Counts[j] += counts[j]
				}
			}
			return
		}
	}
	b := Branch{Type: typ, Loc: loc, Line: loc.Start.Line}
	b.Locations = append(b.Locations, arms...)
	b.Counts = append(b.Counts, counts...)
	fc.Branches = append(fc.Branches, b)
}

// Merge folds other into fc, summing hit counts per identical location.
// Callers must merge each increment exactly once: the operation is summation,
// so merging the same increment twice over-counts.
func (fc *FileCoverage) Merge(other *FileCoverage) {
	for _, s := range other.Statements {
		fc.AddStatement(s.Loc, s.Count)
	}
	for _, f := range other.Functions {
		fc.AddFunction(f.Name, f.Decl, f.Loc, f.Count)
	}
	for _, b := range other.Branches {
		fc.AddBranch(b.Type, b.Loc, b.Locations, b.Counts)
	}
}

// sortLocations orders all tables by source position so serialization is
// deterministic regardless of merge order.
func (fc *FileCoverage) sortLocations() {
	sort.SliceStable(fc.Statements, func(i, j int) bool {
		return fc.Statements[i].Loc.less(fc.Statements[j].Loc)
	})
	sort.SliceStable(fc.Functions, func(i, j int) bool {
		return fc.Functions[i].Decl.less(fc.Functions[j].Decl)
	})
	sort.SliceStable(fc.Branches, func(i, j int) bool {
		return fc.Branches[i].Loc.less(fc.Branches[j].Loc)
	})
}

// Map is the canonical coverage map: absolute original-source path to record.
type Map map[string]*FileCoverage

// Merge folds other into m, merging records for paths present in both.
func (m Map) Merge(other Map) {
	for path, rec := range other {
		if existing, ok := m[path]; ok {
			existing.Merge(rec)
			continue
		}
		fresh := NewFileCoverage(path)
		fresh.Merge(rec)
		m[path] = fresh
	}
}

// Paths returns the sorted file paths of the map.
func (m Map) Paths() []string {
	out := make([]string, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// serialized forms ---------------------------------------------------------

type fnMeta struct {
	Name string `json:"name"`
	Decl Loc    `json:"decl"`
	Loc  Loc    `json:"loc"`
	Line int    `json:"line"`
}

type branchMeta struct {
	Type      string `json:"type"`
	Loc       Loc    `json:"loc"`
	Locations []Loc  `json:"locations"`
	Line      int    `json:"line"`
}

type fileCoverageJSON struct {
	Path         string                `json:"path"`
	StatementMap map[string]Loc        `json:"statementMap"`
	FnMap        map[string]fnMeta     `json:"fnMap"`
	BranchMap    map[string]branchMeta `json:"branchMap"`
	S            map[string]int64      `json:"s"`
	F            map[string]int64      `json:"f"`
	B            map[string][]int64    `json:"b"`
}

// MarshalJSON serializes the record in the istanbul coverage-map shape with
// deterministic numeric keys ordered by source position.
func (fc *FileCoverage) MarshalJSON() ([]byte, error) {
	fc.sortLocations()

	out := fileCoverageJSON{
		Path:         fc.Path,
		StatementMap: make(map[string]Loc, len(fc.Statements)),
		FnMap:        make(map[string]fnMeta, len(fc.Functions)),
		BranchMap:    make(map[string]branchMeta, len(fc.Branches)),
		S:            make(map[string]int64, len(fc.Statements)),
		F:            make(map[string]int64, len(fc.Functions)),
		B:            make(map[string][]int64, len(fc.Branches)),
	}
	for i, s := range fc.Statements {
		k := fmt.Sprintf("%d", i)
		out.StatementMap[k] = s.Loc
		out.S[k] = s.Count
	}
	for i, f := range fc.Functions {
		k := fmt.Sprintf("%d", i)
		out.FnMap[k] = fnMeta{Name: f.Name, Decl: f.Decl, Loc: f.Loc, Line: f.Line}
		out.F[k] = f.Count
	}
	for i, b := range fc.Branches {
		k := fmt.Sprintf("%d", i)
		out.BranchMap[k] = branchMeta{Type: b.Type, Loc: b.Loc, Locations: b.Locations, Line: b.Line}
		out.B[k] = b.Counts
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a record from the istanbul shape.
func (fc *FileCoverage) UnmarshalJSON(data []byte) error {
	var in fileCoverageJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	fc.Path = in.Path
	fc.Statements = fc.Statements[:0]
	fc.Functions = fc.Functions[:0]
	fc.Branches = fc.Branches[:0]

	for k, loc := range in.StatementMap {
		fc.Statements = append(fc.Statements, Statement{Loc: loc, Count: in.S[k]})
	}
	for k, meta := range in.FnMap {
		fc.Functions = append(fc.Functions, Function{
			Name: meta.Name, Decl: meta.Decl, Loc: meta.Loc, Line: meta.Line, Count: in.F[k],
		})
	}
	for k, meta := range in.BranchMap {
		fc.Branches = append(fc.Branches, Branch{
			Type: meta.Type, Loc: meta.Loc, Locations: meta.Locations,
			Line: meta.Line, Counts: in.B[k],
		})
	}
	fc.sortLocations()
	return nil
}

// ParseMap decodes a canonical coverage artifact.
func ParseMap(data []byte) (Map, error) {
	m := Map{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	for path, rec := range m {
		if rec.Path == "" {
			rec.Path = path
		}
	}
	return m, nil
}

// Marshal encodes the canonical map in the on-disk artifact shape.
func (m Map) Marshal() ([]byte, error) {
	return json.MarshalIndent(m, "", " ")
}
