package types

// Column names of the report table, in file order.
const (
	ColTitle      = "Title"
	ColSubstance  = "Substance"
	ColAuthor     = "Author"
	ColBodyweight = "Bodyweight"
	ColDoseChart  = "Dose Chart"
	ColReportText = "Report Text"
	ColLink       = "Link"
)

// Placeholders written in place of fields the page did not provide.
const (
	UnknownTitle      = "Unknown Title"
	UnknownSubstance  = "Unknown Substance"
	UnknownAuthor     = "Unknown"
	UnknownBodyweight = "Unknown"
	NoDoseChart       = "No Dose Chart Available"
	NoReportText      = "No Text Available"
)

// Header is the fixed header row of the report table.
var Header = []string{
	ColTitle,
	ColSubstance,
	ColAuthor,
	ColBodyweight,
	ColDoseChart,
	ColReportText,
	ColLink,
}

// Record is one extracted experience report. Link is its identity.
type Record struct {
	Title      string `json:"title"       bson:"title"`
	Substance  string `json:"substance"   bson:"substance"`
	Author     string `json:"author"      bson:"author"`
	Bodyweight string `json:"bodyweight"  bson:"bodyweight"`
	DoseChart  string `json:"dose_chart"  bson:"dose_chart"`
	ReportText string `json:"report_text" bson:"report_text"`
	Link       string `json:"link"        bson:"link"`
}

// Row returns the record's values in Header order.
func (r *Record) Row() []string {
	return []string{r.Title, r.Substance, r.Author, r.Bodyweight, r.DoseChart, r.ReportText, r.Link}
}

// Field returns a pointer to the field stored under the given column name,
// or nil for an unknown column.
func (r *Record) Field(column string) *string {
	switch column {
	case ColTitle:
		return &r.Title
	case ColSubstance:
		return &r.Substance
	case ColAuthor:
		return &r.Author
	case ColBodyweight:
		return &r.Bodyweight
	case ColDoseChart:
		return &r.DoseChart
	case ColReportText:
		return &r.ReportText
	case ColLink:
		return &r.Link
	default:
		return nil
	}
}

// Placeholder returns the substitute text for a column whose element is absent
// from the page. Link has none.
func Placeholder(column string) string {
	switch column {
	case ColTitle:
		return UnknownTitle
	case ColSubstance:
		return UnknownSubstance
	case ColAuthor:
		return UnknownAuthor
	case ColBodyweight:
		return UnknownBodyweight
	case ColDoseChart:
		return NoDoseChart
	case ColReportText:
		return NoReportText
	default:
		return ""
	}
}

// DedupByLink returns records with repeated links removed, keeping the first
// occurrence and preserving order. Empty links compare equal to each other.
func DedupByLink(records []Record) []Record {
	seen := make(map[string]struct{}, len(records))
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if _, dup := seen[rec.Link]; dup {
			continue
		}
		seen[rec.Link] = struct{}{}
		out = append(out, rec)
	}
	return out
}
