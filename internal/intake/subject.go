package intake

import (
	"regexp"
	"strings"

	"github.com/a3tai/dispatch-sync/internal/extract"
)

var subjectPattern = regexp.MustCompile(`([a-zA-Z_]*):? ?(F[0-9].*)?`)

// subjectKinds maps the document type at the start of a mail subject to a kind.
var subjectKinds = map[string]extract.Kind{
	"Einsatzausdruck_FW": extract.InitialDispatch,
	"Einsatzstatus":      extract.StatusUpdate,
	"Einsatzprotokoll":   extract.ClosingProtocol,
	"Einsatzrapport":     extract.ScannedReport,
}

// ParseSubject splits a subject such as "Einsatzausdruck_FW: F20230001" into
// the document kind and the case id. The case id may be empty.
func ParseSubject(subject string) (extract.Kind, string, bool) {
	m := subjectPattern.FindStringSubmatch(strings.TrimSpace(subject))
	if m == nil {
		return extract.KindUnknown, "", false
	}

	kind, ok := subjectKinds[m[1]]
	if !ok {
		return extract.KindUnknown, "", false
	}
	return kind, strings.TrimSpace(m[2]), true
}
