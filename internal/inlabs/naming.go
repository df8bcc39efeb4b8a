package inlabs

import (
	"fmt"
	"strings"
	"time"

	"github.com/shanehull/douclip/internal/types"
)

// Edition variants within a section. Lettered extras use the letter itself.
const (
	VariantMain  = ""
	VariantExtra = "E"
)

// ArchiveName is the ZIP name for an edition, e.g. 2025-01-07-DO1E_A.zip.
func ArchiveName(date time.Time, section, variant string) string {
	return date.Format(types.DateLayout) + "-" + Label(section, variant) + ".zip"
}

// DocumentName is the signed PDF name for an edition, e.g.
// 2025_01_07_ASSINADO_do1_extra_A.pdf.
func DocumentName(date time.Time, section, variant string) string {
	name := fmt.Sprintf("%s_ASSINADO_%s", date.Format("2006_01_02"), strings.ToLower(section))
	switch variant {
	case VariantMain:
	case VariantExtra:
		name += "_extra"
	default:
		name += "_extra_" + variant
	}
	return name + ".pdf"
}

// Label is the edition label used in archive names and reports: DO1, DO1E,
// DO1E_A.
func Label(section, variant string) string {
	section = strings.ToUpper(section)
	switch variant {
	case VariantMain:
		return section
	case VariantExtra:
		return section + "E"
	default:
		return section + "E_" + variant
	}
}

// NewEdition builds the edition descriptor for a section variant on date.
func NewEdition(date time.Time, section, variant string) types.Edition {
	section = strings.ToUpper(section)
	return types.Edition{
		Date:         date,
		Section:      section,
		Label:        Label(section, variant),
		ArchiveName:  ArchiveName(date, section, variant),
		DocumentName: DocumentName(date, section, variant),
	}
}

// Editions lists the editions of section that the listing offers on date, in
// publication order. The main and extra editions are always returned; lettered
// extras stop at the first letter with neither form listed.
func Editions(date time.Time, section string, listed map[string]bool) []types.Edition {
	eds := []types.Edition{
		NewEdition(date, section, VariantMain),
		NewEdition(date, section, VariantExtra),
	}
	for letter := 'A'; letter <= 'Z'; letter++ {
		ed := NewEdition(date, section, string(letter))
		if !listed[ed.ArchiveName] && !listed[ed.DocumentName] {
			break
		}
		eds = append(eds, ed)
	}
	return eds
}
