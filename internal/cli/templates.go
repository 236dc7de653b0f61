package cli

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/pixil98/hc/internal/entity"
)

// templateFuncs is the funcmap every command-output template is parsed with.
var templateFuncs = sprig.TxtFuncMap()

// renderTemplate parses and executes tmplStr against data in one call; the
// output templates below are small and fixed, so re-parsing per call costs
// nothing worth caching.
func renderTemplate(tmplStr string, data any) (string, error) {
	tmpl, err := template.New("").Funcs(templateFuncs).Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template: %w", err)
	}
	return buf.String(), nil
}

// LocView is the template-facing shape of the `loc` command's output,
// decoupled from entity.Entity so the output format can change without
// touching engine internals.
type LocView struct {
	Zone    string
	X, Y, Z float32
	Heading float32
	State   string
}

const locTemplate = `zone={{.Zone}} pos=({{.X | printf "%.1f"}}, {{.Y | printf "%.1f"}}, {{.Z | printf "%.1f"}}) heading={{.Heading | printf "%.1f"}} state={{.State}}`

func renderLoc(v LocView) (string, error) {
	return renderTemplate(locTemplate, v)
}

// EntityRow is the template-facing view of one entity.Entity in the
// `list` command's output.
type EntityRow struct {
	SpawnID  uint32
	Name     string
	Level    uint8
	Distance float32
}

// ListView is the full `list` command's output data.
type ListView struct {
	Count int
	Rows  []EntityRow
}

const listTemplate = `{{.Count}} entities
{{- range .Rows }}
  [{{.SpawnID}}] {{.Name}} (lvl {{.Level}}, {{.Distance | printf "%.1f"}} away)
{{- end }}`

func renderList(v ListView) (string, error) {
	return renderTemplate(listTemplate, v)
}

func entityRows(near []entity.NearbyEntity) []EntityRow {
	rows := make([]EntityRow, 0, len(near))
	for _, n := range near {
		rows = append(rows, EntityRow{
			SpawnID:  n.Entity.SpawnID,
			Name:     n.Entity.Name,
			Level:    n.Entity.Level,
			Distance: n.Distance,
		})
	}
	return rows
}
