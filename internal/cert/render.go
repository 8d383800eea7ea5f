package cert

import (
	"bytes"
	"fmt"
	"html/template"
)

// Fixed small templates; badge icon/asset work beyond these belongs to the
// web layer.
var svgTemplate = template.Must(template.New("badge").Parse(`<svg xmlns="http://www.w3.org/2000/svg" width="260" height="72" role="img" aria-label="devtally stats">
  <rect width="260" height="72" rx="6" fill="#1f2430"/>
  <text x="14" y="26" font-family="monospace" font-size="13" fill="#8be9a8">devtally</text>
  <text x="14" y="46" font-family="monospace" font-size="12" fill="#e6e6e6">{{printf "%.1f" .Stats.TotalHours}}h active · {{.Stats.TotalSessions}} sessions</text>
  <text x="14" y="62" font-family="monospace" font-size="10" fill="#9aa4b2">{{len .Stats.Badges}} badges · score {{printf "%.1f" .Stats.Score}} · {{.VerificationHash}}</text>
</svg>
`))

var cardTemplate = template.Must(template.New("card").Parse(`<!doctype html>
<div class="devtally-card">
  <h2>{{.UserID}}</h2>
  <p>{{printf "%.1f" .Stats.TotalHours}} active hours across {{.Stats.TotalSessions}} sessions ({{.Stats.TotalInteractions}} interactions)</p>
  <ul>
{{- range $tool, $entry := .Stats.ByTool}}
    <li>{{$tool}}: {{printf "%.1f" $entry.Hours}}h over {{$entry.Sessions}} sessions</li>
{{- end}}
  </ul>
  <p>Badges: {{range $i, $id := .Stats.Badges}}{{if $i}}, {{end}}{{$id}}{{end}}</p>
  <p>Score: {{printf "%.1f" .Stats.Score}} / 5</p>
  <footer>Generated {{.GeneratedAt.Format "2006-01-02"}} · {{.VerificationHash}}</footer>
</div>
`))

// RenderSVG produces the small stats badge image.
func RenderSVG(cert Certificate) (string, error) {
	var buf bytes.Buffer
	if err := svgTemplate.Execute(&buf, cert); err != nil {
		return "", fmt.Errorf("render svg badge: %w", err)
	}
	return buf.String(), nil
}

// RenderHTML produces the profile card fragment.
func RenderHTML(cert Certificate) (string, error) {
	var buf bytes.Buffer
	if err := cardTemplate.Execute(&buf, cert); err != nil {
		return "", fmt.Errorf("render profile card: %w", err)
	}
	return buf.String(), nil
}
