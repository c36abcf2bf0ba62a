package advisor

import (
	"fmt"
	"strings"
	"text/template"
)

const psychologySystemPrompt = `You are an experienced trading psychologist coaching users of a simulated trading app.
Study the trades and the emotions the trader logged with them. Respond with a single JSON object
and nothing else, using exactly these keys:
{"emotionalPatterns": [string], "commonMistakes": [string], "strengths": [string], "insight": string}
Keep every list item to one sentence and the insight to a short paragraph.`

const trendsSystemPrompt = `You are a quantitative market analyst for an educational trading simulator.
For every asset you are given, estimate its behaviour over the requested timeframe. Respond with a
JSON array only, one element per asset:
[{"symbol": string, "dailyVolatility": number, "trend": "bullish"|"bearish"|"neutral",
"annualReturn": number, "riskLevel": "low"|"medium"|"high"}]
dailyVolatility and annualReturn are percentages.`

const mentorSystemPrompt = `You are a friendly trading mentor inside a trading education app where every trade
is simulated. Explain concepts plainly, refer to the user's portfolio when it helps, point out risk,
and never present anything as real financial advice. Keep answers short and practical.`

var (
	psychologyTmpl = template.Must(template.New("psychology").Parse(
		`Analyze my recent trading behaviour ({{len .Trades}} trades).
{{if .EmotionalBreakdown}}Emotions logged:
{{range $emotion, $count := .EmotionalBreakdown}}- {{$emotion}}: {{$count}}
{{end}}{{end}}Trades:
{{range .Trades}}- {{.Side}} {{.Quantity}} {{.Symbol}} at {{printf "%.4f" .Price}}{{with .Emotion}}, feeling {{.}}{{end}}{{if .ProfitLoss}}, P&L {{printf "%.2f" .ProfitLoss}}{{end}}{{with .Notes}} ({{.}}){{end}}
{{else}}- no trades yet
{{end}}`))

	trendsTmpl = template.Must(template.New("trends").Parse(
		`Timeframe: {{.Timeframe}}
Assets:
{{range .Assets}}- {{.Symbol}}{{with .Name}} ({{.}}){{end}}{{with .Type}}, {{.}}{{end}}, price {{printf "%.4f" .Price}}{{if .Change24h}}, 24h change {{printf "%.2f" .Change24h}}%{{end}}
{{end}}`))

	mentorContextTmpl = template.Must(template.New("mentor").Parse(
		`{{with .Portfolio}}The user's simulated portfolio:
- Cash: {{printf "%.2f" .Cash}}
- Total value: {{printf "%.2f" .TotalValue}}
{{range .Positions}}- {{.Asset.Symbol}}: {{.Quantity}} units worth {{printf "%.2f" .CurrentValue}} (P&L {{printf "%.2f" .ProfitLoss}})
{{end}}{{end}}{{if .Assets}}Market prices:
{{range .Assets}}- {{.Symbol}}: {{printf "%.4f" .Price}}
{{end}}{{end}}`))
)

func render(t *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("%w: can't render %s prompt", err, t.Name())
	}
	return b.String(), nil
}
