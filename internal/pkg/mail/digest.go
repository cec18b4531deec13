package mail

import "fmt"

// DigestTierRow is one routing tier's line in the daily spend digest.
type DigestTierRow struct {
	Tier        string
	Invocations int64
	CostUsd     float64
}

// DigestData feeds the daily spend digest template.
type DigestData struct {
	Date             string
	TotalInvocations int64
	TotalCostUsd     float64
	CacheHitRatePct  float64
	Rows             []DigestTierRow
	BudgetDailyUsd   float64
	OverBudget       bool
}

const digestTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: -apple-system, 'Segoe UI', sans-serif; color: #1f2430; max-width: 560px; margin: 0 auto; padding: 24px;">
  <h2 style="margin: 0 0 4px;">AI spend digest</h2>
  <p style="margin: 0 0 16px; color: #6b7280;">{{.Date}}</p>
  {{if .OverBudget}}
  <p style="background: #fef2f2; border: 1px solid #fca5a5; border-radius: 6px; padding: 10px 12px; color: #991b1b;">
    Daily spend exceeded the configured budget of ${{printf "%.2f" .BudgetDailyUsd}}.
  </p>
  {{end}}
  <table style="width: 100%; border-collapse: collapse; margin-bottom: 16px;">
    <tr>
      <td style="padding: 6px 0; color: #6b7280;">Total spend</td>
      <td style="padding: 6px 0; text-align: right; font-weight: 600;">${{printf "%.4f" .TotalCostUsd}}</td>
    </tr>
    <tr>
      <td style="padding: 6px 0; color: #6b7280;">Invocations</td>
      <td style="padding: 6px 0; text-align: right;">{{.TotalInvocations}}</td>
    </tr>
    <tr>
      <td style="padding: 6px 0; color: #6b7280;">Cache hit rate</td>
      <td style="padding: 6px 0; text-align: right;">{{printf "%.1f" .CacheHitRatePct}}%</td>
    </tr>
  </table>
  <table style="width: 100%; border-collapse: collapse;">
    <tr style="border-bottom: 1px solid #e5e7eb; color: #6b7280; font-size: 13px; text-align: left;">
      <th style="padding: 6px 0;">Tier</th>
      <th style="padding: 6px 0; text-align: right;">Invocations</th>
      <th style="padding: 6px 0; text-align: right;">Cost</th>
    </tr>
    {{range .Rows}}
    <tr style="border-bottom: 1px solid #f3f4f6;">
      <td style="padding: 6px 0;">{{.Tier}}</td>
      <td style="padding: 6px 0; text-align: right;">{{.Invocations}}</td>
      <td style="padding: 6px 0; text-align: right;">${{printf "%.4f" .CostUsd}}</td>
    </tr>
    {{end}}
  </table>
  <p style="margin-top: 24px; color: #9ca3af; font-size: 12px;">ResearchFlow AI Core · {{year}}</p>
</body>
</html>`

// SendSpendDigest renders and delivers the daily spend digest.
func (s *Sender) SendSpendDigest(to []string, data DigestData) error {
	html, err := renderTemplate(digestTemplate, data)
	if err != nil {
		return fmt.Errorf("mail: render digest: %w", err)
	}
	return s.Send(Message{
		To:      to,
		Subject: fmt.Sprintf("AI spend digest for %s", data.Date),
		HTML:    html,
	})
}
