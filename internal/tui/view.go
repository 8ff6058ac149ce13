package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/betbot/tradewatch/internal/derive"
	"github.com/betbot/tradewatch/internal/domain"
)

var (
	// 样式定义
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	upStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("2")) // 绿色

	downStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")) // 红色

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("3")) // 黄色

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)

	priceStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("10"))

	focusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("238"))
)

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("tradewatch · " + m.symbol))
	b.WriteString("  ")
	b.WriteString(dimStyle.Render("last sync " + formatAge(m.now, lastSync(m.sum))))
	b.WriteString("\n\n")

	// 价格 + 汇总状态
	price := dimStyle.Render("Loading...")
	if m.sum.Price != nil {
		price = priceStyle.Render("$" + m.sum.Price.Price.String())
	}
	top := fmt.Sprintf("%s  %s\n%s  %s",
		titleStyle.Render("Live Price"), price,
		titleStyle.Render("Status    "), statusStyle(m.sum.Status).Render(m.sum.StatusLabel))
	b.WriteString(borderStyle.Render(top))
	b.WriteString("\n")

	b.WriteString(borderStyle.Render(titleStyle.Render("Active Trades") + "\n" + openTable(m.sum.Open)))
	b.WriteString("\n")

	closedTitle := fmt.Sprintf("Trade History  %s", dimStyle.Render("realized "+pnlText(&m.sum.Realized.Total)))
	b.WriteString(borderStyle.Render(titleStyle.Render(closedTitle) + "\n" + closedTable(m.sum.Closed)))
	b.WriteString("\n")

	b.WriteString(borderStyle.Render(titleStyle.Render("Logs") + "\n" + logLines(m.sum.Logs)))
	b.WriteString("\n")

	b.WriteString(borderStyle.Render(m.formView()))
	b.WriteString("\n")

	if m.notice != "" {
		style := upStyle
		if m.noticeErr {
			style = downStyle
		}
		b.WriteString(style.Render(m.notice))
		b.WriteString("\n")
	}

	if m.editing {
		b.WriteString(dimStyle.Render("tab/↑↓ 切换字段 · enter 提交 · esc 返回 · ctrl+c 退出"))
	} else {
		b.WriteString(dimStyle.Render("n 新建交易 · r 刷新 · q 退出"))
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) formView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Create Trade"))
	b.WriteString("\n")
	for i, f := range formFields {
		value := m.form[i]
		line := fmt.Sprintf("%-11s %s", f.label, value)
		if m.editing && i == m.focus {
			line = focusStyle.Render(fmt.Sprintf("%-11s %s_", f.label, value))
		}
		b.WriteString(line)
		if i < len(formFields)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func statusStyle(s domain.AggregateStatus) lipgloss.Style {
	switch s {
	case domain.AggregateBought:
		return upStyle
	case domain.AggregatePending:
		return pendingStyle
	default:
		return dimStyle
	}
}

func openTable(rows []derive.TradeRow) string {
	if len(rows) == 0 {
		return dimStyle.Render("No active trades")
	}
	lines := []string{dimStyle.Render(fmt.Sprintf("%-6s %-9s %-8s %10s %10s %10s %10s", "ID", "SYMBOL", "STATUS", "BUY", "SELL", "STOP", "QTY"))}
	for _, r := range rows {
		line := fmt.Sprintf("%-6d %-9s %-8s %10s %10s %10s %10s",
			r.ID, r.Symbol, r.Status,
			formatDecimal(r.BuyPrice), formatDecimal(r.SellPrice), formatDecimal(r.StopLoss), formatDecimal(r.Quantity))
		if r.Status == domain.TradeStatusBought {
			line = upStyle.Render(line)
		} else {
			line = pendingStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func closedTable(rows []derive.TradeRow) string {
	if len(rows) == 0 {
		return dimStyle.Render("No closed trades")
	}
	lines := []string{dimStyle.Render(fmt.Sprintf("%-6s %-9s %-8s %10s %10s %10s %10s", "ID", "SYMBOL", "STATUS", "EXEC BUY", "EXEC SELL", "QTY", "P/L"))}
	for _, r := range rows {
		lines = append(lines, fmt.Sprintf("%-6d %-9s %-8s %10s %10s %10s %s",
			r.ID, r.Symbol, r.Status,
			formatNull(r.ExecutedBuyPrice), formatNull(r.ExecutedSellPrice), formatDecimal(r.Quantity),
			pnlText(r.PnL)))
	}
	return strings.Join(lines, "\n")
}

func pnlText(pl *decimal.Decimal) string {
	if pl == nil {
		return fmt.Sprintf("%10s", "-")
	}
	text := fmt.Sprintf("%10s", pl.String())
	switch pl.Sign() {
	case 1:
		return upStyle.Render(text)
	case -1:
		return downStyle.Render(text)
	default:
		return text
	}
}

func logLines(logs []domain.LogEntry) string {
	if len(logs) == 0 {
		return dimStyle.Render("No events yet")
	}
	n := len(logs)
	if n > maxLogLines {
		n = maxLogLines
	}
	lines := make([]string, 0, n)
	for _, l := range logs[:n] {
		lines = append(lines, fmt.Sprintf("%s  %s", dimStyle.Render(l.Time.Local().Format("15:04:05")), l.Message))
	}
	return strings.Join(lines, "\n")
}

func lastSync(s derive.Summary) time.Time {
	if s.LastSyncAt != nil {
		return *s.LastSyncAt
	}
	return time.Time{}
}
