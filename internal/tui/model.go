// Package tui 终端界面：实时价格、汇总状态、未平仓/历史交易、事件日志和下单表单
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/shopspring/decimal"

	"github.com/betbot/tradewatch/internal/command"
	"github.com/betbot/tradewatch/internal/derive"
	"github.com/betbot/tradewatch/internal/domain"
	"github.com/betbot/tradewatch/internal/state"
)

// Source 会话能力（*session.Session 满足）
type Source interface {
	Store() *state.Store
	Submit(ctx context.Context, draft domain.TradeDraft) (*command.Receipt, error)
	Refresh(ctx context.Context) error
}

// 表单字段顺序与后端校验顺序一致
var formFields = []struct {
	key   string
	label string
}{
	{"buy_price", "Buy Price"},
	{"sell_price", "Sell Price"},
	{"stop_loss", "Stop Loss"},
	{"quantity", "Quantity"},
}

const maxLogLines = 8

// Model bubbletea 模型
type Model struct {
	ctx    context.Context
	src    Source
	symbol string

	sum derive.Summary
	now time.Time

	// 表单
	form       [4]string
	focus      int  // 当前输入框
	editing    bool // false 时按键作为快捷键处理
	submitting bool
	notice     string
	noticeErr  bool
}

// storeUpdatedMsg Store 有变更
type storeUpdatedMsg struct{}

// tickMsg 定时器消息（刷新"上次同步"时间）
type tickMsg time.Time

// submitResultMsg 提交结果
type submitResultMsg struct {
	receipt *command.Receipt
	err     error
}

// refreshResultMsg 手动刷新结果
type refreshResultMsg struct {
	err error
}

// New 创建模型
func New(ctx context.Context, src Source, symbol string) Model {
	return Model{
		ctx:    ctx,
		src:    src,
		symbol: symbol,
		sum:    derive.Summarize(src.Store().View()),
		now:    time.Now(),
	}
}

// Run 运行终端界面，直到用户退出或 ctx 结束
func Run(ctx context.Context, src Source, symbol string) error {
	p := tea.NewProgram(New(ctx, src, symbol), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	}
	return nil
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.ctx, m.src.Store()), tickCmd())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case storeUpdatedMsg:
		m.sum = derive.Summarize(m.src.Store().View())
		return m, waitForUpdate(m.ctx, m.src.Store())

	case tickMsg:
		m.now = time.Time(msg)
		return m, tickCmd()

	case submitResultMsg:
		m.submitting = false
		if msg.err != nil {
			m.setNotice(describeSubmitError(msg.err), true)
			var ve *domain.ValidationError
			if errors.As(msg.err, &ve) {
				for i, f := range formFields {
					if f.key == ve.Field {
						m.focus = i
						m.editing = true
					}
				}
			}
			return m, nil
		}
		m.form = [4]string{}
		m.focus = 0
		m.editing = false
		if id := msg.receipt.TradeID(); id > 0 {
			m.setNotice(fmt.Sprintf("Trade #%d created", id), false)
		} else {
			m.setNotice("Trade created", false)
		}
		return m, nil

	case refreshResultMsg:
		switch {
		case msg.err == nil, errors.Is(msg.err, domain.ErrStaleSnapshot):
			m.setNotice("Synced", false)
		default:
			m.setNotice(msg.err.Error(), true)
		}
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return m, tea.Quit
	}

	if !m.editing {
		switch key {
		case "q":
			return m, tea.Quit
		case "r":
			m.setNotice("Syncing...", false)
			return m, refreshCmd(m.ctx, m.src)
		case "n", "tab", "enter":
			m.editing = true
			return m, nil
		}
		return m, nil
	}

	switch key {
	case "esc":
		m.editing = false
	case "tab", "down":
		m.focus = (m.focus + 1) % len(formFields)
	case "shift+tab", "up":
		m.focus = (m.focus + len(formFields) - 1) % len(formFields)
	case "backspace":
		if v := m.form[m.focus]; v != "" {
			m.form[m.focus] = v[:len(v)-1]
		}
	case "enter":
		if m.submitting {
			return m, nil
		}
		m.submitting = true
		m.setNotice("Submitting...", false)
		return m, submitCmd(m.ctx, m.src, m.draft())
	default:
		if msg.Type == tea.KeyRunes {
			for _, r := range msg.Runes {
				if (r >= '0' && r <= '9') || r == '.' {
					m.form[m.focus] += string(r)
				}
			}
		}
	}
	return m, nil
}

func (m *Model) setNotice(text string, isErr bool) {
	m.notice = text
	m.noticeErr = isErr
}

func (m Model) draft() domain.TradeDraft {
	return domain.TradeDraft{
		Symbol:    m.symbol,
		BuyPrice:  m.form[0],
		SellPrice: m.form[1],
		StopLoss:  m.form[2],
		Quantity:  m.form[3],
	}
}

// waitForUpdate 阻塞到 Store 下一次变更
func waitForUpdate(ctx context.Context, store *state.Store) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-store.Updated():
			return storeUpdatedMsg{}
		case <-ctx.Done():
			return nil
		}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func submitCmd(ctx context.Context, src Source, draft domain.TradeDraft) tea.Cmd {
	return func() tea.Msg {
		receipt, err := src.Submit(ctx, draft)
		return submitResultMsg{receipt: receipt, err: err}
	}
}

func refreshCmd(ctx context.Context, src Source) tea.Cmd {
	return func() tea.Msg {
		return refreshResultMsg{err: src.Refresh(ctx)}
	}
}

func describeSubmitError(err error) string {
	var ve *domain.ValidationError
	var se *domain.SubmissionError
	switch {
	case errors.As(err, &ve):
		for _, f := range formFields {
			if f.key == ve.Field {
				return fmt.Sprintf("%s: %s", f.label, ve.Reason)
			}
		}
		return ve.Error()
	case errors.As(err, &se):
		if se.Detail != "" {
			return "Error creating trade: " + se.Detail
		}
		return "Error creating trade"
	default:
		return err.Error()
	}
}

func formatDecimal(d decimal.Decimal) string {
	return d.String()
}

func formatNull(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.String()
}

func formatAge(now, at time.Time) string {
	if at.IsZero() {
		return "never"
	}
	age := now.Sub(at)
	if age < time.Second {
		return "just now"
	}
	return strings.TrimSpace(age.Round(time.Second).String()) + " ago"
}
