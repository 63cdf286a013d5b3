package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/firefly-engineering/sandboxd/internal/record"
)

// Action represents the action to take after picker selection
type Action int

const (
	ActionNone Action = iota
	ActionInspect
	ActionOpen
	ActionTeardown
	ActionQuit
)

// PickerResult holds the result of the picker
type PickerResult struct {
	Action Action
	Record *record.Record
	// Open is set for ActionOpen.
	Open *OpenOptions
}

// PickerOptions configures the picker.
type PickerOptions struct {
	// AllowOpen enables the "open sandbox for caller" wizard.
	AllowOpen bool
	// Now is the reference time for ages and expiries. Zero means now.
	Now time.Time
}

// recordItem implements list.Item for record display
type recordItem struct {
	rec *record.Record
	now time.Time
}

func (i recordItem) Title() string {
	return i.rec.ID
}

func (i recordItem) Description() string {
	parts := []string{
		statusIcon(i.rec.Status) + " " + string(i.rec.Status),
		ownerLabel(i.rec),
		"up " + formatAge(i.rec.CreatedAt, i.now),
	}
	if i.rec.ExpiresAt != nil {
		if i.rec.Expired(i.now) {
			parts = append(parts, "expired")
		} else {
			parts = append(parts, "expires in "+formatAge(i.now, *i.rec.ExpiresAt))
		}
	}
	return strings.Join(parts, " | ")
}

func (i recordItem) FilterValue() string {
	return i.rec.ID + " " + i.rec.OwnerRef
}

func statusIcon(s record.Status) string {
	switch s {
	case record.StatusRunning:
		return "✓"
	case record.StatusStopped:
		return "●"
	case record.StatusProvisioning:
		return "○"
	case record.StatusDeleting:
		return "⚠"
	default:
		return "✗"
	}
}

// ownerLabel shortens visitor session ids.
func ownerLabel(rec *record.Record) string {
	ref := rec.OwnerRef
	if rec.OwnerKind == record.OwnerVisitor && len(ref) > 8 {
		ref = ref[:8] + "…"
	}
	return ref
}

func formatAge(from, to time.Time) string {
	d := to.Sub(from)
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			MarginBottom(1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginTop(1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("208")).
			Bold(true)
)

// Model is the bubbletea model for the sandbox picker
type Model struct {
	list     list.Model
	opts     PickerOptions
	wizard   *wizardModel
	pending  *record.Record // awaiting teardown confirmation
	result   PickerResult
	quitting bool
	width    int
	height   int
}

// NewPicker creates a new sandbox picker
func NewPicker(recs []*record.Record, opts PickerOptions) Model {
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}
	items := buildGroupedItems(recs, opts.Now)

	l := list.New(items, newGroupedDelegate(), 80, 20)
	l.Title = fmt.Sprintf("sandboxd - %d sandbox(es)", len(items)-headerCount(items))
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.Styles.Title = titleStyle
	skipHeaders(&l, 1)

	return Model{
		list: l,
		opts: opts,
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.wizard != nil {
		return m.updateWizard(msg)
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetSize(msg.Width, msg.Height-4)
		return m, nil

	case tea.KeyMsg:
		if m.pending != nil {
			return m.confirmTeardown(msg)
		}

		// Don't handle keys if filtering
		if m.list.FilterState() == list.Filtering {
			break
		}

		switch msg.String() {
		case "enter":
			if item, ok := m.list.SelectedItem().(recordItem); ok {
				return m.finish(PickerResult{Action: ActionInspect, Record: item.rec})
			}
			return m, nil

		case "n":
			if m.opts.AllowOpen {
				w := newWizardModel()
				m.wizard = &w
				return m, m.wizard.Init()
			}
			return m, nil

		case "d":
			if item, ok := m.list.SelectedItem().(recordItem); ok {
				m.pending = item.rec
			}
			return m, nil

		case "q", "esc":
			return m.finish(PickerResult{Action: ActionQuit})

		case "up", "k", "down", "j":
			var cmd tea.Cmd
			m.list, cmd = m.list.Update(msg)
			if isHeaderSelected(&m.list) {
				skipHeaders(&m.list, navigationDirection(msg))
			}
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) confirmTeardown(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	rec := m.pending
	m.pending = nil
	if msg.String() == "y" {
		return m.finish(PickerResult{Action: ActionTeardown, Record: rec})
	}
	return m, nil
}

func (m Model) updateWizard(msg tea.Msg) (tea.Model, tea.Cmd) {
	done, opts, cmd := m.wizard.Update(msg)
	if !done {
		return m, cmd
	}
	m.wizard = nil
	if opts == nil {
		return m, nil
	}
	return m.finish(PickerResult{Action: ActionOpen, Open: opts})
}

func (m Model) finish(res PickerResult) (tea.Model, tea.Cmd) {
	m.result = res
	m.quitting = true
	return m, tea.Quit
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.wizard != nil {
		return m.wizard.View()
	}

	var help string
	if m.pending != nil {
		help = warnStyle.Render(fmt.Sprintf("Tear down %s? [y] Yes  [any key] Cancel", m.pending.ID))
	} else if m.opts.AllowOpen {
		help = helpStyle.Render("[enter] Inspect  [n] Open for caller  [d] Teardown  [/] Filter  [q] Quit")
	} else {
		help = helpStyle.Render("[enter] Inspect  [d] Teardown  [/] Filter  [q] Quit")
	}

	return m.list.View() + "\n" + help
}

// Result returns the picker result
func (m Model) Result() PickerResult {
	return m.result
}

// RunPicker runs the interactive sandbox picker
func RunPicker(recs []*record.Record, opts PickerOptions) (PickerResult, error) {
	if len(recs) == 0 && !opts.AllowOpen {
		return PickerResult{Action: ActionNone}, nil
	}

	m := NewPicker(recs, opts)
	if len(recs) == 0 {
		w := newWizardModel()
		m.wizard = &w
	}
	p := tea.NewProgram(m, tea.WithAltScreen())

	finalModel, err := p.Run()
	if err != nil {
		return PickerResult{}, err
	}

	return finalModel.(Model).Result(), nil
}

// SimplePicker is a non-interactive picker that just lists sandboxes
func SimplePicker(recs []*record.Record, now time.Time) string {
	var sb strings.Builder

	sb.WriteString("sandboxd - Sandboxes\n")
	sb.WriteString(strings.Repeat("─", 60) + "\n\n")

	if len(recs) == 0 {
		sb.WriteString("No sandboxes found.\n")
		sb.WriteString("Open one with: sandboxd open --as user --ref <account>\n")
		return sb.String()
	}

	for i, item := range buildGroupedItems(recs, now) {
		switch it := item.(type) {
		case headerItem:
			if i > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(it.label + "\n")
		case recordItem:
			sb.WriteString(fmt.Sprintf("  %s %s (%s)\n", statusIcon(it.rec.Status), it.rec.ID, ownerLabel(it.rec)))
			sb.WriteString(fmt.Sprintf("    %s\n", it.Description()))
		}
	}

	return sb.String()
}
