package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/firefly-engineering/sandboxd/internal/record"
)

// OpenOptions is what the wizard collects: the caller to open a sandbox for.
type OpenOptions struct {
	Kind record.OwnerKind
	// Ref is the account id. It is empty for visitors, who get a new
	// session.
	Ref string
}

// wizardStep identifies the current step.
type wizardStep int

const (
	stepKind wizardStep = iota
	stepRef
	stepConfirm
)

// wizardModel drives the multi-step "open sandbox for caller" wizard.
type wizardModel struct {
	step wizardStep

	kindList list.Model
	refInput textinput.Model
	err      string

	selectedKind record.OwnerKind
	selectedRef  string
}

// kindItem implements list.Item for owner kind selection.
type kindItem struct {
	kind        record.OwnerKind
	description string
}

func (k kindItem) Title() string       { return string(k.kind) }
func (k kindItem) Description() string { return k.description }
func (k kindItem) FilterValue() string { return string(k.kind) }

// wizardStyles
var (
	wizardTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39")).
				MarginBottom(1)

	wizardStepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	wizardActiveStepStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39"))

	wizardLabelStyle = lipgloss.NewStyle().
				Bold(true).
				MarginBottom(1)

	wizardValueStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("39"))

	wizardDimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	wizardErrStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

func newWizardModel() wizardModel {
	items := []list.Item{
		kindItem{record.OwnerUser, "Long-lived sandbox for an account"},
		kindItem{record.OwnerAdmin, "Admin working inside a sandbox instead of the root"},
		kindItem{record.OwnerVisitor, "Anonymous sandbox with a fresh session, expires after its TTL"},
	}
	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = selectedStyle
	kl := list.New(items, delegate, 70, 12)
	kl.SetShowTitle(false)
	kl.SetShowStatusBar(false)
	kl.SetFilteringEnabled(false)
	kl.SetShowHelp(false)

	ri := textinput.New()
	ri.Placeholder = "account id"
	ri.CharLimit = 255
	ri.Width = 40

	return wizardModel{
		step:     stepKind,
		kindList: kl,
		refInput: ri,
	}
}

func (w *wizardModel) Init() tea.Cmd {
	return nil
}

// Update processes a message and returns (done, openOptions, cmd).
// done=true with non-nil opts means wizard completed successfully.
// done=true with nil opts means wizard was cancelled.
func (w *wizardModel) Update(msg tea.Msg) (bool, *OpenOptions, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.Type {
		case tea.KeyCtrlC:
			return true, nil, nil
		case tea.KeyEsc:
			return w.handleBack()
		}
	}

	switch w.step {
	case stepKind:
		return w.updateKind(msg)
	case stepRef:
		return w.updateRef(msg)
	case stepConfirm:
		return w.updateConfirm(msg)
	}

	return false, nil, nil
}

func (w *wizardModel) handleBack() (bool, *OpenOptions, tea.Cmd) {
	switch w.step {
	case stepKind:
		// Esc at first step cancels wizard
		return true, nil, nil
	case stepRef:
		w.step = stepKind
		w.refInput.Blur()
		w.err = ""
		return false, nil, nil
	case stepConfirm:
		if w.selectedKind == record.OwnerVisitor {
			w.step = stepKind
			return false, nil, nil
		}
		w.step = stepRef
		w.refInput.Focus()
		return false, nil, textinput.Blink
	}
	return false, nil, nil
}

func (w *wizardModel) updateKind(msg tea.Msg) (bool, *OpenOptions, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.Type == tea.KeyEnter {
		item, ok := w.kindList.SelectedItem().(kindItem)
		if !ok {
			return false, nil, nil
		}
		w.selectedKind = item.kind
		if item.kind == record.OwnerVisitor {
			w.selectedRef = ""
			w.step = stepConfirm
			return false, nil, nil
		}
		w.step = stepRef
		w.refInput.Focus()
		return false, nil, textinput.Blink
	}

	var cmd tea.Cmd
	w.kindList, cmd = w.kindList.Update(msg)
	return false, nil, cmd
}

func (w *wizardModel) updateRef(msg tea.Msg) (bool, *OpenOptions, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.Type == tea.KeyEnter {
		ref := strings.TrimSpace(w.refInput.Value())
		if err := validateRef(ref); err != "" {
			w.err = err
			return false, nil, nil
		}
		w.err = ""
		w.selectedRef = ref
		w.step = stepConfirm
		w.refInput.Blur()
		return false, nil, nil
	}

	var cmd tea.Cmd
	w.refInput, cmd = w.refInput.Update(msg)
	return false, nil, cmd
}

// validateRef returns a message describing why ref is unusable, or "".
func validateRef(ref string) string {
	switch {
	case ref == "":
		return "account id is required"
	case strings.ContainsAny(ref, " \t\n"):
		return "account id cannot contain whitespace"
	}
	return ""
}

func (w *wizardModel) updateConfirm(msg tea.Msg) (bool, *OpenOptions, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.String() {
		case "enter", "y":
			return true, &OpenOptions{Kind: w.selectedKind, Ref: w.selectedRef}, nil
		case "n":
			// Restart wizard
			w.step = stepKind
			w.refInput.SetValue("")
			w.selectedKind = ""
			w.selectedRef = ""
			return false, nil, nil
		}
	}
	return false, nil, nil
}

func (w *wizardModel) View() string {
	var b strings.Builder

	b.WriteString(wizardTitleStyle.Render("Open Sandbox For Caller"))
	b.WriteString("\n")
	b.WriteString(w.progressBar())
	b.WriteString("\n\n")

	switch w.step {
	case stepKind:
		b.WriteString(wizardLabelStyle.Render("Caller kind:"))
		b.WriteString("\n")
		b.WriteString(w.kindList.View())
	case stepRef:
		b.WriteString(wizardLabelStyle.Render(fmt.Sprintf("%s account id:", w.selectedKind)))
		b.WriteString("\n")
		b.WriteString(w.refInput.View())
		b.WriteString("\n\n")
		if w.err != "" {
			b.WriteString(wizardErrStyle.Render(w.err))
			b.WriteString("\n")
		}
		b.WriteString(wizardDimStyle.Render("Enter to confirm, Esc to go back."))
	case stepConfirm:
		b.WriteString(wizardLabelStyle.Render("Confirm:"))
		b.WriteString("\n\n")
		b.WriteString(fmt.Sprintf("  Kind:     %s\n", wizardValueStyle.Render(string(w.selectedKind))))
		ref := w.selectedRef
		if w.selectedKind == record.OwnerVisitor {
			ref = "(new session)"
		}
		b.WriteString(fmt.Sprintf("  Caller:   %s\n", wizardValueStyle.Render(ref)))
		b.WriteString("\n")
		b.WriteString(wizardDimStyle.Render("Enter to open, n to restart, Esc to go back."))
	}

	return b.String()
}

func (w *wizardModel) progressBar() string {
	steps := []struct {
		step wizardStep
		name string
	}{
		{stepKind, "Kind"},
		{stepRef, "Caller"},
		{stepConfirm, "Confirm"},
	}

	parts := make([]string, len(steps))
	for i, s := range steps {
		label := fmt.Sprintf("%d. %s", i+1, s.name)
		if s.step == w.step {
			parts[i] = wizardActiveStepStyle.Render(label)
		} else {
			parts[i] = wizardStepStyle.Render(label)
		}
	}
	return strings.Join(parts, wizardStepStyle.Render(" → "))
}
