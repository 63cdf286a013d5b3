package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/firefly-engineering/sandboxd/internal/record"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testRecord(id string, kind record.OwnerKind, ref string, status record.Status, age time.Duration) *record.Record {
	return &record.Record{
		ID:        id,
		OwnerKind: kind,
		OwnerRef:  ref,
		Status:    status,
		CreatedAt: testNow.Add(-age),
		UpdatedAt: testNow.Add(-age),
	}
}

func keyRune(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestFormatAge(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{2*time.Hour + 5*time.Minute, "2h05m"},
		{-time.Minute, "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatAge(testNow.Add(-tt.d), testNow); got != tt.want {
				t.Errorf("formatAge(%v) = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}

func TestRecordItemMethods(t *testing.T) {
	rec := testRecord("abc123", record.OwnerUser, "alice", record.StatusRunning, 2*time.Hour+30*time.Minute)
	item := recordItem{rec: rec, now: testNow}

	t.Run("Title", func(t *testing.T) {
		if got := item.Title(); got != "abc123" {
			t.Errorf("Title() = %q, want %q", got, "abc123")
		}
	})

	t.Run("FilterValue", func(t *testing.T) {
		got := item.FilterValue()
		if !strings.Contains(got, "abc123") || !strings.Contains(got, "alice") {
			t.Errorf("FilterValue() = %q, want id and owner", got)
		}
	})

	t.Run("Description", func(t *testing.T) {
		desc := item.Description()
		for _, want := range []string{"✓ running", "alice", "up 2h30m"} {
			if !strings.Contains(desc, want) {
				t.Errorf("Description() = %q, should contain %q", desc, want)
			}
		}
		if strings.Contains(desc, "expire") {
			t.Errorf("Description() = %q, should not mention expiry", desc)
		}
	})

	t.Run("visitor expiry", func(t *testing.T) {
		v := testRecord("vis1", record.OwnerVisitor, "0123456789abcdef", record.StatusRunning, 10*time.Minute)
		exp := testNow.Add(50 * time.Minute)
		v.ExpiresAt = &exp
		desc := recordItem{rec: v, now: testNow}.Description()
		if !strings.Contains(desc, "expires in 50m") {
			t.Errorf("Description() = %q, should contain expiry", desc)
		}
		if !strings.Contains(desc, "01234567…") {
			t.Errorf("Description() = %q, should shorten the session id", desc)
		}

		past := testNow.Add(-time.Minute)
		v.ExpiresAt = &past
		desc = recordItem{rec: v, now: testNow}.Description()
		if !strings.Contains(desc, "expired") {
			t.Errorf("Description() = %q, should say expired", desc)
		}
	})
}

func TestStatusIcons(t *testing.T) {
	tests := []struct {
		status record.Status
		icon   string
	}{
		{record.StatusRunning, "✓"},
		{record.StatusStopped, "●"},
		{record.StatusProvisioning, "○"},
		{record.StatusDeleting, "⚠"},
		{record.StatusDeleted, "✗"},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := statusIcon(tt.status); got != tt.icon {
				t.Errorf("statusIcon(%s) = %q, want %q", tt.status, got, tt.icon)
			}
		})
	}
}

func TestModelKeyHandling(t *testing.T) {
	recs := []*record.Record{
		testRecord("user1", record.OwnerUser, "alice", record.StatusRunning, time.Hour),
	}

	t.Run("quit with q", func(t *testing.T) {
		m := NewPicker(recs, PickerOptions{Now: testNow})
		newModel, cmd := m.Update(keyRune('q'))
		model := newModel.(Model)

		if model.result.Action != ActionQuit {
			t.Errorf("Action = %v, want ActionQuit", model.result.Action)
		}
		if !model.quitting {
			t.Error("Model should be quitting")
		}
		if cmd == nil {
			t.Error("Should return tea.Quit command")
		}
	})

	t.Run("quit with esc", func(t *testing.T) {
		m := NewPicker(recs, PickerOptions{Now: testNow})
		newModel, _ := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
		model := newModel.(Model)

		if model.result.Action != ActionQuit {
			t.Errorf("Action = %v, want ActionQuit", model.result.Action)
		}
	})

	t.Run("enter inspects the selected record", func(t *testing.T) {
		m := NewPicker(recs, PickerOptions{Now: testNow})
		newModel, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		model := newModel.(Model)

		if model.result.Action != ActionInspect {
			t.Fatalf("Action = %v, want ActionInspect", model.result.Action)
		}
		if model.result.Record == nil || model.result.Record.ID != "user1" {
			t.Errorf("Record = %+v, want user1", model.result.Record)
		}
	})

	t.Run("teardown requires confirmation", func(t *testing.T) {
		m := NewPicker(recs, PickerOptions{Now: testNow})
		newModel, _ := m.Update(keyRune('d'))
		model := newModel.(Model)
		if model.quitting {
			t.Fatal("d alone should not quit")
		}
		if model.pending == nil {
			t.Fatal("d should ask for confirmation")
		}
		if !strings.Contains(model.View(), "Tear down user1?") {
			t.Errorf("View should ask to confirm, got %q", model.View())
		}

		newModel, cmd := model.Update(keyRune('y'))
		model = newModel.(Model)
		if model.result.Action != ActionTeardown {
			t.Errorf("Action = %v, want ActionTeardown", model.result.Action)
		}
		if model.result.Record.ID != "user1" {
			t.Errorf("Record = %s, want user1", model.result.Record.ID)
		}
		if cmd == nil {
			t.Error("Should return tea.Quit command")
		}
	})

	t.Run("teardown cancelled", func(t *testing.T) {
		m := NewPicker(recs, PickerOptions{Now: testNow})
		newModel, _ := m.Update(keyRune('d'))
		newModel, _ = newModel.(Model).Update(keyRune('x'))
		model := newModel.(Model)

		if model.quitting {
			t.Error("cancelled teardown should not quit")
		}
		if model.pending != nil {
			t.Error("pending teardown should be cleared")
		}
		if model.result.Action != ActionNone {
			t.Errorf("Action = %v, want ActionNone", model.result.Action)
		}
	})

	t.Run("n without AllowOpen does nothing", func(t *testing.T) {
		m := NewPicker(recs, PickerOptions{Now: testNow})
		newModel, _ := m.Update(keyRune('n'))
		model := newModel.(Model)
		if model.wizard != nil {
			t.Error("wizard should not start")
		}
	})

	t.Run("n starts the wizard", func(t *testing.T) {
		m := NewPicker(recs, PickerOptions{Now: testNow, AllowOpen: true})
		newModel, _ := m.Update(keyRune('n'))
		model := newModel.(Model)
		if model.wizard == nil {
			t.Fatal("wizard should start")
		}
		if !strings.Contains(model.View(), "Open Sandbox For Caller") {
			t.Error("View should show the wizard")
		}

		// Esc on the first step returns to the list.
		newModel, _ = model.Update(tea.KeyMsg{Type: tea.KeyEsc})
		model = newModel.(Model)
		if model.wizard != nil {
			t.Error("wizard should be closed")
		}
		if model.quitting {
			t.Error("closing the wizard should not quit")
		}
	})

	t.Run("wizard result", func(t *testing.T) {
		m := NewPicker(recs, PickerOptions{Now: testNow, AllowOpen: true})
		newModel, _ := m.Update(keyRune('n'))
		model := newModel.(Model)
		model.wizard.kindList.Select(2) // visitor

		newModel, _ = model.Update(tea.KeyMsg{Type: tea.KeyEnter})
		newModel, _ = newModel.(Model).Update(tea.KeyMsg{Type: tea.KeyEnter})
		model = newModel.(Model)

		if model.result.Action != ActionOpen {
			t.Fatalf("Action = %v, want ActionOpen", model.result.Action)
		}
		if model.result.Open.Kind != record.OwnerVisitor {
			t.Errorf("Open.Kind = %s, want visitor", model.result.Open.Kind)
		}
	})

	t.Run("window size update", func(t *testing.T) {
		m := NewPicker(recs, PickerOptions{Now: testNow})
		newModel, cmd := m.Update(tea.WindowSizeMsg{Width: 100, Height: 50})
		model := newModel.(Model)

		if model.width != 100 {
			t.Errorf("Width = %d, want 100", model.width)
		}
		if model.height != 50 {
			t.Errorf("Height = %d, want 50", model.height)
		}
		if cmd != nil {
			t.Error("Window size update should not return a command")
		}
	})
}

func TestModelNavigationSkipsHeaders(t *testing.T) {
	recs := []*record.Record{
		testRecord("admin1", record.OwnerAdmin, "root", record.StatusRunning, time.Hour),
		testRecord("user1", record.OwnerUser, "alice", record.StatusStopped, time.Hour),
	}
	m := NewPicker(recs, PickerOptions{Now: testNow})

	// [Admins, admin1, Users, user1]
	if m.list.Index() != 1 {
		t.Fatalf("initial index = %d, want 1", m.list.Index())
	}

	newModel, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	model := newModel.(Model)
	if model.list.Index() != 3 {
		t.Errorf("index after down = %d, want 3", model.list.Index())
	}

	newModel, _ = model.Update(tea.KeyMsg{Type: tea.KeyUp})
	model = newModel.(Model)
	if model.list.Index() != 1 {
		t.Errorf("index after up = %d, want 1", model.list.Index())
	}
}

func TestModelInit(t *testing.T) {
	m := Model{}
	if cmd := m.Init(); cmd != nil {
		t.Error("Init() should return nil")
	}
}

func TestModelView(t *testing.T) {
	recs := []*record.Record{
		testRecord("user1", record.OwnerUser, "alice", record.StatusRunning, time.Hour),
	}

	t.Run("normal view contains help", func(t *testing.T) {
		m := NewPicker(recs, PickerOptions{Now: testNow})
		view := m.View()

		if !strings.Contains(view, "[enter] Inspect") {
			t.Error("View should contain inspect help")
		}
		if !strings.Contains(view, "[d] Teardown") {
			t.Error("View should contain teardown help")
		}
		if strings.Contains(view, "[n]") {
			t.Error("View should not offer open without AllowOpen")
		}
	})

	t.Run("open help with AllowOpen", func(t *testing.T) {
		m := NewPicker(recs, PickerOptions{Now: testNow, AllowOpen: true})
		if !strings.Contains(m.View(), "[n] Open for caller") {
			t.Error("View should contain open help")
		}
	})

	t.Run("quitting view is empty", func(t *testing.T) {
		m := NewPicker(recs, PickerOptions{Now: testNow})
		m.quitting = true
		if view := m.View(); view != "" {
			t.Errorf("Quitting view should be empty, got %q", view)
		}
	})
}

func TestModelResult(t *testing.T) {
	m := Model{
		result: PickerResult{
			Action: ActionInspect,
			Record: &record.Record{ID: "test"},
		},
	}

	result := m.Result()
	if result.Action != ActionInspect {
		t.Errorf("Action = %v, want ActionInspect", result.Action)
	}
	if result.Record.ID != "test" {
		t.Errorf("Record.ID = %q, want %q", result.Record.ID, "test")
	}
}

func TestRunPickerEmpty(t *testing.T) {
	result, err := RunPicker(nil, PickerOptions{})
	if err != nil {
		t.Fatalf("RunPicker with no records failed: %v", err)
	}

	if result.Action != ActionNone {
		t.Errorf("No records should return ActionNone, got %v", result.Action)
	}
}

func TestSimplePicker(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		output := SimplePicker(nil, testNow)

		if !strings.Contains(output, "No sandboxes found") {
			t.Error("Should indicate no sandboxes found")
		}
		if !strings.Contains(output, "sandboxd open") {
			t.Error("Should show how to open a sandbox")
		}
	})

	t.Run("with records", func(t *testing.T) {
		recs := []*record.Record{
			testRecord("vis1", record.OwnerVisitor, "0123456789abcdef", record.StatusRunning, time.Minute),
			testRecord("user1", record.OwnerUser, "alice", record.StatusStopped, time.Hour),
		}

		output := SimplePicker(recs, testNow)

		for _, want := range []string{"sandboxd", "Users (1)", "Visitors (1)", "user1", "vis1", "alice"} {
			if !strings.Contains(output, want) {
				t.Errorf("output should contain %q:\n%s", want, output)
			}
		}
		if strings.Index(output, "Users") > strings.Index(output, "Visitors") {
			t.Error("users should be listed before visitors")
		}
	})
}

func TestActionConstants(t *testing.T) {
	actions := []Action{ActionNone, ActionInspect, ActionOpen, ActionTeardown, ActionQuit}
	seen := make(map[Action]bool)

	for _, a := range actions {
		if seen[a] {
			t.Errorf("Duplicate action value: %v", a)
		}
		seen[a] = true
	}
}
