// Package explainview is a bubbletea TUI that walks a hybrid_search_explain
// response hit-by-hit, letting a developer inspect how each sub-query score
// was normalized and combined. Launched by `neuralsearchctl pipeline explain`.
package explainview

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/opensearch-project/neural-search-sub002/internal/mcpserver"
	"github.com/opensearch-project/neural-search-sub002/internal/ui"
)

// Model is the bubbletea model over a set of explained hits.
type Model struct {
	hits     []mcpserver.HitOutput
	cursor   int
	width    int
	height   int
	quitting bool
	styles   ui.Styles
}

// New builds a Model over hits. noColor selects the plain style palette,
// matching the rest of the module's TTY/no-color handling.
func New(hits []mcpserver.HitOutput, noColor bool) *Model {
	return &Model{
		hits:   hits,
		styles: ui.GetStyles(noColor),
		width:  80,
		height: 24,
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.quitting = true
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.hits)-1 {
				m.cursor++
			}
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	}
	return m, nil
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	if len(m.hits) == 0 {
		return m.styles.Dim.Render("no hits to explain\n")
	}

	var b strings.Builder
	b.WriteString(m.styles.Header.Render(fmt.Sprintf("hybrid_search_explain — %d hits", len(m.hits))))
	b.WriteString("\n\n")

	for i, hit := range m.hits {
		line := fmt.Sprintf("doc %-6d score %.4f", hit.DocID, hit.Score)
		if i == m.cursor {
			b.WriteString(m.styles.Active.Render("> " + line))
		} else {
			b.WriteString(m.styles.Dim.Render("  " + line))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.styles.Panel.Render(renderNode(m.hits[m.cursor].Explanation, 0, m.styles)))
	b.WriteString("\n")
	b.WriteString(m.styles.Label.Render("↑/↓ select hit · q quit"))
	b.WriteString("\n")
	return b.String()
}

func renderNode(node mcpserver.ExplanationNode, depth int, styles ui.Styles) string {
	indent := strings.Repeat("  ", depth)
	line := fmt.Sprintf("%s%.4f — %s", indent, node.Value, node.Description)
	if depth == 0 {
		line = styles.Success.Render(line)
	}

	var b strings.Builder
	b.WriteString(line)
	for _, child := range node.Details {
		b.WriteString("\n")
		b.WriteString(renderNode(child, depth+1, styles))
	}
	return b.String()
}

// Run starts the TUI over hits on stdout, blocking until the user quits.
// stdout must be a TTY; callers should check ui.IsTTY first and fall back
// to a plain-text render otherwise.
func Run(hits []mcpserver.HitOutput, noColor bool) error {
	p := tea.NewProgram(New(hits, noColor), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderPlain returns a non-interactive, line-oriented rendering of hits,
// used when output isn't a TTY (piped, redirected, --plain or --no-color).
func RenderPlain(hits []mcpserver.HitOutput) string {
	var b strings.Builder
	for _, hit := range hits {
		b.WriteString(fmt.Sprintf("doc %d  score %.4f\n", hit.DocID, hit.Score))
		b.WriteString(renderNode(hit.Explanation, 1, ui.NoColorStyles()))
		b.WriteString("\n\n")
	}
	return b.String()
}
