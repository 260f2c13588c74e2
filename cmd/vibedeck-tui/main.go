package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

type client struct {
	baseURL    string
	user       string
	headerName string
}

func (c *client) get(path string) (*http.Response, error) {
	req, err := http.NewRequest("GET", strings.TrimRight(c.baseURL, "/")+path, nil)
	if err != nil {
		return nil, err
	}
	if c.user != "" {
		req.Header.Set(c.headerName, c.user)
	}
	return http.DefaultClient.Do(req)
}

type sessionItem struct {
	id          string
	lastMessage string
	subagent    bool
}

func (i sessionItem) Title() string { return i.id }
func (i sessionItem) Description() string {
	if i.subagent {
		return i.lastMessage + "  (subagent)"
	}
	return i.lastMessage
}
func (i sessionItem) FilterValue() string { return i.id }

type sessionsMsg struct {
	items []list.Item
}

type transcriptMsg struct {
	id   string
	text string
}

type busEventMsg struct {
	kind string
	data string
}

type errMsg struct {
	err error
}

type tickMsg struct{}

type model struct {
	client  *client
	events  chan busEventMsg
	refresh time.Duration

	sessions list.Model
	body     viewport.Model
	selected string
	status   string
	ready    bool
}

func newModel(c *client, events chan busEventMsg, refresh time.Duration) model {
	delegate := list.NewDefaultDelegate()
	l := list.New(nil, delegate, 40, 20)
	l.Title = "Sessions"
	l.SetShowStatusBar(false)
	return model{
		client:   c,
		events:   events,
		refresh:  refresh,
		sessions: l,
		status:   "loading",
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.fetchSessions(), m.waitForEvent(), m.tick())
}

func (m model) fetchSessions() tea.Cmd {
	c := m.client
	return func() tea.Msg {
		resp, err := c.get("/api/sessions")
		if err != nil {
			return errMsg{err}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg{fmt.Errorf("sessions: %s", resp.Status)}
		}
		var out struct {
			Sessions []struct {
				ID          string `json:"id"`
				LastMessage string `json:"last_message"`
				Subagent    bool   `json:"subagent"`
			} `json:"sessions"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return errMsg{err}
		}
		items := make([]list.Item, 0, len(out.Sessions))
		for _, s := range out.Sessions {
			items = append(items, sessionItem{id: s.ID, lastMessage: s.LastMessage, subagent: s.Subagent})
		}
		return sessionsMsg{items}
	}
}

func (m model) fetchTranscript(id string) tea.Cmd {
	c := m.client
	return func() tea.Msg {
		resp, err := c.get("/api/sessions/" + id)
		if err != nil {
			return errMsg{err}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg{fmt.Errorf("session %s: %s", id, resp.Status)}
		}
		var out struct {
			Messages []struct {
				Type      string `json:"type"`
				Timestamp string `json:"timestamp"`
				Text      string `json:"text"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return errMsg{err}
		}
		var b strings.Builder
		for _, msg := range out.Messages {
			fmt.Fprintf(&b, "── %s %s\n%s\n\n", msg.Type, msg.Timestamp, msg.Text)
		}
		return transcriptMsg{id: id, text: b.String()}
	}
}

func (m model) waitForEvent() tea.Cmd {
	events := m.events
	return func() tea.Msg {
		evt, ok := <-events
		if !ok {
			return nil
		}
		return evt
	}
}

func (m model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		listWidth := msg.Width / 3
		m.sessions.SetSize(listWidth, msg.Height-2)
		m.body = viewport.New(msg.Width-listWidth-1, msg.Height-2)
		m.ready = true
		if m.selected != "" {
			return m, m.fetchTranscript(m.selected)
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.fetchSessions()
		case "enter":
			if item, ok := m.sessions.SelectedItem().(sessionItem); ok {
				m.selected = item.id
				m.status = "loading " + item.id
				return m, m.fetchTranscript(item.id)
			}
		}

	case sessionsMsg:
		m.sessions.SetItems(msg.items)
		m.status = fmt.Sprintf("%d sessions", len(msg.items))
		return m, nil

	case transcriptMsg:
		if m.ready {
			m.body.SetContent(msg.text)
			m.body.GotoBottom()
		}
		m.status = msg.id
		return m, nil

	case busEventMsg:
		cmds := []tea.Cmd{m.waitForEvent()}
		m.status = msg.kind
		switch msg.kind {
		case "session_added", "session_removed":
			cmds = append(cmds, m.fetchSessions())
		case "session_updated":
			if m.selected != "" && strings.Contains(msg.data, m.selected) {
				cmds = append(cmds, m.fetchTranscript(m.selected))
			}
		}
		return m, tea.Batch(cmds...)

	case tickMsg:
		return m, tea.Batch(m.fetchSessions(), m.tick())

	case errMsg:
		m.status = "error: " + msg.err.Error()
		return m, nil
	}

	var cmd tea.Cmd
	m.sessions, cmd = m.sessions.Update(msg)
	return m, cmd
}

func (m model) View() string {
	if !m.ready {
		return "starting…"
	}
	left := strings.Split(m.sessions.View(), "\n")
	right := strings.Split(m.body.View(), "\n")
	rows := len(left)
	if len(right) > rows {
		rows = len(right)
	}
	var b strings.Builder
	for i := 0; i < rows; i++ {
		var l, r string
		if i < len(left) {
			l = left[i]
		}
		if i < len(right) {
			r = right[i]
		}
		fmt.Fprintf(&b, "%-*s %s\n", m.sessions.Width(), l, r)
	}
	b.WriteString(m.status)
	return b.String()
}

// streamEvents reads the SSE feed and forwards events to the UI. The
// connection is retried with a flat backoff; the UI keeps polling either
// way.
func streamEvents(c *client, out chan<- busEventMsg) {
	for {
		resp, err := c.get("/api/events")
		if err != nil || resp.StatusCode != http.StatusOK {
			if resp != nil {
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
			time.Sleep(2 * time.Second)
			continue
		}
		sc := bufio.NewScanner(resp.Body)
		var kind string
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				kind = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				out <- busEventMsg{kind: kind, data: strings.TrimPrefix(line, "data: ")}
			}
		}
		resp.Body.Close()
		time.Sleep(time.Second)
	}
}

func main() {
	var (
		serverURL  = flag.String("server", "http://127.0.0.1:8787", "vibedeckd base URL")
		user       = flag.String("user", "", "identity to act as")
		headerName = flag.String("identity-header", "X-Vibedeck-User", "identity header name")
		refresh    = flag.Duration("refresh", 10*time.Second, "session list poll interval")
	)
	flag.Parse()

	c := &client{baseURL: *serverURL, user: *user, headerName: *headerName}
	events := make(chan busEventMsg, 16)
	go streamEvents(c, events)

	p := tea.NewProgram(newModel(c, events, *refresh), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "vibedeck-tui:", err)
		os.Exit(1)
	}
}
