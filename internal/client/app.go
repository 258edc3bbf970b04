package client

import (
	"fmt"
	"net/http"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fenggwsx/PostBoard/internal/config"
	"github.com/fenggwsx/PostBoard/internal/protocol"
)

// App implements the bubbletea tea.Model interface for the board client.
type App struct {
	cfg          config.ClientConfig
	session      *Session
	serverURL    string
	statusOnline bool
	username     string
	imageURL     *string
	authToken    string
	httpClient   *http.Client

	posts []string
	view  viewMode

	viewport   viewport.Model
	input      textinput.Model
	helper     help.Model
	showHelp   bool
	helpView   string
	helpHeight int
	width      int
	height     int

	logLine  logLine
	styles   styleSet
	commands []commandDef
	keys     keyMap
}

type viewMode int

const (
	viewBoard viewMode = iota
	viewHelp
)

func (v viewMode) String() string {
	switch v {
	case viewBoard:
		return "board"
	case viewHelp:
		return "help"
	default:
		return "unknown"
	}
}

type logLevel int

const (
	logLevelInfo logLevel = iota
	logLevelError
)

type logLine struct {
	level logLevel
	label string
	body  string
}

type styleSet struct {
	title         lipgloss.Style
	view          lipgloss.Style
	statusOnline  lipgloss.Style
	statusOffline lipgloss.Style
	label         lipgloss.Style
	value         lipgloss.Style
	logLabel      lipgloss.Style
	logBody       lipgloss.Style
	logLabelError lipgloss.Style
	logBodyError  lipgloss.Style
	help          lipgloss.Style
}

type commandDef struct {
	trigger     string
	usage       string
	description string
}

type keyMap struct {
	quit     key.Binding
	submit   key.Binding
	complete key.Binding
	pageUp   key.Binding
	pageDown key.Binding
}

type connectResultMsg struct {
	session *Session
	address string
	err     error
}

type frameMsg struct {
	session *Session
	frame   protocol.ServerFrame
}

type sessionClosedMsg struct {
	session *Session
}

type sendResultMsg struct {
	err error
}

type authResultMsg struct {
	action string
	resp   authResponse
	err    error
}

const maxPostLines = 1000

// NewApp returns a Bubble Tea model pre-populated with defaults.
func NewApp(cfg config.ClientConfig) *App {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "Write a post or type /help"
	input.CharLimit = 4096
	input.Focus()

	app := &App{
		cfg:        cfg,
		serverURL:  cfg.ServerURL,
		username:   cfg.Username,
		httpClient: &http.Client{Timeout: authRequestTimeout},
		view:       viewBoard,
		viewport:   viewport.New(0, 0),
		input:      input,
		helper:     help.New(),
		styles:     buildStyles(),
		commands:   buildCommands(cfg.CommandPrefix),
		keys: keyMap{
			quit:     key.NewBinding(key.WithKeys("ctrl+c")),
			submit:   key.NewBinding(key.WithKeys("enter")),
			complete: key.NewBinding(key.WithKeys("tab")),
			pageUp:   key.NewBinding(key.WithKeys("pgup")),
			pageDown: key.NewBinding(key.WithKeys("pgdown")),
		},
	}
	app.logf("Use /connect to reach %s", cfg.ServerURL)
	app.updateViewportContent()
	return app
}

// Init is part of the tea.Model interface.
func (a *App) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles user input and session events.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = m.Width
		a.height = m.Height
		a.updateInputWidth()
		a.updateHelp()
		a.updateViewportSize()
		a.updateViewportContent()
		return a, nil
	case tea.KeyMsg:
		return a.handleKey(m)
	case connectResultMsg:
		return a, a.handleConnectResult(m)
	case frameMsg:
		if m.session != a.session {
			return a, nil
		}
		a.handleFrame(m.frame)
		return a, a.listenForSession()
	case sessionClosedMsg:
		a.handleSessionClosed(m)
		return a, nil
	case sendResultMsg:
		if m.err != nil {
			a.logErrorf("Send failed: %v", m.err)
		}
		return a, nil
	case authResultMsg:
		a.handleAuthResult(m)
		return a, nil
	}

	var cmd tea.Cmd
	a.viewport, cmd = a.viewport.Update(msg)
	return a, cmd
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, a.keys.quit):
		return a, a.executeCommand(string(a.cfg.CommandPrefix) + "quit")
	case key.Matches(msg, a.keys.submit):
		value := a.input.Value()
		a.input.Reset()
		a.updateHelp()
		a.updateViewportSize()
		if value == "" {
			return a, nil
		}
		return a, a.handleSubmit(value)
	case key.Matches(msg, a.keys.complete):
		a.handleTabCompletion()
		a.updateHelp()
		a.updateViewportSize()
		return a, nil
	case key.Matches(msg, a.keys.pageUp):
		a.viewport.LineUp(max(a.viewport.Height/2, 1))
		return a, nil
	case key.Matches(msg, a.keys.pageDown):
		a.viewport.LineDown(max(a.viewport.Height/2, 1))
		return a, nil
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	a.updateHelp()
	a.updateViewportSize()
	return a, cmd
}

func (a *App) logf(format string, args ...any) {
	a.logLine = logLine{level: logLevelInfo, label: "INFO", body: fmt.Sprintf(format, args...)}
}

func (a *App) logErrorf(format string, args ...any) {
	a.logLine = logLine{level: logLevelError, label: "ERROR", body: fmt.Sprintf(format, args...)}
}

func buildCommands(prefix rune) []commandDef {
	p := string(prefix)
	return []commandDef{
		{trigger: p + "connect", usage: p + "connect [url]", description: "Connect to a board server"},
		{trigger: p + "name", usage: p + "name <username>", description: "Set the name attached to your posts"},
		{trigger: p + "image", usage: p + "image <url>|clear", description: "Attach an image URL to the next post"},
		{trigger: p + "signup", usage: p + "signup <user> <email> <pass>", description: "Create an account"},
		{trigger: p + "login", usage: p + "login <user> <pass>", description: "Sign in and adopt the account name"},
		{trigger: p + "board", usage: p + "board", description: "Show the message board"},
		{trigger: p + "help", usage: p + "help", description: "List commands"},
		{trigger: p + "clear", usage: p + "clear", description: "Clear posts from the screen"},
		{trigger: p + "quit", usage: p + "quit", description: "Exit the client"},
	}
}
