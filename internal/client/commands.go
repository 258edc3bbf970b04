package client

import (
	"context"
	"net/url"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fenggwsx/PostBoard/internal/protocol"
)

func (a *App) handleSubmit(value string) tea.Cmd {
	if strings.HasPrefix(value, string(a.cfg.CommandPrefix)) {
		return a.executeCommand(value)
	}
	return a.sendPost(value)
}

func (a *App) executeCommand(raw string) tea.Cmd {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}

	name := strings.TrimPrefix(strings.ToLower(fields[0]), string(a.cfg.CommandPrefix))
	var cmd tea.Cmd

	switch name {
	case "connect":
		target := a.serverURL
		if len(fields) > 1 {
			target = fields[1]
		}
		if target == "" {
			a.logErrorf("Provide a server URL to connect")
			break
		}
		cmd = a.connectToServer(target)
	case "name":
		if len(fields) < 2 {
			a.logErrorf("Usage: /name <username>")
			break
		}
		a.username = strings.Join(fields[1:], " ")
		a.logf("Posting as %s", a.username)
	case "image":
		if len(fields) < 2 {
			a.logErrorf("Usage: /image <url>|clear")
			break
		}
		if strings.EqualFold(fields[1], "clear") {
			a.imageURL = nil
			a.logf("Image cleared")
			break
		}
		parsed, err := url.Parse(fields[1])
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			a.logErrorf("Not an absolute URL: %s", fields[1])
			break
		}
		image := fields[1]
		a.imageURL = &image
		a.logf("Next post will include %s", image)
	case "signup":
		if len(fields) < 4 {
			a.logErrorf("Usage: /signup <username> <email> <password>")
			break
		}
		password := strings.Join(fields[3:], " ")
		a.logf("Signing up %s ...", fields[1])
		cmd = a.authCommand("signup", authRequest{Username: fields[1], Email: fields[2], Password: password})
	case "login":
		if len(fields) < 3 {
			a.logErrorf("Usage: /login <username> <password>")
			break
		}
		password := strings.Join(fields[2:], " ")
		a.logf("Logging in as %s ...", fields[1])
		cmd = a.authCommand("login", authRequest{Username: fields[1], Password: password})
	case "board":
		a.view = viewBoard
		a.logf("Switched to BOARD view")
	case "help":
		a.view = viewHelp
		a.logf("Switched to HELP view")
	case "clear":
		a.posts = nil
		a.logf("Cleared board")
	case "quit", "exit":
		a.logf("Exiting client")
		if a.session != nil {
			_ = a.session.Close()
			a.session = nil
		}
		a.statusOnline = false
		a.authToken = ""
		cmd = tea.Quit
	default:
		a.logErrorf("Command %s not implemented", fields[0])
	}

	a.updateViewportContent()
	return cmd
}

func (a *App) connectToServer(target string) tea.Cmd {
	if a.session != nil {
		_ = a.session.Close()
	}

	session := NewSession(target)
	a.session = session
	a.serverURL = target
	a.statusOnline = false
	a.logf("Connecting to %s ...", target)

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()
		err := session.Connect(ctx)
		return connectResultMsg{session: session, address: target, err: err}
	}
}

func (a *App) handleConnectResult(msg connectResultMsg) tea.Cmd {
	if msg.session != a.session {
		_ = msg.session.Close()
		return nil
	}
	if msg.err != nil {
		a.session = nil
		a.statusOnline = false
		a.logErrorf("Connection to %s failed: %v", msg.address, msg.err)
		return nil
	}

	a.statusOnline = true
	a.posts = nil
	a.view = viewBoard
	a.updateViewportContent()
	a.logf("Connected to %s", msg.address)
	return a.listenForSession()
}

func (a *App) listenForSession() tea.Cmd {
	session := a.session
	if session == nil {
		return nil
	}
	return func() tea.Msg {
		frame, ok := <-session.Frames()
		if !ok {
			return sessionClosedMsg{session: session}
		}
		return frameMsg{session: session, frame: frame}
	}
}

func (a *App) handleSessionClosed(msg sessionClosedMsg) {
	if msg.session != a.session {
		return
	}
	a.session = nil
	a.statusOnline = false
	if err := msg.session.Err(); err != nil {
		a.logErrorf("Connection lost: %v", err)
		return
	}
	a.logf("Connection closed by server")
}

func (a *App) sendPost(content string) tea.Cmd {
	if !a.isConnected() {
		a.logErrorf("Not connected. Use /connect first.")
		return nil
	}
	if strings.TrimSpace(a.username) == "" {
		a.logErrorf("Set a name with /name or /login before posting")
		return nil
	}
	if strings.TrimSpace(content) == "" {
		return nil
	}

	sub := protocol.Submission{Username: a.username, Content: content, ImageURL: a.imageURL}
	a.imageURL = nil
	session := a.session
	return func() tea.Msg {
		return sendResultMsg{err: session.Send(sub)}
	}
}

func (a *App) authCommand(action string, req authRequest) tea.Cmd {
	base, err := apiBaseURL(a.serverURL)
	if err != nil {
		a.logErrorf("Cannot derive API address: %v", err)
		return nil
	}
	client := a.httpClient
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), authRequestTimeout)
		defer cancel()
		resp, err := authenticate(ctx, client, base, action, req)
		return authResultMsg{action: action, resp: resp, err: err}
	}
}

func (a *App) handleAuthResult(msg authResultMsg) {
	if msg.err != nil {
		a.logErrorf("%s failed: %v", strings.ToUpper(msg.action[:1])+msg.action[1:], msg.err)
		return
	}
	a.authToken = msg.resp.Token
	a.username = msg.resp.Username
	a.logf("Signed in as %s (user #%d)", msg.resp.Username, msg.resp.UserID)
}

func (a *App) isConnected() bool {
	return a.session != nil && a.statusOnline
}
