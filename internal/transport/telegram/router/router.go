// Package router turns incoming Telegram text messages into command
// invocations: it parses "/name@bot args", enforces group and admin access,
// and runs handlers on a bounded worker pool with timeout, panic recovery,
// request logging and metrics.
package router

import (
	"context"
	"errors"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"schedbot/internal/metrics"
	rtsup "schedbot/internal/runtime/supervisor"
	kit "schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	// AccessGroupOnly rejects private chats.
	AccessGroupOnly
	// AccessGroupAdmin additionally requires the sender to administer the group.
	AccessGroupAdmin
)

const (
	DefaultTimeout   = 20 * time.Second
	defaultQueueSize = 256

	msgGroupOnly   = "❌ This command only works in groups!"
	msgNotAdmin    = "❌ Only group admins can use this command!"
	msgAdminFailed = "❌ Could not verify admin rights. Please try again."
	msgBusy        = "⏳ Busy right now, try again in a moment."
)

// ErrDenied is returned by the access gate when a command is refused.
var ErrDenied = errors.New("access denied")

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	// Denied replaces the generic reply sent to non-admins.
	Denied  string
	Timeout time.Duration
	Handle  HandlerFunc
}

// AdminChecker decides whether userID may configure chatID.
type AdminChecker interface {
	IsAdmin(ctx context.Context, chatID, userID int64, username string) (bool, error)
}

type Request struct {
	Msg          *kit.Message
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Command      string
	Args         []string
	ReqID        string

	Adapter kit.Adapter
	Logger  logx.Logger

	body string
}

// NewRequest builds the request for msg; body is the text after the command
// word. Command and Logger are filled in by the router.
func NewRequest(msg *kit.Message, adapter kit.Adapter, body string) *Request {
	return &Request{
		Msg:          msg,
		Chat:         kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:       msg.FromID,
		FromUsername: msg.FromUsername,
		Args:         strings.Fields(body),
		ReqID:        uuid.NewString(),
		Adapter:      adapter,
		Logger:       logx.Nop(),
		body:         body,
	}
}

// Rest returns the message text after the first n arguments with its original
// spacing and line breaks.
func (r *Request) Rest(n int) string {
	s := r.body
	for i := 0; i < n; i++ {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		j := strings.IndexFunc(s, unicode.IsSpace)
		if j < 0 {
			return ""
		}
		s = s[j:]
	}
	return strings.TrimSpace(s)
}

// Reply sends text to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string, html bool) error {
	opt := &kit.SendOptions{DisablePreview: true}
	if html {
		opt.ParseMode = "HTML"
	}
	_, err := r.Adapter.SendText(ctx, r.Chat, text, opt)
	return err
}

type Options struct {
	Adapter kit.Adapter
	Admins  AdminChecker
	Metrics *metrics.Metrics
	Log     logx.Logger
	// BotUsername filters "/cmd@otherbot" in groups.
	BotUsername string
	Workers     int
	QueueSize   int
}

type Router struct {
	adapter kit.Adapter
	admins  AdminChecker
	metrics *metrics.Metrics
	log     logx.Logger
	botName string
	workers int
	queue   int

	mu    sync.RWMutex
	table map[string]Command
	cmds  []Command

	runMu sync.Mutex
	sup   *rtsup.Supervisor
}

func New(opts Options) (*Router, error) {
	if opts.Adapter == nil {
		return nil, errors.New("router: adapter is required")
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		adapter: opts.Adapter,
		admins:  opts.Admins,
		metrics: opts.Metrics,
		log:     log.With(logx.String("comp", "telegram.router")),
		botName: strings.ToLower(strings.TrimPrefix(opts.BotUsername, "@")),
		workers: opts.Workers,
		queue:   opts.QueueSize,
		table:   map[string]Command{},
	}
	if r.workers <= 0 {
		r.workers = max(2, runtime.NumCPU())
	}
	if r.queue <= 0 {
		r.queue = defaultQueueSize
	}
	return r, nil
}

// SetCommands replaces the command table. Names and aliases are matched
// case-insensitively; a later duplicate loses.
func (r *Router) SetCommands(cmds []Command) {
	table := map[string]Command{}
	kept := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := sanitizeCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		if _, dup := table[name]; dup {
			r.log.Warn("duplicate command ignored", logx.String("cmd", name))
			continue
		}
		c.Name = name
		table[name] = c
		for _, a := range c.Aliases {
			if a = sanitizeCommand(a); a != "" {
				if _, dup := table[a]; !dup {
					table[a] = c
				}
			}
		}
		kept = append(kept, c)
	}
	r.mu.Lock()
	r.table = table
	r.cmds = kept
	r.mu.Unlock()
}

// Commands returns the registered commands in registration order.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Command(nil), r.cmds...)
}

func (r *Router) lookup(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.table[name]
	return c, ok
}

// UpdateMenu publishes the command list when the adapter supports it.
func (r *Router) UpdateMenu(ctx context.Context) error {
	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	return up.UpdateMenuCommands(ctx, buildMenu(r.Commands()))
}

// Supervisor returns the worker pool supervisor while DispatchLoop runs.
func (r *Router) Supervisor() *rtsup.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.sup
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
// Queued commands still run (bounded by a short drain window) after it returns.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	jobs := make(chan func(), r.queue)
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log))
	r.runMu.Lock()
	r.sup = sup
	r.runMu.Unlock()

	for i := 0; i < r.workers; i++ {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for job := range jobs {
				job()
			}
			return nil
		}, rtsup.RestartPolicy{MinBackoff: 200 * time.Millisecond, MaxBackoff: 5 * time.Second})
	}
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers), logx.Int("queue_cap", r.queue))

	submit := func(job func()) bool {
		select {
		case jobs <- job:
			return true
		default:
			return false
		}
	}

	defer func() {
		close(jobs)
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.runMu.Lock()
		r.sup = nil
		r.runMu.Unlock()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up, submit)
		}
	}
}

// parseCommand splits "/name@bot rest" into the lowercase name, the bot
// mention (may be empty) and the raw text after the name.
func parseCommand(text string) (name, mention, body string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", "", false
	}
	word := text[1:]
	if i := strings.IndexFunc(word, unicode.IsSpace); i >= 0 {
		word, body = word[:i], word[i:]
	}
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word, mention = word[:i], strings.ToLower(word[i+1:])
	}
	name = strings.ToLower(word)
	return name, mention, body, name != ""
}

func (r *Router) route(ctx context.Context, up kit.Update, submit func(func()) bool) {
	msg := up.Message
	if up.Kind != kit.UpdateMessage || msg == nil {
		return
	}
	name, mention, body, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	if mention != "" && r.botName != "" && mention != r.botName {
		return
	}
	cmd, ok := r.lookup(name)
	if !ok {
		r.log.Debug("unknown command ignored", logx.String("cmd", name), logx.Int64("chat_id", msg.ChatID))
		return
	}

	req := NewRequest(msg, r.adapter, body)
	req.Command = cmd.Name
	req.Logger = r.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int64("from_id", msg.FromID),
		logx.String("cmd", cmd.Name),
	)

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	final := Chain(cmd.Handle,
		MWPanicRecover(),
		MWMetrics(r.metrics),
		MWRequestLog(),
		MWTimeout(timeout),
		r.mwAccess(cmd),
	)
	run := context.WithoutCancel(ctx)
	if !submit(func() { _ = final(run, req) }) {
		req.Logger.Warn("command queue full")
		_ = req.Reply(ctx, msgBusy, false)
	}
}

func (r *Router) mwAccess(cmd Command) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if cmd.Access == AccessEveryone {
				return next(ctx, req)
			}
			if !req.Msg.IsGroup {
				_ = req.Reply(ctx, msgGroupOnly, false)
				return ErrDenied
			}
			if cmd.Access == AccessGroupOnly {
				return next(ctx, req)
			}
			if r.admins == nil {
				_ = req.Reply(ctx, msgAdminFailed, false)
				return errors.New("no admin checker configured")
			}
			ok, err := r.admins.IsAdmin(ctx, req.Chat.ChatID, req.FromID, req.FromUsername)
			if err != nil {
				_ = req.Reply(ctx, msgAdminFailed, false)
				return err
			}
			if !ok {
				denied := cmd.Denied
				if denied == "" {
					denied = msgNotAdmin
				}
				_ = req.Reply(ctx, denied, false)
				return ErrDenied
			}
			return next(ctx, req)
		}
	}
}
