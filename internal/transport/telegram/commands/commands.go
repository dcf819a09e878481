// Package commands is the chat command surface over the reminder manager.
//
// Commands are plain text so every flow is reachable without keyboards:
//
//	/plan <date> [HH:MM] <topic> [| details]
//	/remind <id> <HH:MM|none>
//	/edit <id> <topic> [| details]
//	/done <id...>
//	/delete <id>
//	/list [date]
//
// A photo, voice note or document captioned with /plan becomes the plan's
// attachment.
package commands

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"planbot/internal/clock"
	"planbot/internal/reminder"
	"planbot/internal/storage"
	logx "planbot/pkg/logx"
)

var (
	errUsage = errors.New("usage")
	errBadID = errors.New("not a plan id")
)

// Planner is the part of reminder.Manager the commands drive.
type Planner interface {
	CreatePlan(ctx context.Context, in reminder.PlanInput) (storage.Plan, error)
	EditPlan(ctx context.Context, owner, planID int64, e reminder.PlanEdit) (storage.Plan, error)
	SetReminder(ctx context.Context, owner, planID int64, spec string) (time.Time, error)
	DeletePlan(ctx context.Context, owner, planID int64) error
	ToggleCompleted(ctx context.Context, owner int64, ids ...int64) (int, error)
	ListPlans(ctx context.Context, owner int64, f storage.ListFilter) ([]storage.Plan, error)
}

// Registrar is satisfied by the telegram adapter.
type Registrar interface {
	Handle(endpoint any, h tele.HandlerFunc, m ...tele.MiddlewareFunc)
}

type Handler struct {
	plans Planner
	clock *clock.Resolver
	log   logx.Logger
}

func New(p Planner, clk *clock.Resolver, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{plans: p, clock: clk, log: log.With(logx.String("comp", "commands"))}
}

const helpText = `<b>Plans</b>
/plan &lt;date&gt; [HH:MM] &lt;topic&gt; [| details]
/remind &lt;id&gt; &lt;HH:MM|none&gt;
/edit &lt;id&gt; [date] [topic] [| details]
/done &lt;id...&gt;
/delete &lt;id&gt;
/list [date]
Dates: today, tomorrow, DD.MM.YYYY or YYYY-MM-DD.`

// Register wires the commands into the bot. Only private chats are served
// because reminders are delivered to the owner's user id.
func (h *Handler) Register(r Registrar) {
	private := func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if c.Chat() == nil || c.Chat().Type != tele.ChatPrivate || c.Sender() == nil {
				return nil
			}
			return next(c)
		}
	}
	text := func(c tele.Context) error {
		reply := h.Dispatch(context.Background(), c.Sender().ID, c.Text(), nil)
		return c.Send(reply, tele.ModeHTML)
	}
	for _, cmd := range []string{"/start", "/help", "/plan", "/remind", "/edit", "/done", "/delete", "/list"} {
		r.Handle(cmd, text, private)
	}
	media := func(kind storage.MediaKind, fileID func(*tele.Message) string) tele.HandlerFunc {
		return func(c tele.Context) error {
			m := c.Message()
			if m == nil || !strings.HasPrefix(strings.TrimSpace(m.Caption), "/plan") {
				return nil
			}
			att := &storage.Attachment{MediaID: fileID(m), Kind: kind}
			return c.Send(h.Dispatch(context.Background(), c.Sender().ID, m.Caption, att), tele.ModeHTML)
		}
	}
	r.Handle(tele.OnPhoto, media(storage.MediaPhoto, func(m *tele.Message) string { return m.Photo.FileID }), private)
	r.Handle(tele.OnVoice, media(storage.MediaVoice, func(m *tele.Message) string { return m.Voice.FileID }), private)
	r.Handle(tele.OnDocument, media(storage.MediaDocument, func(m *tele.Message) string { return m.Document.FileID }), private)
}

// Dispatch runs one command for owner and returns the HTML reply.
func (h *Handler) Dispatch(ctx context.Context, owner int64, text string, att *storage.Attachment) string {
	cmd, args := splitCommand(text)
	var (
		reply string
		err   error
	)
	switch cmd {
	case "plan":
		reply, err = h.plan(ctx, owner, args, att)
	case "remind":
		reply, err = h.remind(ctx, owner, args)
	case "edit":
		reply, err = h.edit(ctx, owner, args)
	case "done":
		reply, err = h.done(ctx, owner, args)
	case "delete":
		reply, err = h.remove(ctx, owner, args)
	case "list":
		reply, err = h.list(ctx, owner, args)
	default:
		return helpText
	}
	if err != nil {
		return h.explain(owner, cmd, err)
	}
	return reply
}

func (h *Handler) plan(ctx context.Context, owner int64, args string, att *storage.Attachment) (string, error) {
	pa, err := parsePlan(args, h.clock.Today())
	if err != nil {
		return "", err
	}
	p, err := h.plans.CreatePlan(ctx, reminder.PlanInput{
		Owner:      owner,
		Date:       pa.date,
		Topic:      pa.topic,
		Body:       pa.body,
		Attachment: att,
		Reminder:   pa.reminder,
	})
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Plan «%s» for %s added (ID: %d).", html.EscapeString(p.Topic), p.Date, p.ID)
	if p.ReminderAt != nil {
		fmt.Fprintf(&b, "\n🔔 Reminder at %s.", h.clock.In(*p.ReminderAt).Format("15:04"))
	}
	return b.String(), nil
}

func (h *Handler) remind(ctx context.Context, owner int64, args string) (string, error) {
	idStr, spec, _ := strings.Cut(strings.TrimSpace(args), " ")
	if idStr == "" || strings.TrimSpace(spec) == "" {
		return "", errUsage
	}
	id, err := parseID(idStr)
	if err != nil {
		return "", err
	}
	due, err := h.plans.SetReminder(ctx, owner, id, spec)
	if err != nil {
		return "", err
	}
	if due.IsZero() {
		return fmt.Sprintf("✅ Reminder for plan ID %d removed.", id), nil
	}
	return fmt.Sprintf("✅ Reminder set for %s.", due.Format("2006-01-02 15:04")), nil
}

// edit reads "<id> [date] [topic] [| details]". A leading word that parses
// as a day moves the plan to that date.
func (h *Handler) edit(ctx context.Context, owner int64, args string) (string, error) {
	idStr, rest, _ := strings.Cut(strings.TrimSpace(args), " ")
	id, err := parseID(idStr)
	if err != nil {
		return "", err
	}
	head, body, hasBody := strings.Cut(rest, "|")
	head = strings.TrimSpace(head)

	var e reminder.PlanEdit
	if first, after, _ := strings.Cut(head, " "); first != "" {
		if d, err := parseDay(first, h.clock.Today()); err == nil {
			e.Date = &d
			head = strings.TrimSpace(after)
		}
	}
	if head != "" {
		e.Topic = &head
	}
	if hasBody {
		b := strings.TrimSpace(body)
		e.Body = &b
	}
	if e.Date == nil && e.Topic == nil && e.Body == nil {
		return "", errUsage
	}
	p, err := h.plans.EditPlan(ctx, owner, id, e)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Plan ID %d updated: %s «%s».", p.ID, p.Date, html.EscapeString(p.Topic)), nil
}

func (h *Handler) done(ctx context.Context, owner int64, args string) (string, error) {
	ids, err := parseIDs(args)
	if err != nil {
		return "", err
	}
	n, err := h.plans.ToggleCompleted(ctx, owner, ids...)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", reminder.ErrPlanNotFound
	}
	return fmt.Sprintf("✅ Completion toggled for %d plan(s).", n), nil
}

func (h *Handler) remove(ctx context.Context, owner int64, args string) (string, error) {
	id, err := parseID(args)
	if err != nil {
		return "", err
	}
	if err := h.plans.DeletePlan(ctx, owner, id); err != nil {
		return "", err
	}
	return fmt.Sprintf("🗑 Plan ID %d deleted.", id), nil
}

func (h *Handler) list(ctx context.Context, owner int64, args string) (string, error) {
	var f storage.ListFilter
	if strings.TrimSpace(args) != "" {
		d, err := parseDay(args, h.clock.Today())
		if err != nil {
			return "", err
		}
		f.Date = d
	}
	plans, err := h.plans.ListPlans(ctx, owner, f)
	if err != nil {
		return "", err
	}
	if len(plans) == 0 {
		return "You have no plans yet.", nil
	}
	var b strings.Builder
	for i, p := range plans {
		if i > 0 {
			b.WriteByte('\n')
		}
		mark := "▫️"
		if p.Completed {
			mark = "✅"
		}
		fmt.Fprintf(&b, "%s <b>%d</b> %s %s", mark, p.ID, p.Date, html.EscapeString(p.Topic))
		if p.HasPendingReminder() {
			fmt.Fprintf(&b, " 🔔 %s", h.clock.In(*p.ReminderAt).Format("15:04"))
		}
		if p.Attachment != nil {
			b.WriteString(" 📎")
		}
	}
	return b.String(), nil
}

// explain maps engine errors to chat replies.
func (h *Handler) explain(owner int64, cmd string, err error) string {
	var ve *reminder.ValidationError
	switch {
	case errors.Is(err, errUsage):
		return helpText
	case errors.As(err, &ve):
		switch ve.Reason {
		case reminder.ReasonBadTimeFormat:
			return "Invalid time format. Use HH:MM (for example 22:30), or 'none' for no reminder."
		case reminder.ReasonPastTime:
			return "That time has already passed. Enter a future time or 'none'."
		case reminder.ReasonEmptyTopic:
			return "The plan topic cannot be empty."
		case reminder.ReasonBadDate:
			return "Invalid date. Use DD.MM.YYYY, YYYY-MM-DD, today or tomorrow."
		case reminder.ReasonBadMedia:
			return "Unsupported attachment. Send a photo, a voice note or a document."
		}
		return "Invalid input."
	case errors.Is(err, clock.ErrBadDate):
		return "Invalid date. Use DD.MM.YYYY, YYYY-MM-DD, today or tomorrow."
	case errors.Is(err, reminder.ErrPlanNotFound):
		return "Plan not found."
	case errors.Is(err, reminder.ErrNotReady):
		return "Starting up, try again in a moment."
	case errors.Is(err, errBadID):
		return "The ID must be a number."
	}
	h.log.Error("command failed", logx.Int64("owner", owner), logx.String("cmd", cmd), logx.Err(err))
	return "Something went wrong. Please try again."
}
