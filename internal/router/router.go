// Package router implements the control flow named in the system
// overview: inbound chat event -> authorization filter -> classifier
// (command / media / callback) -> either an immediate reply or
// Queue.Enqueue. The chat transport itself (decoding a platform's wire
// format into an Event) is the out-of-scope external collaborator; this
// package is everything the core does once that decoding has happened.
package router

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/adittyamondal/vcompress/internal/chat"
	"github.com/adittyamondal/vcompress/internal/config"
	"github.com/adittyamondal/vcompress/internal/history"
	"github.com/adittyamondal/vcompress/internal/jobs"
	"github.com/adittyamondal/vcompress/internal/logger"
	"github.com/adittyamondal/vcompress/internal/settings"
)

// EventKind discriminates the shapes of inbound chat activity the
// classifier understands.
type EventKind string

const (
	EventCommand  EventKind = "command"
	EventMedia    EventKind = "media"
	EventCallback EventKind = "callback"
)

// Event is the transport-agnostic inbound activity the Router consumes.
// A real chat transport decodes its own wire format (a Telegram Update,
// a Discord Interaction, ...) into this shape; Router never speaks the
// wire format itself.
type Event struct {
	Kind EventKind

	UserID      int64
	ChatID      int64
	StatusMsgID int64 // message handle the Progress Reporter will edit

	Command string   // e.g. "link", "custom", "watermark" (no leading slash)
	Args    []string // whitespace-split command arguments

	Upload *jobs.UploadSource // set when Kind == EventMedia, or on a /custom reply-to-video

	CallbackPayload string // set when Kind == EventCallback, e.g. "stats<key>" or "skip<key>"
}

// Router applies the authorization filter, classifies the event, and
// either submits a job or performs an immediate effect (settings toggle,
// cancellation, a stats/status/usage reply).
type Router struct {
	cfg       *config.Config
	queue     *jobs.Queue
	settings  *settings.Store
	history   *history.Store
	callbacks *jobs.CallbackRegistry
	tokens    *jobs.TokenRegistry
	messenger chat.Messenger
}

// New constructs a Router. history may be nil, in which case /usage
// replies that history is unavailable rather than failing.
func New(
	cfg *config.Config,
	queue *jobs.Queue,
	settingsStore *settings.Store,
	historyStore *history.Store,
	callbacks *jobs.CallbackRegistry,
	tokens *jobs.TokenRegistry,
	messenger chat.Messenger,
) *Router {
	return &Router{
		cfg: cfg, queue: queue, settings: settingsStore, history: historyStore,
		callbacks: callbacks, tokens: tokens, messenger: messenger,
	}
}

// Listen drains ch, handling each Event in turn, until ctx is cancelled or
// ch is closed. It is the goroutine the Application runs alongside the
// pipeline worker loop.
func (r *Router) Listen(ctx context.Context, ch <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			r.Handle(ctx, ev)
		}
	}
}

// Handle applies the authorization filter and dispatches ev. It never
// panics; every path either submits a job, performs a settings mutation,
// or sends a reply through the messenger.
func (r *Router) Handle(ctx context.Context, ev Event) {
	if !r.cfg.IsOwner(ev.UserID) {
		logger.Warn("rejected event from non-owner", "user_id", ev.UserID, "kind", ev.Kind)
		if ev.Kind == EventCommand {
			r.reply(ctx, ev.ChatID, "You are not authorized to use this bot.")
		}
		return
	}

	switch ev.Kind {
	case EventMedia:
		r.submit(ctx, ev, jobs.Payload{Upload: ev.Upload})
	case EventCallback:
		r.handleCallback(ctx, ev)
	case EventCommand:
		r.handleCommand(ctx, ev)
	default:
		logger.Warn("unrecognized event kind", "kind", ev.Kind)
	}
}

func (r *Router) handleCommand(ctx context.Context, ev Event) {
	switch ev.Command {
	case "link":
		r.submitLink(ctx, ev)
	case "custom":
		r.submitCustom(ctx, ev)
	case "toggle_upload_mode":
		r.toggleUploadMode(ctx, ev)
	case "watermark":
		r.toggleWatermark(ctx, ev)
	case "status":
		r.replyStatus(ctx, ev)
	case "usage":
		r.replyUsage(ctx, ev)
	default:
		// /start, /ping, /help, /settings, /debug, /test: informational or
		// settings-menu-rendering commands with no core-side state change —
		// the Settings UI and its menu tree are an out-of-scope transport
		// concern (§1), so the core just acknowledges having seen them.
		logger.Debug("command has no core-side handler", "command", ev.Command)
	}
}

func (r *Router) submitLink(ctx context.Context, ev Event) {
	if len(ev.Args) == 0 {
		r.reply(ctx, ev.ChatID, "Usage: /link <url> [filename]")
		return
	}
	payload := jobs.Payload{Link: &jobs.LinkSource{
		URL:           ev.Args[0],
		SuggestedName: strings.Join(ev.Args[1:], " "),
	}}
	r.submit(ctx, ev, payload)
}

// submitCustom persists ad-hoc "-key value" profile overrides into the
// caller's custom_compression layer and activates the custom preset.
// custom_compression's keys already match EncodeProfile's JSON tags
// (v_codec, v_qp, v_scale, ...), so no flag-name translation is needed.
// If ev.Upload is set (the command was sent as a reply to a video), the
// job is submitted immediately; otherwise only the profile is saved.
func (r *Router) submitCustom(ctx context.Context, ev Event) {
	overrides, err := parseCustomFlags(ev.Args)
	if err != nil {
		r.reply(ctx, ev.ChatID, fmt.Sprintf("Invalid -key value pairs: %v", err))
		return
	}
	for key, value := range overrides {
		if err := r.settings.Set("custom_compression", key, value, ev.UserID); err != nil {
			logger.Error("failed to persist custom override", "key", key, "error", err)
			r.reply(ctx, ev.ChatID, "Failed to save custom profile.")
			return
		}
	}
	if _, err := r.settings.SetActivePreset("custom", ev.UserID); err != nil {
		logger.Error("failed to activate custom preset", "error", err)
		r.reply(ctx, ev.ChatID, "Failed to activate custom profile.")
		return
	}

	if ev.Upload == nil {
		r.reply(ctx, ev.ChatID, "Custom profile saved. Reply to a video with /custom to transcode it.")
		return
	}
	r.submit(ctx, ev, jobs.Payload{Upload: ev.Upload})
}

// parseCustomFlags parses a flat "-key value -key value ..." argument
// list. Values that parse as integers are stored as int; everything else
// is stored as a string.
func parseCustomFlags(args []string) (map[string]any, error) {
	if len(args)%2 != 0 {
		return nil, fmt.Errorf("expected -key value pairs, got %d arguments", len(args))
	}
	out := make(map[string]any, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		key := strings.TrimPrefix(args[i], "-")
		if key == args[i] || key == "" {
			return nil, fmt.Errorf("expected a -flag, got %q", args[i])
		}
		val := args[i+1]
		if n, err := strconv.Atoi(val); err == nil {
			out[key] = n
			continue
		}
		out[key] = val
	}
	return out, nil
}

func (r *Router) toggleUploadMode(ctx context.Context, ev Event) {
	cat := r.settings.GetCategory("output_settings", ev.UserID)
	mode := "file"
	if current, _ := cat["default_upload_mode"].(string); current == "file" {
		mode = "document"
	}
	if err := r.settings.Set("output_settings", "default_upload_mode", mode, ev.UserID); err != nil {
		logger.Error("failed to toggle upload mode", "error", err)
		r.reply(ctx, ev.ChatID, "Failed to update upload mode.")
		return
	}
	r.reply(ctx, ev.ChatID, fmt.Sprintf("Upload mode set to %s.", mode))
}

func (r *Router) toggleWatermark(ctx context.Context, ev Event) {
	cat := r.settings.GetCategory("advanced_settings", ev.UserID)
	enabled, _ := cat["watermark_enabled"].(bool)
	enabled = !enabled
	if err := r.settings.Set("advanced_settings", "watermark_enabled", enabled, ev.UserID); err != nil {
		logger.Error("failed to toggle watermark", "error", err)
		r.reply(ctx, ev.ChatID, "Failed to update watermark setting.")
		return
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	r.reply(ctx, ev.ChatID, fmt.Sprintf("Watermark %s.", state))
}

func (r *Router) replyStatus(ctx context.Context, ev Event) {
	r.reply(ctx, ev.ChatID, fmt.Sprintf("Queue size: %d\nWorking: %v", r.queue.Size(), r.queue.Working()))
}

func (r *Router) replyUsage(ctx context.Context, ev Event) {
	if r.history == nil {
		r.reply(ctx, ev.ChatID, "Usage history is unavailable.")
		return
	}
	n, saved, err := r.history.LifetimeTotals()
	if err != nil {
		logger.Error("failed to read lifetime totals", "error", err)
		r.reply(ctx, ev.ChatID, "Failed to load usage stats.")
		return
	}
	r.reply(ctx, ev.ChatID, fmt.Sprintf("Jobs processed: %d\nBytes saved: %s", n, humanize.Bytes(uint64(saved))))
}

func (r *Router) handleCallback(ctx context.Context, ev Event) {
	switch {
	case strings.HasPrefix(ev.CallbackPayload, "stats"):
		r.replyStats(ctx, ev, strings.TrimPrefix(ev.CallbackPayload, "stats"))
	case strings.HasPrefix(ev.CallbackPayload, "skip"):
		r.cancelJob(ctx, ev, strings.TrimPrefix(ev.CallbackPayload, "skip"))
	default:
		logger.Debug("callback payload has no core-side handler", "payload", ev.CallbackPayload)
	}
}

func (r *Router) replyStats(ctx context.Context, ev Event, key string) {
	entry, ok := r.callbacks.Resolve(key)
	if !ok {
		r.reply(ctx, ev.ChatID, "This job is no longer active.")
		return
	}
	r.reply(ctx, ev.ChatID, fmt.Sprintf("Output: %s", entry.OutputPath))
}

func (r *Router) cancelJob(ctx context.Context, ev Event, key string) {
	entry, ok := r.callbacks.Resolve(key)
	if !ok {
		r.reply(ctx, ev.ChatID, "This job is no longer active.")
		return
	}
	token, ok := r.tokens.Get(entry.JobSeq)
	if !ok {
		r.reply(ctx, ev.ChatID, "This job is no longer cancellable.")
		return
	}
	token.Cancel()
	r.reply(ctx, ev.ChatID, "Cancelling...")
}

// submit resolves the caller's active preset and admits the job, replying
// with the outcome (queued, duplicate, or full).
func (r *Router) submit(ctx context.Context, ev Event, payload jobs.Payload) {
	origin := jobs.Origin{UserID: ev.UserID, ChatID: ev.ChatID, StatusMsgID: ev.StatusMsgID}
	preset := r.settings.ActivePreset(ev.UserID)

	job, result := r.queue.Enqueue(preset, origin, payload)
	switch result {
	case jobs.RejectedDuplicate:
		r.reply(ctx, ev.ChatID, "This source is already queued.")
	case jobs.RejectedFull:
		r.reply(ctx, ev.ChatID, "Queue is full, try again later.")
	case jobs.Admitted:
		r.reply(ctx, ev.ChatID, fmt.Sprintf("Queued as job #%d.", job.Seq))
	}
}

func (r *Router) reply(ctx context.Context, chatID int64, text string) {
	if r.messenger == nil {
		return
	}
	if _, err := r.messenger.SendMessage(ctx, chatID, text); err != nil {
		logger.Warn("failed to send reply", "chat_id", chatID, "error", err)
	}
}
