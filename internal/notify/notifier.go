package notify

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"perp_bot/internal/models"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
	Confirm(ctx context.Context, prompt string, timeout time.Duration) bool
}

// Telegram is the operator surface: outbound notifications plus the
// intervention commands, published as typed events to the tick loop rather
// than acted on here.
//
//	/status                    engine snapshot
//	/close <side> <index>      close one position
//	/closeall <side>           flatten a side
//	/addslot  /removeslot      adjust the slot limit
//	/mode <mode>               set trading mode
//	/pause                     shorthand for /mode NEUTRAL
//	/milestone <id>            force-trigger a milestone
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64

	events chan<- models.Intervention
	// StatusFn renders /status; set by the runner after wiring.
	StatusFn func() string

	mu       sync.Mutex
	pendings map[string]*pending
}

type pending struct {
	ch     chan bool
	msgID  int
	prompt string
}

func NewTelegram(token string, chatID int64, events chan<- models.Intervention) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{
		bot:      b,
		chatID:   chatID,
		events:   events,
		pendings: make(map[string]*pending),
	}, nil
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	_, _ = t.bot.Send(tgbot.NewMessage(t.chatID, msg))
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

// HandleCallback resolves a pending Confirm from a callback_query.
func (t *Telegram) HandleCallback(cb *tgbot.CallbackQuery) {
	if t == nil || t.bot == nil || cb == nil {
		return
	}

	// stop the client-side spinner
	_, _ = t.bot.Request(tgbot.NewCallback(cb.ID, ""))

	data := cb.Data // CONF::token / REJ::token
	var verb, token string
	for i := 0; i < len(data); i++ {
		if i+1 < len(data) && data[i] == ':' && data[i+1] == ':' {
			verb, token = data[:i], data[i+2:]
			break
		}
	}
	if verb == "" || token == "" {
		return
	}

	t.mu.Lock()
	p, ok := t.pendings[token]
	t.mu.Unlock()
	if !ok {
		return
	}

	accepted := verb == "CONF"
	p.ch <- accepted
	close(p.ch)

	status := "Rejected"
	if accepted {
		status = "Confirmed"
	}

	_ = t.editReplyMarkupRemove(t.chatID, p.msgID)
	_ = t.editText(t.chatID, p.msgID, fmt.Sprintf("%s\n\n%s", p.prompt, status))

	t.mu.Lock()
	delete(t.pendings, token)
	t.mu.Unlock()
}

func (t *Telegram) editReplyMarkupRemove(chatID int64, msgID int) error {
	rm := tgbot.InlineKeyboardMarkup{InlineKeyboard: [][]tgbot.InlineKeyboardButton{}}
	edit := tgbot.NewEditMessageReplyMarkup(chatID, msgID, rm)
	_, err := t.bot.Request(edit)
	return err
}

func (t *Telegram) editText(chatID int64, msgID int, text string) error {
	edit := tgbot.NewEditMessageText(chatID, msgID, text)
	_, err := t.bot.Request(edit)
	return err
}

// Confirm sends a yes/no keyboard and blocks for the answer.
func (t *Telegram) Confirm(ctx context.Context, prompt string, timeout time.Duration) bool {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return true
	}

	token := fmt.Sprintf("%d", time.Now().UnixNano())
	p := &pending{
		ch:     make(chan bool, 1),
		prompt: prompt,
	}

	t.mu.Lock()
	t.pendings[token] = p
	t.mu.Unlock()

	btnYes := tgbot.NewInlineKeyboardButtonData("Confirm", "CONF::"+token)
	btnNo := tgbot.NewInlineKeyboardButtonData("Skip", "REJ::"+token)
	kb := tgbot.NewInlineKeyboardMarkup(tgbot.NewInlineKeyboardRow(btnYes, btnNo))

	msg := tgbot.NewMessage(t.chatID, prompt)
	msg.ReplyMarkup = kb

	sent, _ := t.bot.Send(msg)
	p.msgID = sent.MessageID

	tmr := time.NewTimer(timeout)
	defer tmr.Stop()

	select {
	case ok := <-p.ch:
		return ok
	case <-tmr.C:
		_ = t.editReplyMarkupRemove(t.chatID, p.msgID)
		_ = t.editText(t.chatID, p.msgID, fmt.Sprintf("%s\n\nTimed out", prompt))
		t.mu.Lock()
		delete(t.pendings, token)
		t.mu.Unlock()
		return false
	case <-ctx.Done():
		_ = t.editReplyMarkupRemove(t.chatID, p.msgID)
		_ = t.editText(t.chatID, p.msgID, fmt.Sprintf("%s\n\nCancelled", prompt))
		t.mu.Lock()
		delete(t.pendings, token)
		t.mu.Unlock()
		return false
	}
}

func (t *Telegram) publish(ev models.Intervention) {
	select {
	case t.events <- ev:
	default:
		t.Send("intervention queue full, command dropped")
	}
}

func parseSide(arg string) (models.Side, bool) {
	s := models.Side(strings.ToLower(arg))
	return s, s.Valid()
}

func (t *Telegram) handleCommand(msg *tgbot.Message) {
	args := strings.Fields(msg.CommandArguments())

	switch msg.Command() {
	case "status":
		if t.StatusFn == nil {
			t.Send("status unavailable")
			return
		}
		t.Send(t.StatusFn())

	case "close":
		if len(args) < 2 {
			t.Send("usage: /close <long|short> <index>")
			return
		}
		side, ok := parseSide(args[0])
		if !ok {
			t.Sendf("unknown side %q", args[0])
			return
		}
		idx, err := strconv.Atoi(args[1])
		if err != nil || idx < 0 {
			t.Sendf("bad index %q", args[1])
			return
		}
		t.publish(models.Intervention{Kind: models.InterventionManualClose, Side: side, Index: idx})

	case "closeall":
		if len(args) < 1 {
			t.Send("usage: /closeall <long|short>")
			return
		}
		side, ok := parseSide(args[0])
		if !ok {
			t.Sendf("unknown side %q", args[0])
			return
		}
		t.publish(models.Intervention{Kind: models.InterventionCloseAll, Side: side})

	case "addslot":
		t.publish(models.Intervention{Kind: models.InterventionAddSlot})

	case "removeslot":
		t.publish(models.Intervention{Kind: models.InterventionRemoveSlot})

	case "pause":
		t.publish(models.Intervention{Kind: models.InterventionSetMode, Mode: models.ModeNeutral})

	case "mode":
		if len(args) < 1 {
			t.Send("usage: /mode <LONG_ONLY|SHORT_ONLY|LONG_SHORT|NEUTRAL>")
			return
		}
		mode := models.TradingMode(strings.ToUpper(args[0]))
		if !mode.Valid() {
			t.Sendf("unknown mode %q", args[0])
			return
		}
		t.publish(models.Intervention{Kind: models.InterventionSetMode, Mode: mode})

	case "milestone":
		if len(args) < 1 {
			t.Send("usage: /milestone <id>")
			return
		}
		t.publish(models.Intervention{Kind: models.InterventionForceMilestone, MilestoneID: args[0]})
	}
}

// Start runs long-polling for messages and callback queries.
func (t *Telegram) Start(ctx context.Context) error {
	if t == nil || t.bot == nil {
		return nil
	}

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message", "callback_query"}

	updates := t.bot.GetUpdatesChan(u)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case upd := <-updates:
				if upd.CallbackQuery != nil {
					t.HandleCallback(upd.CallbackQuery)
				}
				if upd.Message != nil && upd.Message.Chat != nil &&
					upd.Message.Chat.ID == t.chatID && upd.Message.IsCommand() {
					t.handleCommand(upd.Message)
				}
			}
		}
	}()
	return nil
}

// Stdout logs everything and auto-confirms; used when no token is set.
type Stdout struct{}

func NewStdout() *Stdout                           { return &Stdout{} }
func (s *Stdout) Send(msg string)                  { log.Println(msg) }
func (s *Stdout) Sendf(format string, args ...any) { log.Printf(format, args...) }
func (s *Stdout) Confirm(ctx context.Context, prompt string, timeout time.Duration) bool {
	log.Printf("CONFIRM (auto-yes): %s", prompt)
	return true
}
