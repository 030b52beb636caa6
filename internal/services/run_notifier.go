package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	types "github.com/yungbote/lessongen-backend/internal/domain/lessongen"
	"github.com/yungbote/lessongen-backend/internal/platform/gcp"
	"github.com/yungbote/lessongen-backend/internal/platform/logger"
)

// RunNotifier receives terminal run outcomes after they are committed. Calls
// are best effort; failures are logged and never change run state.
type RunNotifier interface {
	RunDone(ctx context.Context, run *types.Run, lesson *types.Lesson)
	RunFailed(ctx context.Context, run *types.Run, code string, message string)
}

type multiNotifier []RunNotifier

// NewRunNotifiers fans out to every non-nil notifier.
func NewRunNotifiers(ns ...RunNotifier) RunNotifier {
	out := multiNotifier{}
	for _, n := range ns {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

func (m multiNotifier) RunDone(ctx context.Context, run *types.Run, lesson *types.Lesson) {
	for _, n := range m {
		n.RunDone(ctx, run, lesson)
	}
}

func (m multiNotifier) RunFailed(ctx context.Context, run *types.Run, code string, message string) {
	for _, n := range m {
		n.RunFailed(ctx, run, code, message)
	}
}

type telegramNotifier struct {
	log    *logger.Logger
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramNotifier posts run outcomes to TELEGRAM_CHAT_ID. It returns nil
// when TELEGRAM_BOT_TOKEN is unset.
func NewTelegramNotifier(log *logger.Logger) (RunNotifier, error) {
	token := strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	if token == "" {
		return nil, nil
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &telegramNotifier{log: log.With("service", "TelegramNotifier"), bot: bot, chatID: chatID}, nil
}

func (n *telegramNotifier) send(text string) {
	if _, err := n.bot.Send(tgbotapi.NewMessage(n.chatID, text)); err != nil {
		n.log.Warn("Telegram send failed", "error", err)
	}
}

func (n *telegramNotifier) RunDone(ctx context.Context, run *types.Run, lesson *types.Lesson) {
	title := ""
	if lesson != nil {
		title = lesson.Title
	}
	n.send(fmt.Sprintf("Lesson ready: %s\nrun %s, %d parts", title, run.ID, run.TotalSubtasks))
}

func (n *telegramNotifier) RunFailed(ctx context.Context, run *types.Run, code string, message string) {
	n.send(fmt.Sprintf("Lesson run %s failed (%s): %s", run.ID, code, message))
}

type archiveNotifier struct {
	log    *logger.Logger
	bucket gcp.ArchiveBucket
}

// NewArchiveNotifier copies each completed lesson into the archive bucket as
// lesson.html and lesson.json. A nil bucket yields a nil notifier.
func NewArchiveNotifier(log *logger.Logger, bucket gcp.ArchiveBucket) RunNotifier {
	if bucket == nil {
		return nil
	}
	return &archiveNotifier{log: log.With("service", "ArchiveNotifier"), bucket: bucket}
}

func (n *archiveNotifier) RunDone(ctx context.Context, run *types.Run, lesson *types.Lesson) {
	if lesson == nil {
		return
	}
	doc, err := json.Marshal(lesson)
	if err != nil {
		n.log.Warn("Archive encode failed", "lesson_id", lesson.ID, "error", err)
		return
	}
	for name, body := range map[string][]byte{
		"lesson.html": []byte(lesson.Content),
		"lesson.json": doc,
	} {
		key := n.bucket.Key(lesson.ID.String(), run.ID.String(), name)
		if err := n.bucket.Upload(ctx, key, "", bytes.NewReader(body)); err != nil {
			n.log.Warn("Archive upload failed", "key", key, "error", err)
		}
	}
}

func (n *archiveNotifier) RunFailed(ctx context.Context, run *types.Run, code string, message string) {}
