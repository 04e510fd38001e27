package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"tgeasy/internal/adapters/telegram"
)

const usage = `tgctl: операции Bot API для администратора.

Использование:
  tgctl [-token T] [-base-url URL] [-timeout 30s] <команда> [аргументы]

Команды:
  me                          профиль бота
  chat <chat_id>              сведения о чате
  admins <chat_id>            администраторы чата
  member <chat_id> <user_id>  статус участника
  count <chat_id>             число участников
  send <chat_id> <text>       отправить сообщение
  webhook-info                состояние вебхука
  webhook-set <url> [secret]  установить вебхук
  webhook-delete [-drop]      удалить вебхук
`

var errUsage = errors.New("неверные аргументы")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		log.Fatal().Err(err).Msg("tgctl: команда не выполнена")
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("tgctl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	token := fs.String("token", os.Getenv("TG_BOT_TOKEN"), "токен бота")
	baseURL := fs.String("base-url", os.Getenv("TG_API_BASE_URL"), "адрес Bot API")
	timeout := fs.Duration("timeout", 30*time.Second, "общий дедлайн команды")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return errUsage
	}
	if strings.TrimSpace(*token) == "" {
		return errors.New("токен не задан: -token или TG_BOT_TOKEN")
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	client := telegram.NewClient(telegram.Config{Token: *token, BaseURL: *baseURL})

	cmd, params := rest[0], rest[1:]
	switch cmd {
	case "me":
		v, err := client.GetMe(ctx)
		return emit(out, v, err)
	case "chat":
		chatID, err := int64Arg(params, 0)
		if err != nil {
			return err
		}
		v, err := client.GetChat(ctx, chatID)
		return emit(out, v, err)
	case "admins":
		chatID, err := int64Arg(params, 0)
		if err != nil {
			return err
		}
		v, err := client.GetChatAdministrators(ctx, chatID)
		return emit(out, v, err)
	case "member":
		chatID, err := int64Arg(params, 0)
		if err != nil {
			return err
		}
		userID, err := int64Arg(params, 1)
		if err != nil {
			return err
		}
		v, err := client.GetChatMember(ctx, chatID, userID)
		return emit(out, v, err)
	case "count":
		chatID, err := int64Arg(params, 0)
		if err != nil {
			return err
		}
		v, err := client.GetChatMemberCount(ctx, chatID)
		return emit(out, v, err)
	case "send":
		chatID, err := int64Arg(params, 0)
		if err != nil {
			return err
		}
		if len(params) < 2 {
			return errUsage
		}
		text := strings.Join(params[1:], " ")
		v, err := client.SendMessage(ctx, chatID, text, telegram.SendOptions{})
		return emit(out, v, err)
	case "webhook-info":
		v, err := client.GetWebhookInfo(ctx)
		return emit(out, v, err)
	case "webhook-set":
		if len(params) == 0 {
			return errUsage
		}
		opts := telegram.WebhookOptions{URL: params[0], AllowedUpdates: []string{"chat_member", "my_chat_member"}}
		if len(params) > 1 {
			opts.SecretToken = params[1]
		}
		if err := client.SetWebhook(ctx, opts); err != nil {
			return err
		}
		_, err := fmt.Fprintln(out, "ok")
		return err
	case "webhook-delete":
		drop := len(params) > 0 && params[0] == "-drop"
		if err := client.DeleteWebhook(ctx, drop); err != nil {
			return err
		}
		_, err := fmt.Fprintln(out, "ok")
		return err
	default:
		return fmt.Errorf("%w: неизвестная команда %q", errUsage, cmd)
	}
}

func int64Arg(params []string, i int) (int64, error) {
	if len(params) <= i {
		return 0, errUsage
	}
	v, err := strconv.ParseInt(params[i], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q не число", errUsage, params[i])
	}
	return v, nil
}

func emit(out io.Writer, v any, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
