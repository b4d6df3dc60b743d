package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"standupbot/internal/standup"
	logx "standupbot/pkg/logx"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		// report json paths ("standup.default_time") instead of Go field names
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
			_, err := ParseDurationField("", fl.Field().String())
			return err == nil
		})
		_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
			_, err := standup.ParseTimeOfDay(fl.Field().String())
			return err == nil
		})
		_ = v.RegisterValidation("weekdays", func(fl validator.FieldLevel) bool {
			_, err := standup.ParseWeekdays(fl.Field().String())
			return err == nil
		})
		_ = v.RegisterValidation("loglevel", func(fl validator.FieldLevel) bool {
			return logx.ParseLevel(fl.Field().String(), zerolog.NoLevel) != zerolog.NoLevel
		})
		validate = v
	})
	return validate
}

// Validate checks field constraints and the cross-field rules the tags cannot
// express. It is used both at startup and before committing a reload.
func Validate(_ context.Context, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := structValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describeFieldError(fe))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if cfg.Logging.Telegram.Enabled && cfg.Telegram.GroupLog == 0 {
		return errors.New("invalid config: logging.telegram.enabled requires telegram.group_log")
	}
	if cfg.Ops.Enabled && strings.TrimSpace(cfg.Ops.Token) == "" && !cfg.Ops.AllowInsecure && !isLoopback(cfg.Ops.Addr) {
		return fmt.Errorf("invalid config: ops.addr %q is not loopback; set ops.token or ops.allow_insecure", cfg.Ops.Addr)
	}
	if _, err := cfg.Standup.Resolve(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	// drop the root struct name ("Config.")
	path := fe.Namespace()
	if _, rest, ok := strings.Cut(path, "."); ok {
		path = rest
	}
	switch fe.Tag() {
	case "required":
		return path + " is required"
	case "required_if":
		return path + " is required when enabled"
	case "duration":
		return fmt.Sprintf("%s: invalid duration %q", path, fe.Value())
	case "hhmm":
		return fmt.Sprintf("%s: expected HH:MM, got %q", path, fe.Value())
	case "weekdays":
		return fmt.Sprintf("%s: invalid weekday expression %q", path, fe.Value())
	case "timezone":
		return fmt.Sprintf("%s: unknown time zone %q", path, fe.Value())
	case "loglevel":
		return fmt.Sprintf("%s: unknown log level %q", path, fe.Value())
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("%s failed %s=%s", path, fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s failed %s", path, fe.Tag())
	}
}

func isLoopback(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return true // default addr
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
