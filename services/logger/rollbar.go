// Package logsvc reports to Rollbar and mirrors every entry on a std logger.
package logsvc

import (
	"log"
	"strings"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/user"
)

// RollbarLogger tags its Rollbar items with the component named by the std logger prefix ("API : " is "api").
type RollbarLogger struct {
	std       *log.Logger
	component string
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(conf.RollbarToken != "" && !conf.TestMode)
	return &RollbarLogger{std: std, component: componentOf(std.Prefix())}
}

// Named returns a logger on the same output whose lines start with "NAME : ".
func (l *RollbarLogger) Named(name string) *RollbarLogger {
	prefix := strings.ToUpper(strings.TrimSpace(name)) + " : "
	return &RollbarLogger{
		std:       log.New(l.std.Writer(), prefix, l.std.Flags()),
		component: componentOf(prefix),
	}
}

func (l *RollbarLogger) Component() string {
	return l.component
}

func componentOf(prefix string) string {
	p := strings.TrimSpace(prefix)
	p = strings.TrimSpace(strings.TrimSuffix(p, ":"))
	return strings.ToLower(p)
}

// prepare builds the rollbar arguments.
// expected fmt: msg | error, map[string]interface{}, user.User
// Every map is merged into a single extras map that also carries the component.
func (l *RollbarLogger) prepare(msg string, args []interface{}) []interface{} {
	var usrSet bool
	extras := make(map[string]interface{})
	newArgs := make([]interface{}, 0, len(args)+2)
	newArgs = append(newArgs, msg)
	for _, arg := range args {
		switch a := arg.(type) {
		case user.User:
			if !usrSet { // only set one User
				rollbar.SetPerson(a.ID, a.Username, a.Email)
				usrSet = true
			}
		case map[string]interface{}:
			for k, v := range a {
				extras[k] = v
			}
		default:
			newArgs = append(newArgs, arg)
		}
	}
	if !usrSet {
		rollbar.ClearPerson()
	}
	if l.component != "" {
		extras["component"] = l.component
	}
	if len(extras) > 0 {
		newArgs = append(newArgs, extras)
	}
	return newArgs
}

func (l *RollbarLogger) print(level, msg string, args []interface{}) {
	l.std.Printf("[%s] %s", level, msg)
	for _, arg := range args {
		if usr, ok := arg.(user.User); ok {
			l.std.Printf("user=%s", usr.Username)
			continue
		}
		l.std.Printf("%+v", arg)
	}
}

func (l *RollbarLogger) Debug(msg string, args ...interface{}) {
	rollbar.Debug(l.prepare(msg, args)...)
	l.print("DEBUG", msg, args)
}

func (l *RollbarLogger) Info(msg string, args ...interface{}) {
	rollbar.Info(l.prepare(msg, args)...)
	l.print("INFO", msg, args)
}

func (l *RollbarLogger) Warn(msg string, args ...interface{}) {
	rollbar.Warning(l.prepare(msg, args)...)
	l.print("WARN", msg, args)
}

func (l *RollbarLogger) Error(msg string, args ...interface{}) {
	rollbar.Error(l.prepare(msg, args)...)
	l.print("ERROR", msg, args)
}

func (l *RollbarLogger) Fatal(msg string, args ...interface{}) {
	rollbar.Critical(l.prepare(msg, args)...)
	l.print("FATAL", msg, args)
	rollbar.Wait()
	l.std.Fatal(msg)
}
