// Package logger пишет логи с префиксом сервиса через асинхронный буфер, чтобы запросы
// и батчевые миграции не блокировались на записи. Умеет логировать длительность вызовов.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

const (
	asyncBufferSize = 8192
	slowCall        = 100 * time.Millisecond
)

type level int

const (
	levelDebug level = iota
	levelInfo
	levelError
)

var (
	mu       sync.RWMutex
	prefix   string
	logLevel = levelInfo
	out      = log.New(os.Stderr, "", log.LstdFlags)
	ch       chan string
	once     sync.Once
	flushed  = make(chan chan struct{})
)

func parseLevel(s string) level {
	switch s {
	case "debug", "trace":
		return levelDebug
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func initWorker() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		SetLevel(v)
	}
	ch = make(chan string, asyncBufferSize)
	go func() {
		for {
			select {
			case msg := <-ch:
				mu.RLock()
				out.Print(msg)
				mu.RUnlock()
			case done := <-flushed:
				drain()
				close(done)
			}
		}
	}()
}

func drain() {
	for {
		select {
		case msg := <-ch:
			mu.RLock()
			out.Print(msg)
			mu.RUnlock()
		default:
			return
		}
	}
}

func enqueue(l level, msg string) {
	once.Do(initWorker)
	mu.RLock()
	skip := l < logLevel
	mu.RUnlock()
	if skip {
		return
	}
	select {
	case ch <- msg:
	default:
		// buffer full: drop rather than block the caller
	}
}

// SetPrefix задаёт префикс для всех последующих логов (например "api", "migrate").
func SetPrefix(p string) {
	mu.Lock()
	prefix = p
	mu.Unlock()
}

// SetLevel меняет уровень: debug, info (по умолчанию) или error.
func SetLevel(s string) {
	mu.Lock()
	logLevel = parseLevel(s)
	mu.Unlock()
}

// SetOutput перенаправляет вывод (используется в тестах).
func SetOutput(w io.Writer) {
	mu.Lock()
	out = log.New(w, "", 0)
	mu.Unlock()
}

// Flush ждёт, пока буфер будет записан. Вызывать перед выходом из процесса.
func Flush() {
	once.Do(initWorker)
	done := make(chan struct{})
	flushed <- done
	<-done
}

func tag() string {
	mu.RLock()
	defer mu.RUnlock()
	if prefix == "" {
		return ""
	}
	return "[" + prefix + "] "
}

func Debugf(format string, v ...any) {
	enqueue(levelDebug, tag()+"DEBUG: "+fmt.Sprintf(format, v...))
}

func Info(v ...any) {
	enqueue(levelInfo, tag()+fmt.Sprint(v...))
}

func Infof(format string, v ...any) {
	enqueue(levelInfo, tag()+fmt.Sprintf(format, v...))
}

func Error(v ...any) {
	enqueue(levelError, tag()+"ERROR: "+fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	enqueue(levelError, tag()+"ERROR: "+fmt.Sprintf(format, v...))
}

// LogDuration логирует имя функции и время выполнения в миллисекундах.
// На уровне info пишутся только вызовы дольше 100ms, на debug — все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	mu.RLock()
	debug := logLevel == levelDebug
	mu.RUnlock()
	if debug || elapsed >= slowCall {
		enqueue(levelInfo, fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration: defer logger.DeferLogDuration("msg.Create", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
