package prettylog

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const (
	ansiReset   = "\033[0m"
	ansiBlack   = "\033[30m"
	ansiRed     = "\033[31m"
	ansiGreen   = "\033[32m"
	ansiYellow  = "\033[33m"
	ansiMagenta = "\033[35m"
	ansiCyan    = "\033[36m"
	ansiGray    = "\033[90m"
	ansiBgRed   = "\033[41m"
)

const (
	iconDebug = "⚙"
	iconInfo  = "ℹ"
	iconWarn  = "⚠"
	iconError = "✖"
	iconOK    = "✔"
	iconStart = "◐"
)

// HintKey is a special zap field key used to override the display level style.
const HintKey = "_pl"

const (
	HintSuccess = "success"
	HintStart   = "start"
)

var lastLogTimeMs atomic.Int64

func deltaMs() int64 {
	now := time.Now().UnixMilli()
	prev := lastLogTimeMs.Swap(now)
	if prev == 0 {
		return 0
	}
	return now - prev
}

var bufPool = buffer.NewPool()

// Encoder formats zap log entries in consola-style pretty output for
// development terminals. Structured fields render as key=value pairs.
type Encoder struct {
	color bool
	inner *zapcore.MapObjectEncoder
}

// NewEncoder creates an Encoder. Set color=true for ANSI terminal output.
func NewEncoder(color bool) zapcore.Encoder {
	return &Encoder{color: color, inner: zapcore.NewMapObjectEncoder()}
}

// ShouldColor reports whether terminal colors should be enabled.
func ShouldColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("RF_FORCE_COLOR") != "" {
		return true
	}
	return true
}

func (e *Encoder) Clone() zapcore.Encoder {
	clone := &Encoder{color: e.color, inner: zapcore.NewMapObjectEncoder()}
	for k, v := range e.inner.Fields {
		clone.inner.Fields[k] = v
	}
	return clone
}

func (e *Encoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	buf := bufPool.Get()

	collected := zapcore.NewMapObjectEncoder()
	for k, v := range e.inner.Fields {
		collected.Fields[k] = v
	}
	for _, f := range fields {
		f.AddTo(collected)
	}

	hint := ""
	if v, ok := collected.Fields[HintKey]; ok {
		hint, _ = v.(string)
		delete(collected.Fields, HintKey)
	}

	isBadge := entry.Level >= zapcore.ErrorLevel
	if isBadge {
		buf.AppendByte('\n')
	}

	e.paint(buf, ansiGray, entry.Time.Format("2006-01-02 15:04:05"))
	buf.AppendByte(' ')

	if isBadge {
		label := " " + strings.ToUpper(entry.Level.String()) + " "
		if e.color {
			buf.AppendString(ansiBgRed)
			buf.AppendString(ansiBlack)
			buf.AppendString(label)
			buf.AppendString(ansiReset)
		} else {
			buf.AppendString(label)
		}
	} else {
		icon, iconColor := resolveIcon(entry.Level, hint)
		e.paint(buf, iconColor, icon)
	}
	buf.AppendByte(' ')

	if entry.LoggerName != "" {
		e.paint(buf, ansiYellow, "["+entry.LoggerName+"]")
		buf.AppendByte(' ')
	}

	buf.AppendString(entry.Message)

	keys := make([]string, 0, len(collected.Fields))
	for k := range collected.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf.AppendByte(' ')
		buf.AppendString(k)
		buf.AppendByte('=')
		buf.AppendString(renderValue(collected.Fields[k]))
	}

	if delta := deltaMs(); delta > 0 {
		e.paint(buf, ansiYellow, fmt.Sprintf(" +%dms", delta))
	}

	if isBadge {
		buf.AppendByte('\n')
	}
	buf.AppendByte('\n')
	return buf, nil
}

func (e *Encoder) paint(buf *buffer.Buffer, color, s string) {
	if e.color && color != "" {
		buf.AppendString(color)
		buf.AppendString(s)
		buf.AppendString(ansiReset)
		return
	}
	buf.AppendString(s)
}

func resolveIcon(level zapcore.Level, hint string) (icon string, color string) {
	switch hint {
	case HintSuccess:
		return iconOK, ansiGreen
	case HintStart:
		return iconStart, ansiMagenta
	}
	switch level {
	case zapcore.DebugLevel:
		return iconDebug, ansiGray
	case zapcore.InfoLevel:
		return iconInfo, ansiCyan
	case zapcore.WarnLevel:
		return iconWarn, ansiYellow
	case zapcore.ErrorLevel, zapcore.FatalLevel, zapcore.DPanicLevel, zapcore.PanicLevel:
		return iconError, ansiRed
	default:
		return iconInfo, ansiCyan
	}
}

func renderValue(v interface{}) string {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case time.Duration:
		s = val.String()
	case time.Time:
		s = val.Format(time.RFC3339)
	case error:
		s = val.Error()
	default:
		s = fmt.Sprint(val)
	}
	if needsQuote(s) {
		return strconv.Quote(s)
	}
	return s
}

func needsQuote(s string) bool {
	if s == "" {
		return true
	}
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == ' ' || r == '"' || r == '=' || r == '\n' || r == '\r' || r == '\t' {
			return true
		}
		i += size
	}
	return false
}

// Everything below delegates structured field writes to the map encoder
// so EncodeEntry sees a flat key set.

func (e *Encoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	return e.inner.AddArray(key, arr)
}
func (e *Encoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	return e.inner.AddObject(key, obj)
}
func (e *Encoder) AddBinary(key string, val []byte)          { e.inner.AddBinary(key, val) }
func (e *Encoder) AddByteString(key string, val []byte)      { e.inner.AddByteString(key, val) }
func (e *Encoder) AddBool(key string, val bool)              { e.inner.AddBool(key, val) }
func (e *Encoder) AddComplex128(key string, val complex128)  { e.inner.AddComplex128(key, val) }
func (e *Encoder) AddComplex64(key string, val complex64)    { e.inner.AddComplex64(key, val) }
func (e *Encoder) AddDuration(key string, val time.Duration) { e.inner.AddDuration(key, val) }
func (e *Encoder) AddFloat64(key string, val float64)        { e.inner.AddFloat64(key, val) }
func (e *Encoder) AddFloat32(key string, val float32)        { e.inner.AddFloat32(key, val) }
func (e *Encoder) AddInt(key string, val int)                { e.inner.AddInt(key, val) }
func (e *Encoder) AddInt64(key string, val int64)            { e.inner.AddInt64(key, val) }
func (e *Encoder) AddInt32(key string, val int32)            { e.inner.AddInt32(key, val) }
func (e *Encoder) AddInt16(key string, val int16)            { e.inner.AddInt16(key, val) }
func (e *Encoder) AddInt8(key string, val int8)              { e.inner.AddInt8(key, val) }
func (e *Encoder) AddString(key, val string)                 { e.inner.AddString(key, val) }
func (e *Encoder) AddTime(key string, val time.Time)         { e.inner.AddTime(key, val) }
func (e *Encoder) AddUint(key string, val uint)              { e.inner.AddUint(key, val) }
func (e *Encoder) AddUint64(key string, val uint64)          { e.inner.AddUint64(key, val) }
func (e *Encoder) AddUint32(key string, val uint32)          { e.inner.AddUint32(key, val) }
func (e *Encoder) AddUint16(key string, val uint16)          { e.inner.AddUint16(key, val) }
func (e *Encoder) AddUint8(key string, val uint8)            { e.inner.AddUint8(key, val) }
func (e *Encoder) AddUintptr(key string, val uintptr)        { e.inner.AddUintptr(key, val) }
func (e *Encoder) AddReflected(key string, val interface{}) error {
	return e.inner.AddReflected(key, val)
}
func (e *Encoder) OpenNamespace(key string) { e.inner.OpenNamespace(key) }
