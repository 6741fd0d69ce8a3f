package log

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

type Level zapcore.Level

const (
	DebugLevel = Level(zapcore.DebugLevel)
	InfoLevel  = Level(zapcore.InfoLevel)
	WarnLevel  = Level(zapcore.WarnLevel)
	ErrorLevel = Level(zapcore.ErrorLevel)
	PanicLevel = Level(zapcore.PanicLevel)
	FatalLevel = Level(zapcore.FatalLevel)
)

// ParseLevel maps a config string onto a Level, unknown values fall back to info.
func ParseLevel(text string) Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(text))); err != nil {
		return InfoLevel
	}
	return Level(lvl)
}

type OutputEncoder func(config zapcore.EncoderConfig) zapcore.Encoder

type LevelEncoder zapcore.LevelEncoder

type CallerEncoder zapcore.CallerEncoder

var (
	JsonOutputEncoder    OutputEncoder = zapcore.NewJSONEncoder
	ConsoleOutputEncoder OutputEncoder = zapcore.NewConsoleEncoder

	CapitalLevelEncoder = LevelEncoder(zapcore.CapitalLevelEncoder)
	BracketLevelEncoder = LevelEncoder(func(level zapcore.Level, encoder zapcore.PrimitiveArrayEncoder) {
		encoder.AppendString("[" + level.CapitalString() + "]")
	})

	ShortCallerEncoder = CallerEncoder(zapcore.ShortCallerEncoder)
	FullCallerEncoder  = CallerEncoder(zapcore.FullCallerEncoder)
)

// ParseOutputEncoder accepts "json" or "console".
func ParseOutputEncoder(text string) OutputEncoder {
	if strings.ToLower(text) == "console" {
		return ConsoleOutputEncoder
	}
	return JsonOutputEncoder
}

type Options struct {
	//Is it displayed in standard output and standard error
	stdOutput bool
	//extra sinks, written for every level
	outputs []zapcore.WriteSyncer
	//AddOutput mode,the optional value is JsonOutputEncoder ConsoleOutputEncoder
	outPutEncoder OutputEncoder
	//Log level,the optional value is DebugLevel InfoLevel WarnLevel ErrorLevel FatalLevel PanicLevel
	level Level
	//Report callerEncoder
	callerEncoder CallerEncoder
	//Report levelEncoder
	levelEncoder LevelEncoder
	//Report Warn level stack trace
	stacktrace bool
	//DPanic panics
	development bool
	//time layout
	timeLayout string
	//init the named
	name string
}

func (o *Options) WithStdOutput(stdOutput bool) *Options {
	o.stdOutput = stdOutput
	return o
}

func (o *Options) WithOutput(ws zapcore.WriteSyncer) *Options {
	o.outputs = append(o.outputs, ws)
	return o
}

func (o *Options) WithStacktrace(stacktrace bool) *Options {
	o.stacktrace = stacktrace
	return o
}

func (o *Options) WithDevelopment(development bool) *Options {
	o.development = development
	return o
}

func (o *Options) WithTimeLayout(timeLayout string) *Options {
	o.timeLayout = timeLayout
	return o
}

func (o *Options) WithOutputEncoder(outputEncoder OutputEncoder) *Options {
	o.outPutEncoder = outputEncoder
	return o
}

func (o *Options) WithLevel(level Level) *Options {
	o.level = level
	return o
}

func (o *Options) WithCallerEncoder(callerEncoder CallerEncoder) *Options {
	o.callerEncoder = callerEncoder
	return o
}

func (o *Options) WithLevelEncoder(encoder LevelEncoder) *Options {
	o.levelEncoder = encoder
	return o
}

func (o *Options) WithNamed(name string) *Options {
	o.name = name
	return o
}

// Build creates a standalone logger without touching the global one.
func (o *Options) Build() Logger {
	return build(o)
}

func DefaultOptions() *Options {
	return &Options{level: InfoLevel,
		timeLayout:    "02/Jan/2006:15:04:05 -0700",
		levelEncoder:  BracketLevelEncoder,
		outPutEncoder: JsonOutputEncoder, callerEncoder: nil, stdOutput: true}
}
