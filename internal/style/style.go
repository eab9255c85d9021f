package style

import (
	"fmt"
	"sort"
	"strings"

	"github.com/heroku/color"
)

// Symbol formats a value for emphasis within log output.
var Symbol = func(value string) string {
	if color.Enabled() {
		return Key(value)
	}
	return "'" + value + "'"
}

// SymbolF formats according to the format specifier then applies Symbol.
var SymbolF = func(format string, a ...interface{}) string {
	if color.Enabled() {
		return Key(format, a...)
	}
	return "'" + fmt.Sprintf(format, a...) + "'"
}

// Map formats a map as sorted key=value pairs joined by separator, every
// pair after the first starting with prefix.
var Map = func(values map[string]string, prefix, separator string) string {
	result := ""

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		result += fmt.Sprintf("%s%s=%s%s", prefix, key, values[key], separator)
	}

	return Symbol(strings.TrimSpace(result))
}

var Key = color.HiBlueString

var Tip = color.New(color.FgGreen, color.Bold).SprintfFunc()

var Warn = color.New(color.FgYellow, color.Bold).SprintfFunc()

var Error = color.New(color.FgRed, color.Bold).SprintfFunc()

var Step = func(format string, a ...interface{}) string {
	return color.CyanString("===> "+format, a...)
}

var Prefix = color.CyanString

var Waiting = color.HiBlackString

var Working = color.HiBlueString

var Complete = color.GreenString

var ProgressBar = color.HiBlueString
