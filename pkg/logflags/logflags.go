package logflags

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var units = false
var types = false
var loclist = false
var query = false

var logOut io.WriteCloser

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if !flag {
		return makeLogger(logrus.ErrorLevel, fields)
	}
	return makeLogger(logrus.DebugLevel, fields)
}

// Units returns true if the enumeration of compile units should be logged.
func Units() bool {
	return units
}

// UnitsLogger returns a logger for the unit enumerator.
func UnitsLogger() Logger {
	return makeFlaggableLogger(units, Fields{"layer": "units"})
}

// Types returns true if type resolution failures should be logged.
func Types() bool {
	return types
}

// TypesLogger returns a logger for the type resolver.
func TypesLogger() Logger {
	return makeFlaggableLogger(types, Fields{"layer": "types"})
}

// Loclist returns true if location list resolution should be logged.
func Loclist() bool {
	return loclist
}

// LoclistLogger returns a logger for location list resolution.
func LoclistLogger() Logger {
	return makeFlaggableLogger(loclist, Fields{"layer": "loclist"})
}

// Query returns true if queries against a context should be logged.
func Query() bool {
	return query
}

// QueryLogger returns a logger for context queries.
func QueryLogger() Logger {
	return makeFlaggableLogger(query, Fields{"layer": "query"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the logging flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr string, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "stackvars-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "units"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		// If adding another value, do make sure to
		// update "Help about logging flags" in commands.go.
		switch logcmd {
		case "units":
			units = true
		case "types":
			types = true
		case "loclist":
			loclist = true
		case "query":
			query = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q, run 'stackvars help log' for usage.\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}

// textFormatter is a simplified version of logrus.TextFormatter that
// doesn't make logs unreadable when they are output to a text file or to a
// terminal that doesn't support colors.
type textFormatter struct {
}

var textFormatterInstance = &textFormatter{}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	fmt.Fprintf(b, "%s %s ", entry.Time.Format("2006-01-02T15:04:05Z07:00"), entry.Level)
	for k, v := range entry.Data {
		fmt.Fprintf(b, "%s=%v ", k, v)
	}
	fmt.Fprintf(b, "%s\n", entry.Message)
	return b.Bytes(), nil
}
