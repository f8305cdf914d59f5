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

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var targetLog = false
var proc = false
var unwind = false
var backend = false
var deviceTree = false

var logOut io.WriteCloser

func makeLogger(flag bool, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(flag, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatter()
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.ErrorLevel
	}
	return &logrusLogger{logger}
}

func textFormatter() logrus.Formatter {
	tf := &textFormatterWrapper{&logrus.TextFormatter{DisableColors: true, DisableTimestamp: true}}
	if f, ok := logOut.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		tf.DisableColors = false
	}
	return tf
}

// Target returns true if the target package should log.
func Target() bool {
	return targetLog
}

// TargetLogger returns a logger for tree construction and probing.
func TargetLogger() Logger {
	return makeLogger(targetLog, Fields{"layer": "target"})
}

// Proc returns true if run control should be logged.
func Proc() bool {
	return proc
}

// ProcLogger returns a logger for the proc package.
func ProcLogger() Logger {
	return makeLogger(proc, Fields{"layer": "proc"})
}

// Unwind returns true if every decoded stack frame should be logged.
func Unwind() bool {
	return unwind
}

// UnwindLogger returns a logger for the stack unwinder. Memory read
// failures are always reported, whether or not the layer is enabled.
func UnwindLogger() Logger {
	return makeLogger(unwind, Fields{"layer": "proc", "kind": "unwind"})
}

// Backend returns true if hardware accesses should be logged.
func Backend() bool {
	return backend
}

// BackendLogger returns a logger for the backend packages.
func BackendLogger() Logger {
	return makeLogger(backend, Fields{"layer": "backend"})
}

// DeviceTree returns true if the device-tree reader should log every
// node and property it emits.
func DeviceTree() bool {
	return deviceTree
}

func DeviceTreeLogger() Logger {
	return makeLogger(deviceTree, Fields{"layer": "devicetree"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets logging flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "pdbg-logs")
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
	if logOut != nil {
		log.SetOutput(logOut)
	}
	if logstr == "" {
		logstr = "proc"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch logcmd {
		case "target":
			targetLog = true
		case "proc":
			proc = true
		case "unwind":
			unwind = true
		case "backend":
			backend = true
		case "devicetree":
			deviceTree = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q\n", logcmd)
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

// textFormatterWrapper is a formatter that prefixes every line with the
// layer field, the way the probe's own messages used to look.
type textFormatterWrapper struct {
	*logrus.TextFormatter
}

func (f *textFormatterWrapper) Format(entry *logrus.Entry) ([]byte, error) {
	b, err := f.TextFormatter.Format(entry)
	if err != nil {
		return nil, err
	}
	layer, _ := entry.Data["layer"].(string)
	if layer == "" {
		return b, nil
	}
	out := new(bytes.Buffer)
	out.WriteString(layer)
	out.WriteString(": ")
	out.Write(b)
	return out.Bytes(), nil
}
